package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Elastic ElasticConfig `mapstructure:"elastic"`
	Grid    GridConfig    `mapstructure:"grid"`
	Upload  UploadConfig  `mapstructure:"upload"`
	JWT     JWTConfig     `mapstructure:"jwt"`
	Workers WorkersConfig `mapstructure:"workers"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// ElasticConfig describes the connection to the document-search backend
// plus the shard and replica counts applied when indices are created.
type ElasticConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Shards   int    `mapstructure:"shards"`
	Replicas int    `mapstructure:"replicas"`
}

// GridConfig describes the remote storage grid the raw imagery files live on.
// The grid is addressed through an S3-compatible endpoint; Zone is the logical
// namespace all collection folders are created under.
type GridConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	Zone            string `mapstructure:"zone"`
}

type UploadConfig struct {
	// MaxFilesPerArchive caps how many files go into one tar archive. One
	// slot is always held back so archives stay under backend ceilings.
	MaxFilesPerArchive int    `mapstructure:"max_files_per_archive"`
	TempDir            string `mapstructure:"temp_dir"`
}

// JWTConfig defines JWT specific configuration for the API surface.
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

type WorkersConfig struct {
	Background int `mapstructure:"background"`
	Immediate  int `mapstructure:"immediate"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Environment variable handling: elastic.url -> ELASTIC_URL etc.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("elastic.url", "http://localhost:9200")
	viper.SetDefault("elastic.shards", 1)
	viper.SetDefault("elastic.replicas", 0)
	viper.SetDefault("grid.zone", "aviary")
	viper.SetDefault("upload.max_files_per_archive", 900)
	viper.SetDefault("jwt.expiration", "1h")
	viper.SetDefault("workers.background", 4)
	viper.SetDefault("workers.immediate", 16)

	err = viper.ReadInConfig()
	// A missing config file is fine, we may be running on env vars alone.
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		err = nil
	} else if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	return config, nil
}
