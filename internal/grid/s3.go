package grid

import (
	"context"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/aviarydata/aviary/internal/config"
	"github.com/aviarydata/aviary/internal/logging"
)

// s3Grid implements Connection against an S3-compatible store. Grid
// collections map to key prefixes under the configured zone; the
// three-level access model maps onto object ACL grants.
type s3Grid struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucket        string
	zone          string
}

// Dial returns a DialFunc that opens sessions against the configured grid.
func Dial(cfg config.GridConfig) DialFunc {
	return func(ctx context.Context) (Connection, error) {
		return connect(ctx, cfg)
	}
}

func connect(ctx context.Context, cfg config.GridConfig) (Connection, error) {
	// Custom resolver for S3-compatible endpoints (MinIO, Ceph RGW).
	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.Endpoint != "" {
			return aws.Endpoint{
				PartitionID:   "aws",
				URL:           cfg.Endpoint,
				SigningRegion: cfg.Region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsSDKConfig, err := awsCfg.LoadDefaultConfig(ctx,
		awsCfg.WithRegion(cfg.Region),
		awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		awsCfg.WithEndpointResolverWithOptions(customResolver),
	)
	if err != nil {
		return nil, errors.Wrap(err, "loading grid client config")
	}

	// Path-style addressing is required by most S3-compatible services.
	client := s3.NewFromConfig(awsSDKConfig, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	logging.Info("grid session opened",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("bucket", cfg.BucketName),
		zap.String("zone", cfg.Zone))

	return &s3Grid{
		client:        client,
		presignClient: s3.NewPresignClient(client),
		bucket:        cfg.BucketName,
		zone:          cfg.Zone,
	}, nil
}

// zoneKey roots a grid path under the zone prefix.
func (g *s3Grid) zoneKey(p string) string {
	return path.Join(g.zone, strings.TrimPrefix(p, "/"))
}

func (g *s3Grid) Mkdir(ctx context.Context, dir string) error {
	// Folders are zero-byte marker objects with a trailing slash. Parents
	// need no explicit creation and re-creating a folder just rewrites the
	// marker.
	key := g.zoneKey(dir) + "/"
	_, err := g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "creating grid collection %q", dir)
	}
	return nil
}

func (g *s3Grid) Put(ctx context.Context, localPath, remotePath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return errors.Wrapf(err, "opening %q for transfer", localPath)
	}
	defer f.Close()

	_, err = g.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(g.zoneKey(remotePath)),
		Body:   f,
	})
	if err != nil {
		return errors.Wrapf(err, "transferring %q to grid", remotePath)
	}
	return nil
}

func (g *s3Grid) List(ctx context.Context, prefix string) ([]string, error) {
	zonePrefix := g.zoneKey(prefix)
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(g.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(g.bucket),
		Prefix: aws.String(zonePrefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "listing grid prefix %q", prefix)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			// Strip the zone root and skip folder markers.
			if strings.HasSuffix(key, "/") {
				continue
			}
			keys = append(keys, strings.TrimPrefix(key, g.zone+"/"))
		}
	}
	return keys, nil
}

func (g *s3Grid) SetAccess(ctx context.Context, p, username string, level AccessLevel) error {
	grantee := "id=" + username
	input := &s3.PutObjectAclInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(g.zoneKey(p)),
	}
	switch level {
	case AccessRead:
		input.GrantRead = aws.String(grantee)
	case AccessUpload:
		input.GrantRead = aws.String(grantee)
		input.GrantWrite = aws.String(grantee)
	case AccessOwn:
		input.GrantFullControl = aws.String(grantee)
	default:
		return errors.Errorf("unknown access level %q", level)
	}

	if _, err := g.client.PutObjectAcl(ctx, input); err != nil {
		return errors.Wrapf(err, "granting %s access on %q to %q", level, p, username)
	}
	return nil
}

func (g *s3Grid) DownloadURL(ctx context.Context, remotePath string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = DefaultDownloadExpiry
	}
	req, err := g.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(g.zoneKey(remotePath)),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", errors.Wrapf(err, "presigning download for %q", remotePath)
	}
	return req.URL, nil
}

func (g *s3Grid) Close() error {
	// The SDK client holds no sticky connection state worth tearing down;
	// closing a grid session is bookkeeping only.
	return nil
}
