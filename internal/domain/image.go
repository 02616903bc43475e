package domain

import (
	"fmt"
	"time"
)

// Vector3 holds a three axis reading reported by the drone at capture time.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Rotation holds the drone's attitude at capture time, in degrees.
type Rotation struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Position is a geographic point plus elevation in meters above sea level.
type Position struct {
	Latitude  float64
	Longitude float64
	Elevation float64
}

// GeoPointString renders the position in the "lat,lon" format the metadata
// index stores geo_point fields in.
func (p Position) GeoPointString() string {
	return fmt.Sprintf("%f,%f", p.Latitude, p.Longitude)
}

// ImageMetadata is the nested metadata block of an indexed image document.
// The derived time fields (year, month, hour, day of year, day of week) are
// denormalized from DateTaken so categorical filters stay cheap server side.
type ImageMetadata struct {
	DateTaken      time.Time `json:"dateTaken"`
	YearTaken      int       `json:"yearTaken"`
	MonthTaken     int       `json:"monthTaken"`
	HourTaken      int       `json:"hourTaken"`
	DayOfYearTaken int       `json:"dayOfYearTaken"`
	DayOfWeekTaken int       `json:"dayOfWeekTaken"`
	SiteCodes      []string  `json:"siteCode"`
	Position       string    `json:"position"`
	Elevation      float64   `json:"elevation"`
	DroneMaker     string    `json:"droneMaker"`
	CameraModel    string    `json:"cameraModel"`
	Speed          Vector3   `json:"speed"`
	Rotation       Rotation  `json:"rotation"`
	Altitude       float64   `json:"altitude"`
	FileType       string    `json:"fileType"`
	FocalLength    float64   `json:"focalLength"`
	Width          float64   `json:"width"`
	Height         float64   `json:"height"`
}

// ImageDocument is one record in the metadata index, one per image or video
// file. Created at upload time and immutable afterwards except through the
// collection level upload record update.
type ImageDocument struct {
	StoragePath  string        `json:"storagePath"`
	CollectionID string        `json:"collectionID"`
	Metadata     ImageMetadata `json:"imageMetadata"`
}

// ImageRecord is the parsed on-disk metadata for one local file awaiting
// upload. Metadata extraction itself happens outside this module; the record
// is what the extractor hands us.
type ImageRecord struct {
	// AbsolutePath of the file on the local disk.
	AbsolutePath string
	// RelativePath of the file under the top level folder being uploaded,
	// using the local OS separator.
	RelativePath string

	DateTaken   time.Time
	Position    Position
	DroneMaker  string
	CameraModel string
	Speed       Vector3
	Rotation    Rotation
	// Altitude above ground in meters.
	Altitude    float64
	FileType    string
	FocalLength float64
	Width       float64
	Height      float64
	SiteCodes   []string
}

// NewImageDocument builds the indexable document for one image record. The
// storage path is the file's final location on the remote grid; the derived
// calendar fields are computed here so every writer agrees on them.
func NewImageDocument(storagePath, collectionID string, rec ImageRecord) ImageDocument {
	taken := rec.DateTaken.UTC()
	return ImageDocument{
		StoragePath:  storagePath,
		CollectionID: collectionID,
		Metadata: ImageMetadata{
			DateTaken:      taken,
			YearTaken:      taken.Year(),
			MonthTaken:     int(taken.Month()),
			HourTaken:      taken.Hour(),
			DayOfYearTaken: taken.YearDay(),
			DayOfWeekTaken: int(taken.Weekday()) + 1,
			SiteCodes:      rec.SiteCodes,
			Position:       rec.Position.GeoPointString(),
			Elevation:      rec.Position.Elevation,
			DroneMaker:     rec.DroneMaker,
			CameraModel:    rec.CameraModel,
			Speed:          rec.Speed,
			Rotation:       rec.Rotation,
			Altitude:       rec.Altitude,
			FileType:       rec.FileType,
			FocalLength:    rec.FocalLength,
			Width:          rec.Width,
			Height:         rec.Height,
		},
	}
}
