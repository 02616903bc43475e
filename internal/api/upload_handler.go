package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/service"
	"github.com/aviarydata/aviary/internal/upload"
)

// UploadHandler launches and tracks bulk uploads. The engine runs on the
// machine holding the source imagery, so records reference local paths.
type UploadHandler struct {
	uploads     service.UploadService
	collections service.CollectionService
}

func NewUploadHandler(uploads service.UploadService, collections service.CollectionService) *UploadHandler {
	return &UploadHandler{uploads: uploads, collections: collections}
}

// ImageRecordDTO is the JSON form of one local file queued for upload.
type ImageRecordDTO struct {
	AbsolutePath string    `json:"absolutePath" binding:"required"`
	RelativePath string    `json:"relativePath" binding:"required"`
	DateTaken    time.Time `json:"dateTaken"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	Elevation    float64   `json:"elevation"`
	Altitude     float64   `json:"altitude"`
	DroneMaker   string    `json:"droneMaker"`
	CameraModel  string    `json:"cameraModel"`
	FileType     string    `json:"fileType"`
	FocalLength  float64   `json:"focalLength"`
	Width        float64   `json:"width"`
	Height       float64   `json:"height"`
	SiteCodes    []string  `json:"siteCodes"`
}

func (d ImageRecordDTO) toDomain() domain.ImageRecord {
	return domain.ImageRecord{
		AbsolutePath: d.AbsolutePath,
		RelativePath: d.RelativePath,
		DateTaken:    d.DateTaken,
		Position: domain.Position{
			Latitude:  d.Latitude,
			Longitude: d.Longitude,
			Elevation: d.Elevation,
		},
		Altitude:    d.Altitude,
		DroneMaker:  d.DroneMaker,
		CameraModel: d.CameraModel,
		FileType:    d.FileType,
		FocalLength: d.FocalLength,
		Width:       d.Width,
		Height:      d.Height,
		SiteCodes:   d.SiteCodes,
	}
}

type LaunchUploadRequest struct {
	CollectionID string           `json:"collectionID" binding:"required"`
	TopFolder    string           `json:"topFolder" binding:"required"`
	Records      []ImageRecordDTO `json:"records" binding:"required"`
}

// Launch queues an upload pipeline and returns its tracking ID.
func (h *UploadHandler) Launch(c *gin.Context) {
	username, err := getUsernameFromContext(c)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Failed to identify caller")
		return
	}

	var req LaunchUploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	col, err := h.collections.Get(c.Request.Context(), req.CollectionID)
	if err != nil {
		if errors.Is(err, service.ErrCollectionNotFound) {
			abortWithError(c, http.StatusNotFound, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Could not load collection")
		}
		return
	}

	records := make([]domain.ImageRecord, 0, len(req.Records))
	for _, dto := range req.Records {
		records = append(records, dto.toDomain())
	}

	id, err := h.uploads.Launch(c.Request.Context(), *col, username, req.TopFolder, records)
	if err != nil {
		if errors.Is(err, upload.ErrNoUploadPermission) {
			abortWithError(c, http.StatusForbidden, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, fmt.Sprintf("Could not launch upload: %v", err))
		}
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"uploadID": id})
}

// Status reports the state of one launched upload.
func (h *UploadHandler) Status(c *gin.Context) {
	status, err := h.uploads.Status(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrUploadNotFound) {
			abortWithError(c, http.StatusNotFound, err.Error())
		} else {
			abortWithError(c, http.StatusInternalServerError, "Could not load upload status")
		}
		return
	}
	c.JSON(http.StatusOK, status)
}
