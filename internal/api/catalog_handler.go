package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/query"
	"github.com/aviarydata/aviary/internal/search"
	"github.com/aviarydata/aviary/internal/service"
)

// CatalogHandler exposes query, geo aggregation, and site maintenance.
type CatalogHandler struct {
	catalog service.CatalogService
}

func NewCatalogHandler(catalog service.CatalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// --- Request/Response Structs ---

type LatLngDTO struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p LatLngDTO) toDomain() domain.LatLng {
	return domain.LatLng{Latitude: p.Latitude, Longitude: p.Longitude}
}

// NumericFilter carries one altitude or elevation comparison as the user
// typed it.
type NumericFilter struct {
	Value    string `json:"value"`
	Operator string `json:"operator"`
	Unit     string `json:"unit"`
}

// QueryRequest is the JSON form of a composed filter query. Every field is
// optional; an empty request matches everything.
type QueryRequest struct {
	Collections []string `json:"collections"`
	Sites       []string `json:"sites"`
	FileTypes   []string `json:"fileTypes"`
	Months      []int    `json:"months"`
	Hours       []int    `json:"hours"`
	DaysOfWeek  []int    `json:"daysOfWeek"`

	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
	StartYear int        `json:"startYear"`
	EndYear   int        `json:"endYear"`

	Altitude  *NumericFilter `json:"altitude"`
	Elevation *NumericFilter `json:"elevation"`

	Box     []LatLngDTO `json:"box"`
	Polygon []LatLngDTO `json:"polygon"`

	Limit int `json:"limit"`
}

func (r QueryRequest) conditions() []query.Condition {
	var months []time.Month
	for _, m := range r.Months {
		months = append(months, time.Month(m))
	}

	conditions := []query.Condition{
		query.CollectionCondition{IDs: r.Collections},
		query.SiteCondition{Codes: r.Sites},
		query.FileTypeCondition{Types: r.FileTypes},
		query.MonthCondition{Months: months},
		query.HourCondition{Hours: r.Hours},
		query.DayOfWeekCondition{Days: r.DaysOfWeek},
		query.YearRangeCondition{Start: r.StartYear, End: r.EndYear},
	}

	var dates query.DateRangeCondition
	if r.StartDate != nil {
		dates.Start = *r.StartDate
	}
	if r.EndDate != nil {
		dates.End = *r.EndDate
	}
	conditions = append(conditions, dates)

	if r.Altitude != nil {
		conditions = append(conditions, query.AltitudeCondition{
			Text:     r.Altitude.Value,
			Operator: query.Operator(r.Altitude.Operator),
			Unit:     domain.DistanceUnit(r.Altitude.Unit),
		})
	}
	if r.Elevation != nil {
		conditions = append(conditions, query.ElevationCondition{
			Text:     r.Elevation.Value,
			Operator: query.Operator(r.Elevation.Operator),
			Unit:     domain.DistanceUnit(r.Elevation.Unit),
		})
	}

	if len(r.Box) > 0 {
		corners := make([]domain.LatLng, 0, len(r.Box))
		for _, p := range r.Box {
			corners = append(corners, p.toDomain())
		}
		conditions = append(conditions, query.BoxCondition{Corners: corners})
	}
	if len(r.Polygon) > 0 {
		points := make([]domain.LatLng, 0, len(r.Polygon))
		for _, p := range r.Polygon {
			points = append(points, p.toDomain())
		}
		conditions = append(conditions, query.PolygonCondition{Points: points})
	}

	return conditions
}

type GeoBucketsRequest struct {
	QueryRequest
	TopLeft     LatLngDTO `json:"topLeft"`
	BottomRight LatLngDTO `json:"bottomRight"`
	Precision   int       `json:"precision"`
	SampleSize  int       `json:"sampleSize"`
}

// --- Handler Methods ---

// Query runs a composed filter query against the metadata index.
func (h *CatalogHandler) Query(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	docs, err := h.catalog.QueryImages(c.Request.Context(), req.Limit, req.conditions()...)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Query failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(docs), "images": docs})
}

// GeoBuckets aggregates matching imagery into map cells.
func (h *CatalogHandler) GeoBuckets(c *gin.Context) {
	var req GeoBucketsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	box := search.BoundingBox{
		TopLeft:     req.TopLeft.toDomain(),
		BottomRight: req.BottomRight.toDomain(),
	}
	buckets, err := h.catalog.GeoBuckets(c.Request.Context(), box, req.Precision, req.SampleSize, req.conditions()...)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Aggregation failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"buckets": buckets})
}

// BucketImages fetches the sampled documents of one aggregation bucket.
func (h *CatalogHandler) BucketImages(c *gin.Context) {
	var bucket search.GeoBucket
	if err := c.ShouldBindJSON(&bucket); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	docs, err := h.catalog.BucketImages(c.Request.Context(), bucket)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Lookup failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": docs})
}

// DetectSites maps positions onto research site codes.
func (h *CatalogHandler) DetectSites(c *gin.Context) {
	var req struct {
		Positions []LatLngDTO `json:"positions" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	positions := make([]domain.LatLng, 0, len(req.Positions))
	for _, p := range req.Positions {
		positions = append(positions, p.toDomain())
	}

	codes, err := h.catalog.DetectSites(c.Request.Context(), positions)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Site detection failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"siteCodes": codes})
}

// RefreshSites queues a rebuild of the sites index from the posted site
// list. The rebuild runs on a background worker.
func (h *CatalogHandler) RefreshSites(c *gin.Context) {
	var req struct {
		Sites []domain.Site `json:"sites" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Sprintf("Validation error: %v", err))
		return
	}

	if err := h.catalog.RefreshSites(c.Request.Context(), req.Sites); err != nil {
		abortWithError(c, http.StatusServiceUnavailable, "Site refresh could not be queued")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": len(req.Sites)})
}

// DownloadURL hands out a short-lived grid link for one stored file.
func (h *CatalogHandler) DownloadURL(c *gin.Context) {
	storagePath := c.Query("path")
	if storagePath == "" {
		abortWithError(c, http.StatusBadRequest, "path query parameter is required")
		return
	}

	url, err := h.catalog.ImageDownloadURL(c.Request.Context(), storagePath)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "Could not generate download link")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
