package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviarydata/aviary/internal/domain"
)

func scrollPage(scrollID string, ids ...string) string {
	hits := make([]map[string]interface{}, 0, len(ids))
	for _, id := range ids {
		hits = append(hits, map[string]interface{}{
			"_index":  "collections",
			"_id":     id,
			"_source": map[string]interface{}{"id": id},
		})
	}
	page, _ := json.Marshal(map[string]interface{}{
		"_scroll_id": scrollID,
		"took":       1,
		"timed_out":  false,
		"hits": map[string]interface{}{
			"total": map[string]interface{}{"value": 3, "relation": "eq"},
			"hits":  hits,
		},
	})
	return string(page)
}

func TestScanWalksEveryPageAndReleasesTheScroll(t *testing.T) {
	var searches, cleared int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			require.Equal(t, "/_search/scroll", r.URL.Path)
			cleared++
			writeJSON(t, w, http.StatusOK, `{"succeeded": true, "num_freed": 1}`)
			return
		}

		searches++
		switch searches {
		case 1:
			require.Equal(t, "/collections/_search", r.URL.Path)
			writeJSON(t, w, http.StatusOK, scrollPage("sc-1", "col-1", "col-2"))
		case 2:
			require.Equal(t, "/_search/scroll", r.URL.Path)
			writeJSON(t, w, http.StatusOK, scrollPage("sc-2", "col-3"))
		default:
			require.Equal(t, "/_search/scroll", r.URL.Path)
			writeJSON(t, w, http.StatusOK, scrollPage("sc-3"))
		}
	}))

	ctx := context.Background()
	scan := c.ScanAll(IndexCollections, 2, nil)

	var ids []string
	for scan.Next(ctx) {
		ids = append(ids, scan.ID())
		assert.NotEmpty(t, scan.Document())
	}
	require.NoError(t, scan.Err())
	require.NoError(t, scan.Close(ctx))

	assert.Equal(t, []string{"col-1", "col-2", "col-3"}, ids)
	assert.Equal(t, 3, searches)
	assert.Equal(t, 1, cleared)
}

func TestScanRoundTripsImageDocument(t *testing.T) {
	original := domain.NewImageDocument(
		"/collections/col-1/uploads/2024.06.01.12.00.00 casey/survey/flight/DJI_0042.JPG",
		"col-1",
		domain.ImageRecord{
			AbsolutePath: "/tmp/DJI_0042.JPG",
			RelativePath: "flight/DJI_0042.JPG",
			DateTaken:    time.Date(2024, time.June, 1, 9, 30, 15, 0, time.UTC),
			Position:     domain.Position{Latitude: 40.015, Longitude: -105.27, Elevation: 1624.5},
			DroneMaker:   "DJI",
			CameraModel:  "FC3682",
			Speed:        domain.Vector3{X: 1.2, Y: -0.4, Z: 0.1},
			Rotation:     domain.Rotation{Roll: 0.5, Pitch: -12.8, Yaw: 181.3},
			Altitude:     61.1,
			FileType:     "JPG",
			FocalLength:  4.5,
			Width:        4000,
			Height:       3000,
			SiteCodes:    []string{"ALPHA"},
		},
	)

	source, err := json.Marshal(original)
	require.NoError(t, err)

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			writeJSON(t, w, http.StatusOK, `{"succeeded": true, "num_freed": 1}`)
			return
		}
		if r.URL.Path == "/metadata/_search" {
			page := fmt.Sprintf(`{
				"_scroll_id": "sc-1",
				"hits": {"total": {"value": 1, "relation": "eq"}, "hits": [
					{"_index": "metadata", "_id": "img-1", "_source": %s}
				]}
			}`, source)
			writeJSON(t, w, http.StatusOK, page)
			return
		}
		writeJSON(t, w, http.StatusOK, scrollPage("sc-2"))
	}))

	ctx := context.Background()
	scan := c.ScanAll(IndexMetadata, 10, nil)
	defer scan.Close(ctx)

	require.True(t, scan.Next(ctx))
	var decoded domain.ImageDocument
	require.NoError(t, json.Unmarshal(scan.Document(), &decoded))
	require.False(t, scan.Next(ctx))
	require.NoError(t, scan.Err())

	assert.Equal(t, original, decoded)
	assert.Equal(t, "40.015000,-105.270000", decoded.Metadata.Position)
	assert.Equal(t, 2024, decoded.Metadata.YearTaken)
	assert.Equal(t, 6, decoded.Metadata.MonthTaken)
	assert.Equal(t, 9, decoded.Metadata.HourTaken)
	assert.Equal(t, 153, decoded.Metadata.DayOfYearTaken)
	assert.Equal(t, 7, decoded.Metadata.DayOfWeekTaken)
}

func TestScanAbandonedEarlyStillReleases(t *testing.T) {
	var cleared int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			cleared++
			writeJSON(t, w, http.StatusOK, `{"succeeded": true, "num_freed": 1}`)
			return
		}
		writeJSON(t, w, http.StatusOK, scrollPage("sc-1", "col-1", "col-2"))
	}))

	ctx := context.Background()
	scan := c.ScanAll(IndexCollections, 2, nil)
	require.True(t, scan.Next(ctx))
	require.NoError(t, scan.Close(ctx))
	assert.Equal(t, 1, cleared)
}
