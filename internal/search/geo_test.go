package search

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviarydata/aviary/internal/domain"
)

func TestBoundingBoxClamped(t *testing.T) {
	box := BoundingBox{
		TopLeft:     domain.LatLng{Latitude: 120, Longitude: -240},
		BottomRight: domain.LatLng{Latitude: -95, Longitude: 185},
	}

	clamped := box.Clamped()
	assert.Equal(t, 90.0, clamped.TopLeft.Latitude)
	assert.Equal(t, -180.0, clamped.TopLeft.Longitude)
	assert.Equal(t, -90.0, clamped.BottomRight.Latitude)
	assert.Equal(t, 180.0, clamped.BottomRight.Longitude)

	inRange := BoundingBox{
		TopLeft:     domain.LatLng{Latitude: 40, Longitude: -107},
		BottomRight: domain.LatLng{Latitude: 38, Longitude: -106},
	}
	assert.Equal(t, inRange, inRange.Clamped())
}

const geoAggResponse = `{
	"took": 12,
	"timed_out": false,
	"hits": {"total": {"value": 7, "relation": "eq"}, "hits": []},
	"aggregations": {
		"bounded": {
			"doc_count": 7,
			"cells": {
				"buckets": [
					{
						"key": "9xj5",
						"doc_count": 4,
						"centerLat": {"value": 38.91},
						"centerLon": {"value": -106.94},
						"documents": {"hits": {"total": {"value": 4, "relation": "eq"}, "hits": [
							{"_index": "metadata", "_id": "img-1"},
							{"_index": "metadata", "_id": "img-2"}
						]}}
					},
					{
						"key": "9xj7",
						"doc_count": 2,
						"centerLat": {"value": null},
						"centerLon": {"value": null},
						"documents": {"hits": {"total": {"value": 0, "relation": "eq"}, "hits": []}}
					},
					{
						"key": "9xjh",
						"doc_count": 1,
						"centerLat": {"value": 39.02},
						"centerLon": {"value": -107.01},
						"documents": {"hits": {"total": {"value": 1, "relation": "eq"}, "hits": [
							{"_index": "metadata", "_id": "img-9"}
						]}}
					}
				]
			}
		}
	}
}`

func TestGeoAggregateDecodesBuckets(t *testing.T) {
	var request map[string]interface{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/metadata/_search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		writeJSON(t, w, http.StatusOK, geoAggResponse)
	}))

	box := BoundingBox{
		TopLeft:     domain.LatLng{Latitude: 40, Longitude: -108},
		BottomRight: domain.LatLng{Latitude: 38, Longitude: -106},
	}
	buckets, err := c.GeoAggregate(context.Background(), box, 4, nil, 2)
	require.NoError(t, err)

	// The null-centroid cell is dropped.
	require.Len(t, buckets, 2)
	assert.Equal(t, 38.91, buckets[0].CenterLatitude)
	assert.Equal(t, -106.94, buckets[0].CenterLongitude)
	assert.EqualValues(t, 4, buckets[0].DocumentCount)
	assert.Equal(t, []string{"img-1", "img-2"}, buckets[0].SampleIDs)
	assert.Equal(t, []string{"img-9"}, buckets[1].SampleIDs)

	// Aggregation-only search: no document bodies.
	assert.EqualValues(t, 0, request["size"])
}

func TestGeoAggregateClampsPrecision(t *testing.T) {
	var request map[string]interface{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		writeJSON(t, w, http.StatusOK, `{
			"took": 1, "timed_out": false,
			"hits": {"total": {"value": 0, "relation": "eq"}, "hits": []},
			"aggregations": {"bounded": {"doc_count": 0, "cells": {"buckets": []}}}
		}`)
	})

	requestedPrecision := func() float64 {
		aggs := request["aggregations"].(map[string]interface{})
		bounded := aggs["bounded"].(map[string]interface{})
		cells := bounded["aggregations"].(map[string]interface{})["cells"].(map[string]interface{})
		grid := cells["geohash_grid"].(map[string]interface{})
		return grid["precision"].(float64)
	}

	c := newTestClient(t, handler)
	_, err := c.GeoAggregate(context.Background(), BoundingBox{}, 40, nil, 1)
	require.NoError(t, err)
	assert.EqualValues(t, MaxPrecision, requestedPrecision())

	_, err = c.GeoAggregate(context.Background(), BoundingBox{}, 0, nil, 1)
	require.NoError(t, err)
	assert.EqualValues(t, MinPrecision, requestedPrecision())
}

func TestBucketDocuments(t *testing.T) {
	var request map[string]interface{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/metadata/_search", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&request))
		writeJSON(t, w, http.StatusOK, `{
			"took": 2, "timed_out": false,
			"hits": {"total": {"value": 1, "relation": "eq"}, "hits": [
				{"_index": "metadata", "_id": "img-1", "_source": {
					"storagePath": "/collections/col-1/uploads/u1/DJI_0001.JPG",
					"collectionID": "col-1",
					"imageMetadata": {"fileType": "JPG", "position": "38.91,-106.94"}
				}}
			]}
		}`)
	}))

	docs, err := c.BucketDocuments(context.Background(), GeoBucket{SampleIDs: []string{"img-1"}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "col-1", docs[0].CollectionID)
	assert.Equal(t, "JPG", docs[0].Metadata.FileType)
}

func TestBucketDocumentsEmptySample(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
	}))

	docs, err := c.BucketDocuments(context.Background(), GeoBucket{})
	require.NoError(t, err)
	assert.Nil(t, docs)
}
