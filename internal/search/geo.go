package search

import (
	"context"
	"encoding/json"

	"github.com/olivere/elastic/v7"
	"github.com/pkg/errors"

	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/query"
)

// Geohash precision bounds accepted by the grid aggregation: 1 groups
// images within a few hundred miles, 12 within about a meter.
const (
	MinPrecision = 1
	MaxPrecision = 12
)

// BoundingBox is a map viewport given by its top-left and bottom-right
// corners.
type BoundingBox struct {
	TopLeft     domain.LatLng
	BottomRight domain.LatLng
}

// Clamped returns the box with both corners clamped to valid coordinate
// ranges. Callers should clamp before aggregating; a degenerate map drag
// can push corners past the poles.
func (b BoundingBox) Clamped() BoundingBox {
	clampLat := func(v float64) float64 {
		if v < -90 {
			return -90
		}
		if v > 90 {
			return 90
		}
		return v
	}
	clampLon := func(v float64) float64 {
		if v < -180 {
			return -180
		}
		if v > 180 {
			return 180
		}
		return v
	}
	return BoundingBox{
		TopLeft:     domain.LatLng{Latitude: clampLat(b.TopLeft.Latitude), Longitude: clampLon(b.TopLeft.Longitude)},
		BottomRight: domain.LatLng{Latitude: clampLat(b.BottomRight.Latitude), Longitude: clampLon(b.BottomRight.Longitude)},
	}
}

// GeoBucket is one cell of a geo aggregation: all matching documents in the
// cell summarized by their centroid, a count, and a bounded sample of
// document IDs. Buckets are computed per query and never persisted.
type GeoBucket struct {
	CenterLatitude  float64  `json:"centerLatitude"`
	CenterLongitude float64  `json:"centerLongitude"`
	DocumentCount   int64    `json:"documentCount"`
	SampleIDs       []string `json:"sampleIDs"`
}

const (
	aggBounded   = "bounded"
	aggCells     = "cells"
	aggCenterLat = "centerLat"
	aggCenterLon = "centerLon"
	aggDocuments = "documents"
)

// GeoAggregate buckets every image matching filter inside box into a
// geohash grid at the given precision, returning one GeoBucket per
// non-empty cell. sampleSize caps how many document IDs each bucket
// carries. No document bodies are fetched; the search runs aggregation
// only.
func (c *Client) GeoAggregate(ctx context.Context, box BoundingBox, precision int, filter elastic.Query, sampleSize int) ([]GeoBucket, error) {
	if precision < MinPrecision {
		precision = MinPrecision
	}
	if precision > MaxPrecision {
		precision = MaxPrecision
	}
	if filter == nil {
		filter = elastic.NewMatchAllQuery()
	}

	cells := elastic.NewGeoHashGridAggregation().
		Field(query.FieldPosition).
		Precision(precision).
		SubAggregation(aggCenterLat,
			elastic.NewAvgAggregation().Script(elastic.NewScript("doc['"+query.FieldPosition+"'].lat"))).
		SubAggregation(aggCenterLon,
			elastic.NewAvgAggregation().Script(elastic.NewScript("doc['"+query.FieldPosition+"'].lon"))).
		SubAggregation(aggDocuments,
			elastic.NewTopHitsAggregation().Size(sampleSize).FetchSource(false))

	bounded := elastic.NewFilterAggregation().
		Filter(elastic.NewGeoBoundingBoxQuery(query.FieldPosition).
			TopLeft(box.TopLeft.Latitude, box.TopLeft.Longitude).
			BottomRight(box.BottomRight.Latitude, box.BottomRight.Longitude)).
		SubAggregation(aggCells, cells)

	res, err := c.es.Search(IndexMetadata).
		Query(filter).
		Size(0).
		Aggregation(aggBounded, bounded).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "geo aggregation")
	}

	return decodeGeoBuckets(res)
}

func decodeGeoBuckets(res *elastic.SearchResult) ([]GeoBucket, error) {
	boundedAgg, ok := res.Aggregations.Filter(aggBounded)
	if !ok {
		return nil, errors.New("geo aggregation: missing bounding filter in response")
	}
	grid, ok := boundedAgg.Aggregations.GeoHash(aggCells)
	if !ok {
		return nil, errors.New("geo aggregation: missing grid cells in response")
	}

	buckets := make([]GeoBucket, 0, len(grid.Buckets))
	for _, cell := range grid.Buckets {
		lat, latOK := cell.Aggregations.Avg(aggCenterLat)
		lon, lonOK := cell.Aggregations.Avg(aggCenterLon)
		// A cell without a computed centroid is a transient partial
		// result, not an error; skip it.
		if !latOK || !lonOK || lat.Value == nil || lon.Value == nil {
			continue
		}

		bucket := GeoBucket{
			CenterLatitude:  *lat.Value,
			CenterLongitude: *lon.Value,
			DocumentCount:   cell.DocCount,
		}
		if hits, ok := cell.Aggregations.TopHits(aggDocuments); ok && hits.Hits != nil {
			for _, hit := range hits.Hits.Hits {
				bucket.SampleIDs = append(bucket.SampleIDs, hit.Id)
			}
		}
		buckets = append(buckets, bucket)
	}
	return buckets, nil
}

// BucketDocuments fetches the sampled documents of one bucket for display.
func (c *Client) BucketDocuments(ctx context.Context, bucket GeoBucket) ([]domain.ImageDocument, error) {
	if len(bucket.SampleIDs) == 0 {
		return nil, nil
	}
	ids := make([]string, len(bucket.SampleIDs))
	copy(ids, bucket.SampleIDs)

	res, err := c.es.Search(IndexMetadata).
		Query(elastic.NewIdsQuery().Ids(ids...)).
		Size(len(ids)).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "bucket document lookup")
	}

	docs := make([]domain.ImageDocument, 0, len(res.Hits.Hits))
	for _, hit := range res.Hits.Hits {
		var doc domain.ImageDocument
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return nil, errors.Wrap(err, "decoding image document")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
