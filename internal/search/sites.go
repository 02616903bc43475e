package search

import (
	"context"
	"encoding/json"

	"github.com/olivere/elastic/v7"
	"github.com/pkg/errors"

	"github.com/aviarydata/aviary/internal/domain"
	"github.com/aviarydata/aviary/internal/logging"
)

// geoShapePointQuery renders a geo_shape intersects query for a single
// point against the site boundary field. The client library has no
// builder for geo_shape, so the body is assembled directly.
func geoShapePointQuery(pos domain.LatLng) (elastic.Query, error) {
	body := map[string]interface{}{
		"geo_shape": map[string]interface{}{
			"boundary": map[string]interface{}{
				"relation": "intersects",
				"shape": map[string]interface{}{
					"type":        "point",
					"coordinates": []float64{pos.Longitude, pos.Latitude},
				},
			},
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "rendering geo_shape query")
	}
	return elastic.NewRawStringQuery(string(raw)), nil
}

// DetectSites resolves each position to the code of a site whose boundary
// contains it, using one multi-search request for the whole batch. The
// result is parallel to positions: index i holds the site code for
// positions[i], or "" when no site contains it. When several boundaries
// overlap a point an arbitrary one of them wins.
func (c *Client) DetectSites(ctx context.Context, positions []domain.LatLng) ([]string, error) {
	if len(positions) == 0 {
		return nil, nil
	}

	msearch := c.es.MultiSearch()
	for _, pos := range positions {
		q, err := geoShapePointQuery(pos)
		if err != nil {
			return nil, err
		}
		msearch.Add(elastic.NewSearchRequest().
			Index(IndexSites).
			Query(q).
			Size(1).
			FetchSourceContext(elastic.NewFetchSourceContext(true).Include("code")))
	}

	res, err := msearch.Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "site detection")
	}
	if len(res.Responses) != len(positions) {
		return nil, errors.Wrapf(ErrBatchMismatch, "site detection: %d responses for %d positions",
			len(res.Responses), len(positions))
	}

	codes := make([]string, len(positions))
	for i, item := range res.Responses {
		if item.Error != nil {
			return nil, errors.Errorf("site detection: query %d failed: %s", i, item.Error.Reason)
		}
		if item.Hits == nil || len(item.Hits.Hits) == 0 {
			continue
		}
		var site struct {
			Code string `json:"code"`
		}
		if err := json.Unmarshal(item.Hits.Hits[0].Source, &site); err != nil {
			return nil, errors.Wrap(err, "decoding site hit")
		}
		codes[i] = site.Code
	}
	return codes, nil
}

// RefreshSites drops and rebuilds the sites index from the given site
// list. The index is briefly empty during the rebuild; detection calls in
// that window report no site, which is the same answer an unmapped
// position gets.
func (c *Client) RefreshSites(ctx context.Context, sites []domain.Site) error {
	if err := c.RebuildIndex(ctx, IndexSites); err != nil {
		return err
	}
	if len(sites) == 0 {
		return nil
	}

	docs := make([]Document, 0, len(sites))
	for _, site := range sites {
		docs = append(docs, Document{
			ID: site.Code,
			Body: map[string]interface{}{
				"name":     site.Name,
				"code":     site.Code,
				"type":     site.Type,
				"details":  site.Details,
				"boundary": site.Boundary.GeoJSON(),
			},
		})
	}
	if err := c.BulkIndex(ctx, IndexSites, docs); err != nil {
		return errors.Wrap(err, "indexing sites")
	}
	logging.Infof("site index rebuilt with %d sites", len(sites))
	return nil
}
