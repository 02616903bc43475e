package search

import (
	"context"
	"encoding/json"
	"io"

	"github.com/olivere/elastic/v7"
	"github.com/pkg/errors"
)

// Scan is a lazy, finite, non-restartable pass over every document a query
// matches, fetched page by page through a server-side scroll context. The
// consumer must call Close whether it drains the scan or abandons it early,
// or the scroll context leaks on the backend until it times out.
type Scan struct {
	svc  *elastic.ScrollService
	hits []*elastic.SearchHit
	pos  int
	done bool
	err  error
}

// ScanAll opens a scrolled scan over index with pageSize documents per
// fetch. A nil query scans everything.
func (c *Client) ScanAll(index string, pageSize int, query elastic.Query) *Scan {
	if query == nil {
		query = elastic.NewMatchAllQuery()
	}
	svc := c.es.Scroll(index).Size(pageSize).Query(query)
	return &Scan{svc: svc}
}

// Next advances to the next document, fetching the next page when the
// current one is exhausted. It returns false at the end of the result set
// or on error; check Err afterwards.
func (s *Scan) Next(ctx context.Context) bool {
	if s.done || s.err != nil {
		return false
	}
	s.pos++
	if s.pos < len(s.hits) {
		return true
	}

	res, err := s.svc.Do(ctx)
	if err == io.EOF {
		s.done = true
		return false
	}
	if err != nil {
		s.err = errors.Wrap(err, "scrolled scan")
		return false
	}
	s.hits = res.Hits.Hits
	s.pos = 0
	if len(s.hits) == 0 {
		s.done = true
		return false
	}
	return true
}

// Document returns the raw source of the current document.
func (s *Scan) Document() json.RawMessage {
	return s.hits[s.pos].Source
}

// ID returns the backend ID of the current document.
func (s *Scan) ID() string {
	return s.hits[s.pos].Id
}

// Err reports the first error the scan hit, if any.
func (s *Scan) Err() error {
	return s.err
}

// Close releases the server-side scroll context. Safe to call after normal
// exhaustion and after abandoning the scan mid-way.
func (s *Scan) Close(ctx context.Context) error {
	err := s.svc.Clear(ctx)
	if err != nil && err != io.EOF {
		return errors.Wrap(err, "clearing scroll")
	}
	return nil
}
