// Package query assembles heterogeneous filter conditions into one
// structured query against the metadata index. Conditions are independent:
// each contributes zero or more AND-combined clauses, and an empty or unset
// condition contributes nothing at all.
package query

import (
	"sort"
	"time"

	"github.com/olivere/elastic/v7"
)

// Metadata index field names.
const (
	FieldCollectionID = "collectionID"
	FieldDateTaken    = "imageMetadata.dateTaken"
	FieldYearTaken    = "imageMetadata.yearTaken"
	FieldMonthTaken   = "imageMetadata.monthTaken"
	FieldHourTaken    = "imageMetadata.hourTaken"
	FieldDayOfWeek    = "imageMetadata.dayOfWeekTaken"
	FieldSiteCode     = "imageMetadata.siteCode"
	FieldFileType     = "imageMetadata.fileType"
	FieldPosition     = "imageMetadata.position"
	FieldAltitude     = "imageMetadata.altitude"
	FieldElevation    = "imageMetadata.elevation"
)

// Condition is one filter in a composed query. Appending is side-effect
// free on the index and commutative over clause accumulation.
type Condition interface {
	AppendTo(q *Query)
}

// Query accumulates clauses from a list of conditions. Same-kind set
// memberships (collections, months, hours, days, sites, file types) are
// unioned before a single terms clause is emitted at Build, so two
// conditions selecting different collections widen the match instead of
// contradicting each other.
type Query struct {
	collections map[string]struct{}
	months      map[int]struct{}
	hours       map[int]struct{}
	daysOfWeek  map[int]struct{}
	sites       map[string]struct{}
	fileTypes   map[string]struct{}

	clauses []elastic.Query
}

func New() *Query {
	return &Query{
		collections: map[string]struct{}{},
		months:      map[int]struct{}{},
		hours:       map[int]struct{}{},
		daysOfWeek:  map[int]struct{}{},
		sites:       map[string]struct{}{},
		fileTypes:   map[string]struct{}{},
	}
}

// Compose runs every condition in list order and finalizes the query.
func Compose(conditions ...Condition) elastic.Query {
	q := New()
	for _, c := range conditions {
		if c != nil {
			c.AppendTo(q)
		}
	}
	return q.Build()
}

func (q *Query) AddCollection(id string)  { q.collections[id] = struct{}{} }
func (q *Query) AddMonth(month int)       { q.months[month] = struct{}{} }
func (q *Query) AddHour(hour int)         { q.hours[hour] = struct{}{} }
func (q *Query) AddDayOfWeek(day int)     { q.daysOfWeek[day] = struct{}{} }
func (q *Query) AddSite(code string)      { q.sites[code] = struct{}{} }
func (q *Query) AddFileType(kind string)  { q.fileTypes[kind] = struct{}{} }
func (q *Query) Add(clause elastic.Query) { q.clauses = append(q.clauses, clause) }

// SetYearRange constrains the derived year field.
func (q *Query) SetYearRange(start, end int) {
	q.Add(elastic.NewRangeQuery(FieldYearTaken).Gte(start).Lte(end))
}

// SetStartDate requires images taken at or after the instant.
func (q *Query) SetStartDate(start time.Time) {
	q.Add(elastic.NewRangeQuery(FieldDateTaken).Gte(start.Format(time.RFC3339)))
}

// SetEndDate requires images taken at or before the instant.
func (q *Query) SetEndDate(end time.Time) {
	q.Add(elastic.NewRangeQuery(FieldDateTaken).Lte(end.Format(time.RFC3339)))
}

// Build emits the accumulated terms clauses and returns the AND of
// everything. Empty sets emit nothing; clause order never changes the
// result set.
func (q *Query) Build() elastic.Query {
	root := elastic.NewBoolQuery()

	if len(q.collections) > 0 {
		root.Must(elastic.NewTermsQuery(FieldCollectionID, stringTerms(q.collections)...))
	}
	if len(q.months) > 0 {
		root.Must(elastic.NewTermsQuery(FieldMonthTaken, intTerms(q.months)...))
	}
	if len(q.hours) > 0 {
		root.Must(elastic.NewTermsQuery(FieldHourTaken, intTerms(q.hours)...))
	}
	if len(q.daysOfWeek) > 0 {
		root.Must(elastic.NewTermsQuery(FieldDayOfWeek, intTerms(q.daysOfWeek)...))
	}
	if len(q.sites) > 0 {
		root.Must(elastic.NewTermsQuery(FieldSiteCode, stringTerms(q.sites)...))
	}
	if len(q.fileTypes) > 0 {
		root.Must(elastic.NewTermsQuery(FieldFileType, stringTerms(q.fileTypes)...))
	}

	for _, clause := range q.clauses {
		root.Must(clause)
	}
	return root
}

// ClauseCount reports how many clauses Build will emit. Exposed for tests
// and for callers that treat a clauseless query as match-all.
func (q *Query) ClauseCount() int {
	count := len(q.clauses)
	for _, set := range []int{
		len(q.collections), len(q.months), len(q.hours),
		len(q.daysOfWeek), len(q.sites), len(q.fileTypes),
	} {
		if set > 0 {
			count++
		}
	}
	return count
}

// Terms are sorted so the rendered query is deterministic for a given set.
func stringTerms(set map[string]struct{}) []interface{} {
	sorted := make([]string, 0, len(set))
	for v := range set {
		sorted = append(sorted, v)
	}
	sort.Strings(sorted)
	terms := make([]interface{}, 0, len(sorted))
	for _, v := range sorted {
		terms = append(terms, v)
	}
	return terms
}

func intTerms(set map[int]struct{}) []interface{} {
	sorted := make([]int, 0, len(set))
	for v := range set {
		sorted = append(sorted, v)
	}
	sort.Ints(sorted)
	terms := make([]interface{}, 0, len(sorted))
	for _, v := range sorted {
		terms = append(terms, v)
	}
	return terms
}
