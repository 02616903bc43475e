package query

import (
	"strconv"
	"strings"
	"time"

	"github.com/olivere/elastic/v7"

	"github.com/aviarydata/aviary/internal/domain"
)

const feetPerMeter = 3.28084

// parseDistance reads user-entered distance text and converts it to meters.
// Malformed input falls back to 0; validation is advisory at the UI level,
// not a precondition of the engine.
func parseDistance(text string, unit domain.DistanceUnit) float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		value = 0
	}
	if unit == domain.UnitFeet {
		value = value / feetPerMeter
	}
	return value
}

// AltitudeCondition filters on altitude above ground. The value arrives as
// raw text in the configured unit.
type AltitudeCondition struct {
	Text     string
	Operator Operator
	Unit     domain.DistanceUnit
}

func (c AltitudeCondition) AppendTo(q *Query) {
	if strings.TrimSpace(c.Text) == "" {
		return
	}
	q.Add(c.Operator.Clause(FieldAltitude, parseDistance(c.Text, c.Unit)))
}

// ElevationCondition filters on ground elevation above sea level.
type ElevationCondition struct {
	Text     string
	Operator Operator
	Unit     domain.DistanceUnit
}

func (c ElevationCondition) AppendTo(q *Query) {
	if strings.TrimSpace(c.Text) == "" {
		return
	}
	q.Add(c.Operator.Clause(FieldElevation, parseDistance(c.Text, c.Unit)))
}

// DateRangeCondition bounds the capture instant. A zero Start or End means
// that side is unbounded.
type DateRangeCondition struct {
	Start time.Time
	End   time.Time
}

func (c DateRangeCondition) AppendTo(q *Query) {
	if !c.Start.IsZero() {
		q.SetStartDate(c.Start)
	}
	if !c.End.IsZero() {
		q.SetEndDate(c.End)
	}
}

// YearRangeCondition bounds the derived capture year.
type YearRangeCondition struct {
	Start int
	End   int
}

func (c YearRangeCondition) AppendTo(q *Query) {
	if c.Start == 0 && c.End == 0 {
		return
	}
	clause := elastic.NewRangeQuery(FieldYearTaken)
	if c.Start != 0 {
		clause.Gte(c.Start)
	}
	if c.End != 0 {
		clause.Lte(c.End)
	}
	q.Add(clause)
}

// MonthCondition selects capture months (1-12). No selection, no clause.
type MonthCondition struct {
	Months []time.Month
}

func (c MonthCondition) AppendTo(q *Query) {
	for _, m := range c.Months {
		q.AddMonth(int(m))
	}
}

// HourCondition selects capture hours of the day (0-23).
type HourCondition struct {
	Hours []int
}

func (c HourCondition) AppendTo(q *Query) {
	for _, h := range c.Hours {
		q.AddHour(h)
	}
}

// DayOfWeekCondition selects capture days (1=Sunday .. 7=Saturday).
type DayOfWeekCondition struct {
	Days []int
}

func (c DayOfWeekCondition) AppendTo(q *Query) {
	for _, d := range c.Days {
		q.AddDayOfWeek(d)
	}
}

// FileTypeCondition selects file type keywords.
type FileTypeCondition struct {
	Types []string
}

func (c FileTypeCondition) AppendTo(q *Query) {
	for _, t := range c.Types {
		q.AddFileType(t)
	}
}

// CollectionCondition selects collections by ID.
type CollectionCondition struct {
	IDs []string
}

func (c CollectionCondition) AppendTo(q *Query) {
	for _, id := range c.IDs {
		q.AddCollection(id)
	}
}

// SiteCondition selects research sites by code.
type SiteCondition struct {
	Codes []string
}

func (c SiteCondition) AppendTo(q *Query) {
	for _, code := range c.Codes {
		q.AddSite(code)
	}
}

// BoxCondition bounds results to a user-drawn rectangle given by its four
// corner points. Anything other than exactly 4 corners contributes no
// clause, which covers half-drawn boxes without producing a never-matching
// query.
type BoxCondition struct {
	Corners []domain.LatLng
}

func (c BoxCondition) AppendTo(q *Query) {
	if len(c.Corners) != 4 {
		return
	}
	minLat, maxLat := c.Corners[0].Latitude, c.Corners[0].Latitude
	minLon, maxLon := c.Corners[0].Longitude, c.Corners[0].Longitude
	for _, corner := range c.Corners[1:] {
		if corner.Latitude < minLat {
			minLat = corner.Latitude
		}
		if corner.Latitude > maxLat {
			maxLat = corner.Latitude
		}
		if corner.Longitude < minLon {
			minLon = corner.Longitude
		}
		if corner.Longitude > maxLon {
			maxLon = corner.Longitude
		}
	}
	q.Add(elastic.NewGeoBoundingBoxQuery(FieldPosition).
		TopLeft(maxLat, minLon).
		BottomRight(minLat, maxLon))
}

// PolygonCondition bounds results to a user-drawn polygon. Fewer than 3
// points cannot close a polygon and contribute nothing.
type PolygonCondition struct {
	Points []domain.LatLng
}

func (c PolygonCondition) AppendTo(q *Query) {
	if len(c.Points) < 3 {
		return
	}
	clause := elastic.NewGeoPolygonQuery(FieldPosition)
	for _, pt := range c.Points {
		clause.AddPoint(pt.Latitude, pt.Longitude)
	}
	q.Add(clause)
}

// ViewportCondition bounds results to the currently visible map region.
type ViewportCondition struct {
	TopLeft     domain.LatLng
	BottomRight domain.LatLng
}

func (c ViewportCondition) AppendTo(q *Query) {
	if c.TopLeft == c.BottomRight {
		return
	}
	q.Add(elastic.NewGeoBoundingBoxQuery(FieldPosition).
		TopLeft(c.TopLeft.Latitude, c.TopLeft.Longitude).
		BottomRight(c.BottomRight.Latitude, c.BottomRight.Longitude))
}
