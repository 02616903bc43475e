package query

import (
	"github.com/olivere/elastic/v7"
)

// Operator is a numeric comparison applied by altitude and elevation
// conditions.
type Operator string

const (
	OpEqual          Operator = "="
	OpGreater        Operator = ">"
	OpGreaterOrEqual Operator = ">="
	OpLess           Operator = "<"
	OpLessOrEqual    Operator = "<="
)

// Clause builds the query clause comparing field against value.
func (o Operator) Clause(field string, value float64) elastic.Query {
	switch o {
	case OpGreater:
		return elastic.NewRangeQuery(field).Gt(value)
	case OpGreaterOrEqual:
		return elastic.NewRangeQuery(field).Gte(value)
	case OpLess:
		return elastic.NewRangeQuery(field).Lt(value)
	case OpLessOrEqual:
		return elastic.NewRangeQuery(field).Lte(value)
	default:
		return elastic.NewTermQuery(field, value)
	}
}
