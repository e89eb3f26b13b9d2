package eventsourcing

import (
	"fmt"
	"reflect"
)

// MatchOperator compares a metadata value with a condition value.
type MatchOperator string

const (
	OpEquals            MatchOperator = "="
	OpNotEquals         MatchOperator = "!="
	OpGreaterThan       MatchOperator = ">"
	OpGreaterThanEquals MatchOperator = ">="
	OpLowerThan         MatchOperator = "<"
	OpLowerThanEquals   MatchOperator = "<="
)

// MetadataCondition is a single metadata filter.
type MetadataCondition struct {
	Key      string
	Operator MatchOperator
	Value    any
}

// MetadataMatcher selects events whose metadata satisfies every condition.
// A nil matcher matches everything.
type MetadataMatcher []MetadataCondition

// With returns a new matcher with an extra condition.
func (m MetadataMatcher) With(key string, op MatchOperator, value any) MetadataMatcher {
	next := make(MetadataMatcher, 0, len(m)+1)
	next = append(next, m...)
	return append(next, MetadataCondition{Key: key, Operator: op, Value: value})
}

// Matches reports whether metadata satisfies all conditions.
func (m MetadataMatcher) Matches(metadata Metadata) bool {
	for _, c := range m {
		actual, ok := metadata[c.Key]
		if !ok {
			return false
		}
		if !c.matches(actual) {
			return false
		}
	}
	return true
}

func (c MetadataCondition) matches(actual any) bool {
	// Numbers are compared numerically whatever their decoded type.
	a, aErr := numeric(actual)
	b, bErr := numeric(c.Value)
	if aErr == nil && bErr == nil {
		switch c.Operator {
		case OpEquals:
			return a == b
		case OpNotEquals:
			return a != b
		case OpGreaterThan:
			return a > b
		case OpGreaterThanEquals:
			return a >= b
		case OpLowerThan:
			return a < b
		case OpLowerThanEquals:
			return a <= b
		}
		return false
	}

	switch c.Operator {
	case OpEquals:
		return equalValues(actual, c.Value)
	case OpNotEquals:
		return !equalValues(actual, c.Value)
	}

	as, aok := actual.(string)
	bs, bok := c.Value.(string)
	if !aok || !bok {
		return false
	}
	switch c.Operator {
	case OpGreaterThan:
		return as > bs
	case OpGreaterThanEquals:
		return as >= bs
	case OpLowerThan:
		return as < bs
	case OpLowerThanEquals:
		return as <= bs
	}
	return false
}

func numeric(v any) (int64, error) {
	if _, ok := v.(string); ok {
		return 0, fmt.Errorf("string is not numeric")
	}
	return ToInt64(v)
}

func equalValues(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
