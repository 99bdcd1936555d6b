package sensors

import (
	"cmp"
	"fmt"
	"strings"

	"github.com/c360/edgestreams/errors"
)

// BoundType says whether a range endpoint is part of the range.
type BoundType int

const (
	// Closed includes the endpoint
	Closed BoundType = iota
	// Open excludes the endpoint
	Open
)

// Range is an interval over an ordered type. A nil endpoint is unbounded.
type Range[T cmp.Ordered] struct {
	lower, upper         *T
	lowerType, upperType BoundType
}

// NewRange creates the range between lower and upper with the given
// endpoint types. lower must not exceed upper, and an empty open range
// such as (v..v) is rejected.
func NewRange[T cmp.Ordered](lower T, lowerType BoundType, upper T, upperType BoundType) (Range[T], error) {
	if lower > upper {
		return Range[T]{}, errors.WrapInvalid(fmt.Errorf("%w: lower %v exceeds upper %v", errors.ErrInvalidConfig, lower, upper),
			"Range", "NewRange", "validate endpoints")
	}
	if lower == upper && (lowerType == Open || upperType == Open) {
		return Range[T]{}, errors.WrapInvalid(fmt.Errorf("%w: empty range at %v", errors.ErrInvalidConfig, lower),
			"Range", "NewRange", "validate endpoints")
	}
	return Range[T]{lower: &lower, upper: &upper, lowerType: lowerType, upperType: upperType}, nil
}

// ClosedRange is [lower..upper]. It panics if lower exceeds upper.
func ClosedRange[T cmp.Ordered](lower, upper T) Range[T] {
	r, err := NewRange(lower, Closed, upper, Closed)
	if err != nil {
		panic(err)
	}
	return r
}

// AtLeast is [lower..*).
func AtLeast[T cmp.Ordered](lower T) Range[T] {
	return Range[T]{lower: &lower, lowerType: Closed}
}

// GreaterThan is (lower..*).
func GreaterThan[T cmp.Ordered](lower T) Range[T] {
	return Range[T]{lower: &lower, lowerType: Open}
}

// AtMost is (*..upper].
func AtMost[T cmp.Ordered](upper T) Range[T] {
	return Range[T]{upper: &upper, upperType: Closed}
}

// LessThan is (*..upper).
func LessThan[T cmp.Ordered](upper T) Range[T] {
	return Range[T]{upper: &upper, upperType: Open}
}

// Contains reports whether v lies in the range.
func (r Range[T]) Contains(v T) bool {
	if r.lower != nil {
		if c := cmp.Compare(v, *r.lower); c < 0 || (c == 0 && r.lowerType == Open) {
			return false
		}
	}
	if r.upper != nil {
		if c := cmp.Compare(v, *r.upper); c > 0 || (c == 0 && r.upperType == Open) {
			return false
		}
	}
	return true
}

// Lower returns the lower endpoint, false when unbounded.
func (r Range[T]) Lower() (T, bool) {
	if r.lower == nil {
		var zero T
		return zero, false
	}
	return *r.lower, true
}

// Upper returns the upper endpoint, false when unbounded.
func (r Range[T]) Upper() (T, bool) {
	if r.upper == nil {
		var zero T
		return zero, false
	}
	return *r.upper, true
}

// String renders the range as "[2..5)", "(*..7]" and so on.
func (r Range[T]) String() string {
	var b strings.Builder
	if r.lower == nil || r.lowerType == Open {
		b.WriteByte('(')
	} else {
		b.WriteByte('[')
	}
	if r.lower == nil {
		b.WriteByte('*')
	} else {
		fmt.Fprint(&b, *r.lower)
	}
	b.WriteString("..")
	if r.upper == nil {
		b.WriteByte('*')
	} else {
		fmt.Fprint(&b, *r.upper)
	}
	if r.upper == nil || r.upperType == Open {
		b.WriteByte(')')
	} else {
		b.WriteByte(']')
	}
	return b.String()
}

// InBand adapts the range to a deadband predicate.
func (r Range[T]) InBand() func(T) bool {
	return r.Contains
}
