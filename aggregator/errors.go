package aggregator

import (
	"errors"
	"fmt"
)

var ErrQueryNotFound = errors.New("query not found")

// AggregationError is returned whenever results are inconsistent or a statistic can't be computed from them.
type AggregationError struct {
	Msg string
}

func (e *AggregationError) Error() string {
	return "aggregation failed: " + e.Msg
}

func newAggregationError(format string, args ...any) *AggregationError {
	return &AggregationError{Msg: fmt.Sprintf(format, args...)}
}

func IsAggregationError(err error) bool {
	var e *AggregationError
	return errors.As(err, &e)
}
