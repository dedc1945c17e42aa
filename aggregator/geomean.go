package aggregator

import "math"

// GeometricMean returns the nth root of the product of values.
// All values must be positive; the failed query sentinel is rejected like any other negative value.
func GeometricMean(values []float64) (float64, error) {
	if len(values) == 0 {
		return 0, newAggregationError("geometric mean of no values")
	}
	logSum := 0.0
	for _, v := range values {
		if v == 0 {
			return 0, newAggregationError("geometric mean over values containing zero")
		}
		if v < 0 {
			return 0, newAggregationError("geometric mean over values containing a negative value (%g)", v)
		}
		logSum += math.Log(v)
	}
	return math.Exp(logSum / float64(len(values))), nil
}
