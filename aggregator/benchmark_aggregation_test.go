package aggregator

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Octogonapus/QueryBenchmark/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoIterationBenchmark registers suite_seq_1 = {q1: q11, q2: q12} and suite_seq_2 = {q1: q21, q2: q22}.
func twoIterationBenchmark(t *testing.T, q11, q12, q21, q22 *QueryResult) *BenchmarkAggregation {
	t.Helper()
	b := NewBenchmarkAggregation(2, []string{"q1", "q2"})
	require.NoError(t, b.RegisterIteration("suite_seq_1", newIteration(t, "suite_seq_1", 2, q11, q12)))
	require.NoError(t, b.RegisterIteration("suite_seq_2", newIteration(t, "suite_seq_2", 2, q21, q22)))
	return b
}

func passingBenchmark(t *testing.T) *BenchmarkAggregation {
	return twoIterationBenchmark(t,
		NewQueryResult("q1", 1.0, report.Metadata{"job_id": "q1_s1_job_id"}),
		NewQueryResult("q2", 2.0, report.Metadata{"job_id": "q2_s1_job_id"}),
		NewQueryResult("q1", 3.0, report.Metadata{"job_id": "q1_s2_job_id"}),
		NewQueryResult("q2", 4.0, nil),
	)
}

func failingBenchmark(t *testing.T) *BenchmarkAggregation {
	return twoIterationBenchmark(t,
		NewQueryResult("q1", 1.0, nil),
		NewQueryResult("q2", 2.0, nil),
		NewQueryResult("q1", 1.0, nil),
		NewQueryResult("q2", FailedQueryTime, nil),
	)
}

func TestRegisterIteration(t *testing.T) {
	b := NewBenchmarkAggregation(2, []string{"q1"})
	require.NoError(t, b.RegisterIteration("suite_seq_1", newIteration(t, "suite_seq_1", 1, NewQueryResult("q1", 1.0, nil))))
	require.NoError(t, b.RegisterIteration("suite_seq_2", newIteration(t, "suite_seq_2", 1, NewQueryResult("q1", 1.0, nil))))
	assert.Equal(t, []string{"suite_seq_1", "suite_seq_2"}, b.IterationIDs())
	assert.Equal(t, 2, b.TargetIterations())

	it, ok := b.Iteration("suite_seq_2")
	require.True(t, ok)
	assert.Equal(t, "suite_seq_2", it.IterationID())
}

func TestRegisterIterationRejectsMismatchedQueries(t *testing.T) {
	tests := []struct {
		name     string
		results  []*QueryResult
		contains []string
	}{
		{
			name:     "missing query",
			results:  []*QueryResult{NewQueryResult("q1", 1.0, nil)},
			contains: []string{"missing: [q2]"},
		},
		{
			name: "unexpected query",
			results: []*QueryResult{
				NewQueryResult("q1", 1.0, nil),
				NewQueryResult("q2", 2.0, nil),
				NewQueryResult("q3", 2.0, nil),
			},
			contains: []string{"unexpected: [q3]"},
		},
		{
			name:     "missing and unexpected",
			results:  []*QueryResult{NewQueryResult("q1", 1.0, nil), NewQueryResult("q3", 2.0, nil)},
			contains: []string{"missing: [q2]", "unexpected: [q3]"},
		},
		{
			name:     "empty iteration",
			results:  nil,
			contains: []string{"missing: [q1, q2]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBenchmarkAggregation(2, []string{"q1", "q2"})
			require.NoError(t, b.RegisterIteration("suite_seq_1", newIteration(t, "suite_seq_1", 2,
				NewQueryResult("q1", 1.0, nil), NewQueryResult("q2", 2.0, nil))))

			err := b.RegisterIteration("suite_seq_2", newIteration(t, "suite_seq_2", 2, tt.results...))
			require.Error(t, err)
			assert.True(t, IsAggregationError(err))
			for _, c := range tt.contains {
				assert.Contains(t, err.Error(), c)
			}
			assert.Equal(t, []string{"suite_seq_1"}, b.IterationIDs())
		})
	}
}

func TestRegisterIterationRejectsDuplicateID(t *testing.T) {
	b := NewBenchmarkAggregation(2, []string{"q1"})
	require.NoError(t, b.RegisterIteration("suite_seq_1", newIteration(t, "suite_seq_1", 1, NewQueryResult("q1", 1.0, nil))))
	err := b.RegisterIteration("suite_seq_1", newIteration(t, "suite_seq_1", 1, NewQueryResult("q1", 9.0, nil)))
	require.Error(t, err)
	assert.True(t, IsAggregationError(err))

	mean, err := b.QueryExecutionTime("q1")
	require.NoError(t, err)
	assert.Equal(t, 1.0, mean)
}

func TestRegisterIterationRejectsNil(t *testing.T) {
	b := NewBenchmarkAggregation(1, []string{"q1"})
	var err error
	assert.NotPanics(t, func() {
		err = b.RegisterIteration("suite_seq_1", nil)
	})
	require.Error(t, err)
	assert.True(t, IsAggregationError(err))
	assert.Contains(t, err.Error(), "suite_seq_1")
	assert.Empty(t, b.IterationIDs())
}

func TestRegisterIterationConcurrently(t *testing.T) {
	b := NewBenchmarkAggregation(50, []string{"q1", "q2"})
	wg := &sync.WaitGroup{}
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("suite_seq_%d", i)
			it := NewSuiteIteration("suite_name", id, 2)
			_ = it.Add(NewQueryResult("q1", float64(i+1), nil))
			_ = it.Add(NewQueryResult("q2", 1.0, nil))
			assert.NoError(t, b.RegisterIteration(id, it))
		}()
	}
	wg.Wait()

	assert.Len(t, b.IterationIDs(), 50)
	mean, err := b.QueryExecutionTime("q1")
	require.NoError(t, err)
	assert.InDelta(t, 25.5, mean, 1e-9)
}

func TestIsSuccessful(t *testing.T) {
	assert.True(t, passingBenchmark(t).IsSuccessful())
	assert.False(t, failingBenchmark(t).IsSuccessful())
	assert.True(t, NewBenchmarkAggregation(2, []string{"q1"}).IsSuccessful())
}

func TestQueryStatus(t *testing.T) {
	t.Run("passing", func(t *testing.T) {
		b := passingBenchmark(t)
		assert.Equal(t, Successful, b.QueryStatus("q1"))
		assert.Equal(t, Successful, b.QueryStatus("q2"))
	})

	t.Run("missing query", func(t *testing.T) {
		b := passingBenchmark(t)
		assert.Equal(t, Failed, b.QueryStatus("qfail"))
	})

	t.Run("failing query", func(t *testing.T) {
		b := failingBenchmark(t)
		assert.Equal(t, Successful, b.QueryStatus("q1"))
		assert.Equal(t, Failed, b.QueryStatus("q2"))
	})

	t.Run("no iterations", func(t *testing.T) {
		b := NewBenchmarkAggregation(2, []string{"q1"})
		assert.Equal(t, Failed, b.QueryStatus("q1"))
	})
}

func TestQueryExecutionTime(t *testing.T) {
	t.Run("passing", func(t *testing.T) {
		b := passingBenchmark(t)
		q1, err := b.QueryExecutionTime("q1")
		require.NoError(t, err)
		assert.Equal(t, (1.0+3.0)/2, q1)
		q2, err := b.QueryExecutionTime("q2")
		require.NoError(t, err)
		assert.Equal(t, (2.0+4.0)/2, q2)
	})

	t.Run("missing query", func(t *testing.T) {
		_, err := passingBenchmark(t).QueryExecutionTime("qfail")
		assert.True(t, IsAggregationError(err))
	})

	t.Run("failing query", func(t *testing.T) {
		b := failingBenchmark(t)
		_, err := b.QueryExecutionTime("q2")
		assert.True(t, IsAggregationError(err))

		q1, err := b.QueryExecutionTime("q1")
		require.NoError(t, err)
		assert.Equal(t, 1.0, q1)
	})

	t.Run("fewer iterations than targeted", func(t *testing.T) {
		b := NewBenchmarkAggregation(5, []string{"q1"})
		require.NoError(t, b.RegisterIteration("suite_seq_1", newIteration(t, "suite_seq_1", 1, NewQueryResult("q1", 4.0, nil))))
		q1, err := b.QueryExecutionTime("q1")
		require.NoError(t, err)
		assert.Equal(t, 4.0, q1)
	})
}

func TestQueryMetadata(t *testing.T) {
	b := passingBenchmark(t)

	q1, err := b.QueryMetadata("q1")
	require.NoError(t, err)
	assert.Equal(t, report.Metadata{
		"suite_seq_1_runtime": 1.0,
		"suite_seq_1_job_id":  "q1_s1_job_id",
		"suite_seq_2_runtime": 3.0,
		"suite_seq_2_job_id":  "q1_s2_job_id",
	}, q1)

	q2, err := b.QueryMetadata("q2")
	require.NoError(t, err)
	assert.Equal(t, report.Metadata{
		"suite_seq_1_runtime": 2.0,
		"suite_seq_1_job_id":  "q2_s1_job_id",
		"suite_seq_2_runtime": 4.0,
	}, q2)

	_, err = b.QueryMetadata("qfail")
	assert.True(t, IsAggregationError(err))

	_, err = failingBenchmark(t).QueryMetadata("q2")
	assert.True(t, IsAggregationError(err))
}

func TestQueryMetadataKeyCollision(t *testing.T) {
	b := NewBenchmarkAggregation(2, []string{"q"})
	require.NoError(t, b.RegisterIteration("a", newIteration(t, "a", 1, NewQueryResult("q", 1.0, report.Metadata{"b_runtime": "x"}))))
	require.NoError(t, b.RegisterIteration("a_b", newIteration(t, "a_b", 1, NewQueryResult("q", 2.0, nil))))

	_, err := b.QueryMetadata("q")
	require.Error(t, err)
	assert.True(t, IsAggregationError(err))
	assert.Contains(t, err.Error(), "a_b_runtime")
	assert.Contains(t, err.Error(), "iteration a and iteration a_b")

	_, err = b.QueryPerformanceSample("q", nil)
	assert.True(t, IsAggregationError(err))

	mean, err := b.QueryExecutionTime("q")
	require.NoError(t, err)
	assert.Equal(t, 1.5, mean)
}

func TestQueryPerformanceSample(t *testing.T) {
	b := passingBenchmark(t)

	s, err := b.QueryPerformanceSample("q1", report.Metadata{"benchmark_name": "b_name"})
	require.NoError(t, err)
	assert.Equal(t, report.MetricAggregatedQueryTime, s.Metric)
	assert.Equal(t, (1.0+3.0)/2, s.Value)
	assert.Equal(t, report.UnitSeconds, s.Unit)
	assert.Equal(t, report.Metadata{
		"suite_seq_1_runtime": 1.0,
		"suite_seq_1_job_id":  "q1_s1_job_id",
		"suite_seq_2_runtime": 3.0,
		"suite_seq_2_job_id":  "q1_s2_job_id",
		"query":               "q1",
		"aggregation_method":  "mean",
		"execution_status":    "successful",
		"benchmark_name":      "b_name",
	}, s.Metadata)

	s, err = b.QueryPerformanceSample("q2", report.Metadata{})
	require.NoError(t, err)
	assert.Equal(t, (2.0+4.0)/2, s.Value)
	assert.Equal(t, report.Metadata{
		"suite_seq_1_runtime": 2.0,
		"suite_seq_1_job_id":  "q2_s1_job_id",
		"suite_seq_2_runtime": 4.0,
		"query":               "q2",
		"aggregation_method":  "mean",
		"execution_status":    "successful",
	}, s.Metadata)

	t.Run("base metadata wins", func(t *testing.T) {
		s, err := b.QueryPerformanceSample("q1", report.Metadata{"aggregation_method": "override"})
		require.NoError(t, err)
		assert.Equal(t, "override", s.Metadata["aggregation_method"])
	})

	t.Run("failing query", func(t *testing.T) {
		_, err := failingBenchmark(t).QueryPerformanceSample("q2", nil)
		assert.True(t, IsAggregationError(err))
	})
}

func TestAllQueryPerformanceSamples(t *testing.T) {
	samples, err := passingBenchmark(t).AllQueryPerformanceSamples(report.Metadata{})
	require.NoError(t, err)
	require.Len(t, samples, 6)

	metrics := []string{}
	for _, s := range samples {
		metrics = append(metrics, s.Metric)
	}
	assert.ElementsMatch(t, []string{
		report.MetricRawQueryTime, report.MetricRawQueryTime, report.MetricRawQueryTime, report.MetricRawQueryTime,
		report.MetricAggregatedQueryTime, report.MetricAggregatedQueryTime,
	}, metrics)

	_, err = failingBenchmark(t).AllQueryPerformanceSamples(report.Metadata{})
	assert.True(t, IsAggregationError(err))
}

func TestAggregatedWallTimeSample(t *testing.T) {
	s, err := passingBenchmark(t).AggregatedWallTimeSample(report.Metadata{"benchmark_name": "b_name"})
	require.NoError(t, err)
	assert.Equal(t, report.MetricAggregatedWallTime, s.Metric)
	assert.Equal(t, (1.0+2.0+3.0+4.0)/2, s.Value)
	assert.Equal(t, report.UnitSeconds, s.Unit)
	assert.Equal(t, report.Metadata{"benchmark_name": "b_name", "aggregation_method": "mean"}, s.Metadata)

	_, err = NewBenchmarkAggregation(2, []string{"q1"}).AggregatedWallTimeSample(nil)
	assert.True(t, IsAggregationError(err))
}

func TestAggregatedWallTimeIncludesFailedQuerySentinel(t *testing.T) {
	wall, err := failingBenchmark(t).AggregatedWallTime()
	require.NoError(t, err)
	assert.Equal(t, ((1.0+2.0)+(1.0+FailedQueryTime))/2, wall)
}

func TestWallTimePerformanceSamples(t *testing.T) {
	samples, err := passingBenchmark(t).WallTimePerformanceSamples(report.Metadata{"benchmark_name": "b_name"})
	require.NoError(t, err)
	require.Len(t, samples, 3)

	raw := report.FilterByMetric(samples, report.MetricRawWallTime)
	require.Len(t, raw, 2)
	assert.ElementsMatch(t, []float64{1.0 + 2.0, 3.0 + 4.0}, []float64{raw[0].Value, raw[1].Value})

	agg := report.FilterByMetric(samples, report.MetricAggregatedWallTime)
	require.Len(t, agg, 1)
	assert.Equal(t, 5.0, agg[0].Value)
}

func TestAggregatedGeomeanSample(t *testing.T) {
	s, err := passingBenchmark(t).AggregatedGeomeanSample(report.Metadata{"benchmark_name": "b_name"})
	require.NoError(t, err)
	expected, err := GeometricMean([]float64{(1.0 + 3.0) / 2, (2.0 + 4.0) / 2})
	require.NoError(t, err)
	assert.Equal(t, report.MetricAggregatedGeomean, s.Metric)
	assert.InDelta(t, expected, s.Value, 1e-12)
	assert.Equal(t, report.UnitSeconds, s.Unit)
	assert.Equal(t, report.Metadata{
		"benchmark_name":                 "b_name",
		"intra_query_aggregation_method": "mean",
		"inter_query_aggregation_method": "geomean",
	}, s.Metadata)

	_, err = failingBenchmark(t).AggregatedGeomeanSample(nil)
	assert.True(t, IsAggregationError(err))
}

func TestGeomeanPerformanceSamples(t *testing.T) {
	samples, err := passingBenchmark(t).GeomeanPerformanceSamples(report.Metadata{"benchmark_name": "b_name"})
	require.NoError(t, err)
	require.Len(t, samples, 3)

	g1, _ := GeometricMean([]float64{1.0, 2.0})
	g2, _ := GeometricMean([]float64{3.0, 4.0})
	raw := report.FilterByMetric(samples, report.MetricRawGeomeanTime)
	require.Len(t, raw, 2)
	assert.InDelta(t, g1, raw[0].Value, 1e-12)
	assert.InDelta(t, g2, raw[1].Value, 1e-12)

	agg := report.FilterByMetric(samples, report.MetricAggregatedGeomean)
	require.Len(t, agg, 1)
	expected, _ := GeometricMean([]float64{2.0, 3.0})
	assert.InDelta(t, expected, agg[0].Value, 1e-12)

	_, err = failingBenchmark(t).GeomeanPerformanceSamples(nil)
	assert.True(t, IsAggregationError(err))
}
