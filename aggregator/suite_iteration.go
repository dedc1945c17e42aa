package aggregator

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/Octogonapus/QueryBenchmark/report"
)

// SuiteIteration holds the query results of one run of a benchmark suite.
// It is populated by the benchmark driver and becomes read-only once it is registered.
type SuiteIteration struct {
	suiteName          string
	iterationID        string
	expectedQueryCount int
	results            map[string]*QueryResult
	order              []string
	frozen             atomic.Bool
}

func NewSuiteIteration(suiteName string, iterationID string, expectedQueryCount int) *SuiteIteration {
	return &SuiteIteration{
		suiteName:          suiteName,
		iterationID:        iterationID,
		expectedQueryCount: expectedQueryCount,
		results:            map[string]*QueryResult{},
	}
}

func (s *SuiteIteration) SuiteName() string {
	return s.suiteName
}

func (s *SuiteIteration) IterationID() string {
	return s.iterationID
}

// ExpectedQueryCount is the number of queries the iteration was supposed to run. It may exceed Len.
func (s *SuiteIteration) ExpectedQueryCount() int {
	return s.expectedQueryCount
}

func (s *SuiteIteration) Len() int {
	return len(s.results)
}

func (s *SuiteIteration) Add(q *QueryResult) error {
	if s.frozen.Load() {
		return newAggregationError("iteration %s of suite %s is registered and can't take a result for query %s", s.iterationID, s.suiteName, q.Name())
	}
	if _, ok := s.results[q.Name()]; ok {
		return newAggregationError("iteration %s of suite %s already has a result for query %s", s.iterationID, s.suiteName, q.Name())
	}
	s.results[q.Name()] = q
	s.order = append(s.order, q.Name())
	return nil
}

func (s *SuiteIteration) freeze() {
	s.frozen.Store(true)
}

func (s *SuiteIteration) Has(name string) bool {
	_, ok := s.results[name]
	return ok
}

func (s *SuiteIteration) Get(name string) (*QueryResult, error) {
	q, ok := s.results[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s in iteration %s", ErrQueryNotFound, name, s.iterationID)
	}
	return q, nil
}

// IsQuerySuccessful reports false for queries that have no result.
func (s *SuiteIteration) IsQuerySuccessful(name string) bool {
	q, ok := s.results[name]
	return ok && q.IsSuccessful()
}

// IsSuccessful is true iff every added result succeeded. Completeness is not checked here.
func (s *SuiteIteration) IsSuccessful() bool {
	for _, q := range s.results {
		if !q.IsSuccessful() {
			return false
		}
	}
	return true
}

func (s *SuiteIteration) SuccessfulCount() int {
	n := 0
	for _, q := range s.results {
		if q.IsSuccessful() {
			n++
		}
	}
	return n
}

// QueryNames returns the names of all added results, sorted.
func (s *SuiteIteration) QueryNames() []string {
	names := make([]string, 0, len(s.results))
	for name := range s.results {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// QuerySamples returns one raw_query_time sample per result, in insertion order.
func (s *SuiteIteration) QuerySamples(base report.Metadata) []report.Sample {
	out := make([]report.Sample, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.results[name].Sample(base))
	}
	return out
}

// WallTime sums the elapsed time of every result. Failed queries contribute FailedQueryTime.
func (s *SuiteIteration) WallTime() float64 {
	sum := 0.0
	for _, name := range s.order {
		sum += s.results[name].ElapsedSec()
	}
	return sum
}

func (s *SuiteIteration) WallTimeSample(base report.Metadata) report.Sample {
	return report.NewSample(report.MetricRawWallTime, s.WallTime(), report.UnitSeconds, base.Clone())
}

func (s *SuiteIteration) GeomeanSample(base report.Metadata) (report.Sample, error) {
	values := make([]float64, 0, len(s.order))
	for _, name := range s.order {
		values = append(values, s.results[name].ElapsedSec())
	}
	geomean, err := GeometricMean(values)
	if err != nil {
		return report.Sample{}, fmt.Errorf("geomean of iteration %s: %w", s.iterationID, err)
	}
	return report.NewSample(report.MetricRawGeomeanTime, geomean, report.UnitSeconds, base.Clone()), nil
}
