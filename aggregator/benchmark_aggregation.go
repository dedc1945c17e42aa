package aggregator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Octogonapus/QueryBenchmark/report"
)

// BenchmarkAggregation owns every iteration of one benchmark run and computes cross-iteration statistics.
// RegisterIteration may be called concurrently with itself and with the read methods.
type BenchmarkAggregation struct {
	mu               sync.RWMutex
	expectedQueries  []string
	expectedSet      map[string]struct{}
	targetIterations int
	iterations       map[string]*SuiteIteration
	order            []string
}

func NewBenchmarkAggregation(targetIterations int, expectedQueries []string) *BenchmarkAggregation {
	expectedSet := make(map[string]struct{}, len(expectedQueries))
	queries := make([]string, 0, len(expectedQueries))
	for _, q := range expectedQueries {
		if _, ok := expectedSet[q]; ok {
			continue
		}
		expectedSet[q] = struct{}{}
		queries = append(queries, q)
	}
	return &BenchmarkAggregation{
		expectedQueries:  queries,
		expectedSet:      expectedSet,
		targetIterations: targetIterations,
		iterations:       map[string]*SuiteIteration{},
	}
}

func (b *BenchmarkAggregation) ExpectedQueries() []string {
	return append([]string(nil), b.expectedQueries...)
}

// TargetIterations is informational. Aggregation runs over whatever has been registered.
func (b *BenchmarkAggregation) TargetIterations() int {
	return b.targetIterations
}

// RegisterIteration stores the iteration under id. The iteration must report exactly the expected queries.
func (b *BenchmarkAggregation) RegisterIteration(id string, it *SuiteIteration) error {
	if it == nil {
		return newAggregationError("iteration %s is nil", id)
	}
	var missing, unexpected []string
	for _, q := range b.expectedQueries {
		if !it.Has(q) {
			missing = append(missing, q)
		}
	}
	for _, q := range it.QueryNames() {
		if _, ok := b.expectedSet[q]; !ok {
			unexpected = append(unexpected, q)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		return newAggregationError("iteration %s does not match the expected queries (missing: [%s], unexpected: [%s])",
			id, strings.Join(missing, ", "), strings.Join(unexpected, ", "))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.iterations[id]; ok {
		return newAggregationError("iteration %s is already registered", id)
	}
	it.freeze()
	b.iterations[id] = it
	b.order = append(b.order, id)
	return nil
}

// IterationIDs returns the registered iteration ids in registration order.
func (b *BenchmarkAggregation) IterationIDs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

func (b *BenchmarkAggregation) Iteration(id string) (*SuiteIteration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	it, ok := b.iterations[id]
	return it, ok
}

func (b *BenchmarkAggregation) IsSuccessful() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, it := range b.iterations {
		if !it.IsSuccessful() {
			return false
		}
	}
	return true
}

// QueryStatus is Successful only if the query succeeded in every registered iteration.
// Unknown queries, or a benchmark with no iterations, report Failed.
func (b *BenchmarkAggregation) QueryStatus(name string) ExecutionStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queryStatus(name)
}

func (b *BenchmarkAggregation) queryStatus(name string) ExecutionStatus {
	if len(b.order) == 0 {
		return Failed
	}
	for _, id := range b.order {
		if !b.iterations[id].IsQuerySuccessful(name) {
			return Failed
		}
	}
	return Successful
}

// QueryExecutionTime is the mean elapsed time of the query across iterations.
func (b *BenchmarkAggregation) QueryExecutionTime(name string) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queryExecutionTime(name)
}

func (b *BenchmarkAggregation) queryExecutionTime(name string) (float64, error) {
	if b.queryStatus(name) != Successful {
		return 0, newAggregationError("can't aggregate execution time of query %s: it is missing or failed in at least one iteration", name)
	}
	sum := 0.0
	for _, id := range b.order {
		q, _ := b.iterations[id].Get(name)
		sum += q.ElapsedSec()
	}
	return sum / float64(len(b.order)), nil
}

// QueryMetadata merges the per-iteration runtime and metadata of the query. Keys are prefixed by iteration id.
func (b *BenchmarkAggregation) QueryMetadata(name string) (report.Metadata, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queryMetadata(name)
}

func (b *BenchmarkAggregation) queryMetadata(name string) (report.Metadata, error) {
	if b.queryStatus(name) != Successful {
		return nil, newAggregationError("can't aggregate metadata of query %s: it is missing or failed in at least one iteration", name)
	}
	md := report.Metadata{}
	owners := map[string]string{} // key -> iteration that wrote it
	set := func(id string, key string, v any) error {
		if owner, ok := owners[key]; ok {
			return newAggregationError("metadata key %s of query %s is written by both iteration %s and iteration %s", key, name, owner, id)
		}
		owners[key] = id
		md[key] = v
		return nil
	}
	for _, id := range b.order {
		q, _ := b.iterations[id].Get(name)
		err := set(id, id+"_runtime", q.ElapsedSec())
		if err != nil {
			return nil, err
		}
		for k, v := range q.Metadata() {
			err = set(id, id+"_"+k, v)
			if err != nil {
				return nil, err
			}
		}
	}
	return md, nil
}

// QueryPerformanceSample returns the aggregated_query_time sample of the query. Base keys win.
func (b *BenchmarkAggregation) QueryPerformanceSample(name string, base report.Metadata) (report.Sample, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.queryPerformanceSample(name, base)
}

func (b *BenchmarkAggregation) queryPerformanceSample(name string, base report.Metadata) (report.Sample, error) {
	value, err := b.queryExecutionTime(name)
	if err != nil {
		return report.Sample{}, err
	}
	iterMD, err := b.queryMetadata(name)
	if err != nil {
		return report.Sample{}, err
	}
	md := report.MergeMetadata(
		iterMD,
		report.Metadata{
			"query":              name,
			"aggregation_method": "mean",
			"execution_status":   string(b.queryStatus(name)),
		},
		base,
	)
	return report.NewSample(report.MetricAggregatedQueryTime, value, report.UnitSeconds, md), nil
}

// AllQueryPerformanceSamples returns every raw query sample plus one aggregated sample per expected query.
func (b *BenchmarkAggregation) AllQueryPerformanceSamples(base report.Metadata) ([]report.Sample, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := []report.Sample{}
	for _, id := range b.order {
		out = append(out, b.iterations[id].QuerySamples(base)...)
	}
	for _, q := range b.expectedQueries {
		s, err := b.queryPerformanceSample(q, base)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// AggregatedWallTime is the mean of the iteration wall times.
func (b *BenchmarkAggregation) AggregatedWallTime() (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.aggregatedWallTime()
}

func (b *BenchmarkAggregation) aggregatedWallTime() (float64, error) {
	if len(b.order) == 0 {
		return 0, newAggregationError("can't aggregate wall time without any registered iteration")
	}
	sum := 0.0
	for _, id := range b.order {
		sum += b.iterations[id].WallTime()
	}
	return sum / float64(len(b.order)), nil
}

func (b *BenchmarkAggregation) AggregatedWallTimeSample(base report.Metadata) (report.Sample, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.aggregatedWallTimeSample(base)
}

func (b *BenchmarkAggregation) aggregatedWallTimeSample(base report.Metadata) (report.Sample, error) {
	value, err := b.aggregatedWallTime()
	if err != nil {
		return report.Sample{}, err
	}
	md := report.MergeMetadata(report.Metadata{"aggregation_method": "mean"}, base)
	return report.NewSample(report.MetricAggregatedWallTime, value, report.UnitSeconds, md), nil
}

// WallTimePerformanceSamples returns the raw wall time sample of every iteration plus the aggregated one.
func (b *BenchmarkAggregation) WallTimePerformanceSamples(base report.Metadata) ([]report.Sample, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := []report.Sample{}
	for _, id := range b.order {
		out = append(out, b.iterations[id].WallTimeSample(base))
	}
	s, err := b.aggregatedWallTimeSample(base)
	if err != nil {
		return nil, err
	}
	return append(out, s), nil
}

// AggregatedGeomean is the geometric mean, across expected queries, of each query's mean execution time.
func (b *BenchmarkAggregation) AggregatedGeomean() (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.aggregatedGeomean()
}

func (b *BenchmarkAggregation) aggregatedGeomean() (float64, error) {
	means := make([]float64, 0, len(b.expectedQueries))
	for _, q := range b.expectedQueries {
		mean, err := b.queryExecutionTime(q)
		if err != nil {
			return 0, fmt.Errorf("aggregated geomean: %w", err)
		}
		means = append(means, mean)
	}
	return GeometricMean(means)
}

func (b *BenchmarkAggregation) AggregatedGeomeanSample(base report.Metadata) (report.Sample, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.aggregatedGeomeanSample(base)
}

func (b *BenchmarkAggregation) aggregatedGeomeanSample(base report.Metadata) (report.Sample, error) {
	value, err := b.aggregatedGeomean()
	if err != nil {
		return report.Sample{}, err
	}
	md := report.MergeMetadata(
		report.Metadata{
			"intra_query_aggregation_method": "mean",
			"inter_query_aggregation_method": "geomean",
		},
		base,
	)
	return report.NewSample(report.MetricAggregatedGeomean, value, report.UnitSeconds, md), nil
}

// GeomeanPerformanceSamples returns the raw geomean sample of every iteration plus the aggregated one.
func (b *BenchmarkAggregation) GeomeanPerformanceSamples(base report.Metadata) ([]report.Sample, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := []report.Sample{}
	for _, id := range b.order {
		s, err := b.iterations[id].GeomeanSample(base)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	s, err := b.aggregatedGeomeanSample(base)
	if err != nil {
		return nil, err
	}
	return append(out, s), nil
}
