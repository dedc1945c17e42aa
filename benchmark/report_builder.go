package benchmark

import (
	"log/slog"

	"github.com/Octogonapus/QueryBenchmark/aggregator"
	"github.com/Octogonapus/QueryBenchmark/report"
	"github.com/google/uuid"
)

// BuildReport turns an aggregation into a report holding every raw and aggregated sample.
// A statistic that can't be computed (e.g. the mean of a query that failed in some iteration) is listed under
// Failures and the remaining samples are still reported.
func BuildReport(name string, agg *aggregator.BenchmarkAggregation, base report.Metadata) *report.BenchmarkReport {
	rep := &report.BenchmarkReport{
		Name:     name,
		RunID:    uuid.NewString(),
		Samples:  []report.Sample{},
		Failures: []string{},
	}
	if agg == nil || len(agg.IterationIDs()) == 0 {
		rep.Error = "no iteration was registered"
		return rep
	}
	rep.Successful = agg.IsSuccessful()
	base = report.MergeMetadata(base, report.Metadata{"run_id": rep.RunID})

	fail := func(statistic string, err error) {
		slog.Warn("statistic could not be computed",
			slog.String("name", name),
			slog.String("statistic", statistic),
			slog.Bool("aggregationError", aggregator.IsAggregationError(err)),
			slog.String("error", err.Error()),
		)
		rep.Failures = append(rep.Failures, statistic+": "+err.Error())
	}

	ids := agg.IterationIDs()
	for _, id := range ids {
		it, _ := agg.Iteration(id)
		rep.Samples = append(rep.Samples, it.QuerySamples(base)...)
	}
	for _, q := range agg.ExpectedQueries() {
		s, err := agg.QueryPerformanceSample(q, base)
		if err != nil {
			fail(report.MetricAggregatedQueryTime+"/"+q, err)
			continue
		}
		rep.Samples = append(rep.Samples, s)
	}

	for _, id := range ids {
		it, _ := agg.Iteration(id)
		rep.Samples = append(rep.Samples, it.WallTimeSample(base))
	}
	s, err := agg.AggregatedWallTimeSample(base)
	if err != nil {
		fail(report.MetricAggregatedWallTime, err)
	} else {
		rep.Samples = append(rep.Samples, s)
	}

	for _, id := range ids {
		it, _ := agg.Iteration(id)
		s, err := it.GeomeanSample(base)
		if err != nil {
			fail(report.MetricRawGeomeanTime+"/"+id, err)
			continue
		}
		rep.Samples = append(rep.Samples, s)
	}
	s, err = agg.AggregatedGeomeanSample(base)
	if err != nil {
		fail(report.MetricAggregatedGeomean, err)
	} else {
		rep.Samples = append(rep.Samples, s)
	}

	slog.Info("built benchmark report",
		slog.String("name", name),
		slog.String("runID", rep.RunID),
		slog.Int("samples", len(rep.Samples)),
		slog.Int("failures", len(rep.Failures)),
	)
	return rep
}
