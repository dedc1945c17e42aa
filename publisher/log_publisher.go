package publisher

import (
	"context"
	"log/slog"

	"github.com/Octogonapus/QueryBenchmark/report"
)

// LogPublisher logs one line per sample, plus one per failure. Raw samples are only logged at debug level.
type LogPublisher struct {
	Logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{Logger: logger}
}

var rawMetrics = map[string]bool{
	report.MetricRawQueryTime:   true,
	report.MetricRawWallTime:    true,
	report.MetricRawGeomeanTime: true,
}

func (p *LogPublisher) Publish(ctx context.Context, rep *report.BenchmarkReport) error {
	if rep.Error != "" {
		p.Logger.ErrorContext(ctx, "benchmark failed", slog.String("name", rep.Name), slog.String("error", rep.Error))
		return nil
	}
	for _, s := range rep.Samples {
		attrs := []any{
			slog.String("name", rep.Name),
			slog.String("metric", s.Metric),
			slog.Float64("value", s.Value),
			slog.String("unit", s.Unit),
		}
		if q, ok := s.Metadata["query"]; ok {
			attrs = append(attrs, slog.Any("query", q))
		}
		if rawMetrics[s.Metric] {
			p.Logger.DebugContext(ctx, "sample", attrs...)
		} else {
			p.Logger.InfoContext(ctx, "sample", attrs...)
		}
	}
	for _, f := range rep.Failures {
		p.Logger.WarnContext(ctx, "statistic missing", slog.String("name", rep.Name), slog.String("failure", f))
	}
	p.Logger.InfoContext(ctx, "benchmark finished",
		slog.String("name", rep.Name),
		slog.String("runID", rep.RunID),
		slog.Bool("successful", rep.Successful),
	)
	return nil
}
