package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Octogonapus/QueryBenchmark/report"
)

// Publisher sends a finished report somewhere it can be looked at later.
type Publisher interface {
	Publish(ctx context.Context, rep *report.BenchmarkReport) error
}

// PublishAll publishes the report with every publisher, even if some of them fail.
func PublishAll(ctx context.Context, rep *report.BenchmarkReport, publishers ...Publisher) error {
	errs := []error{}
	for _, p := range publishers {
		err := p.Publish(ctx, rep)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encodeReport(rep *report.BenchmarkReport) ([]byte, error) {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding report %s failed: %w", rep.Name, err)
	}
	return b, nil
}
