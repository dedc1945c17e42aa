package benchmark

import (
	"context"
	"fmt"

	"github.com/Octogonapus/QueryBenchmark/report"
	resourcepool "github.com/Octogonapus/QueryBenchmark/resource_pool"
	"github.com/Octogonapus/QueryBenchmark/target"
)

// QueryExecutor runs the queries of a benchmark suite. It is the only part of the runner that touches the
// system under test.
type QueryExecutor interface {
	// Set up the executor. Called once before any query runs.
	SetUp(ctx context.Context) error

	// Run one query and return its elapsed time and any metadata describing the execution (e.g. job ids).
	// A returned error marks the query as failed in this iteration; it does not stop the benchmark.
	// Called concurrently for different iterations.
	ExecuteQuery(ctx context.Context, iterationID string, query string) (elapsedSec float64, metadata report.Metadata, err error)

	// Release anything acquired by SetUp.
	TearDown() error
}

// NewLocalTargetPool returns a pool of local targets, one per key, set up on first use and torn down on last release.
func NewLocalTargetPool() *resourcepool.Pool[target.Target] {
	return resourcepool.NewPool(
		func(ctx context.Context, key resourcepool.Key) (target.Target, error) {
			t := target.NewLocalTarget()
			err := t.SetUp(ctx)
			if err != nil {
				return nil, fmt.Errorf("setting up local target for %s failed: %w", key, err)
			}
			return t, nil
		},
		func(t target.Target) error {
			return t.TearDown()
		},
	)
}

// IterationID names the nth (1-based) iteration of a suite.
func IterationID(suiteName string, n int) string {
	return fmt.Sprintf("%s_seq_%d", suiteName, n)
}
