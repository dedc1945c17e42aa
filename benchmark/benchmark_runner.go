package benchmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Octogonapus/QueryBenchmark/aggregator"
	"github.com/Octogonapus/QueryBenchmark/report"
	"github.com/Octogonapus/QueryBenchmark/util"
	"github.com/alitto/pond"
	"github.com/schollz/progressbar/v3"
)

type RunnerInput struct {
	SuiteName    string
	Queries      []string
	Iterations   int // at least 1
	Concurrency  int // max iterations in flight, 0 means unlimited
	ShowProgress bool
	Executor     QueryExecutor
}

// Runner runs every query of a suite once per iteration and collects the results into a BenchmarkAggregation.
// Queries within an iteration run sequentially; iterations run concurrently.
type Runner struct {
	input   *RunnerInput
	queries []string
}

func NewRunner(input *RunnerInput) *Runner {
	queries := []string{}
	for _, q := range input.Queries {
		if !slices.Contains(queries, q) {
			queries = append(queries, q)
		}
	}
	return &Runner{input: input, queries: queries}
}

func (r *Runner) GetName() string {
	return r.input.SuiteName
}

func (r *Runner) GetInput() map[string]any {
	in := util.StructMap(r.input)
	delete(in, "Executor")
	delete(in, "ShowProgress")
	return in
}

// Run the suite. The returned aggregation holds every iteration that completed, even when an error is returned.
func (r *Runner) Run(ctx context.Context) (*aggregator.BenchmarkAggregation, error) {
	if len(r.queries) == 0 {
		return nil, errors.New("no queries to run")
	}
	iterations := max(r.input.Iterations, 1)

	slog.Info("starting benchmark setup", slog.String("name", r.input.SuiteName))
	err := r.input.Executor.SetUp(ctx)
	if err != nil {
		return nil, fmt.Errorf("setting up query executor failed: %w", err)
	}
	defer func() {
		err := r.input.Executor.TearDown()
		if err != nil {
			slog.Error("tearing down query executor failed", slog.String("name", r.input.SuiteName), slog.String("error", err.Error()))
		}
	}()

	slog.Info("starting benchmark",
		slog.String("name", r.input.SuiteName),
		slog.Int("queries", len(r.queries)),
		slog.Int("iterations", iterations),
	)
	agg := aggregator.NewBenchmarkAggregation(iterations, r.queries)
	errCh := make(chan error, iterations)

	var p *progressbar.ProgressBar
	if r.input.ShowProgress {
		p = progressbar.Default(int64(iterations), "Running iterations:")
	}

	runOne := func(n int) {
		if p != nil {
			defer p.Add(1)
		}
		if ctx.Err() != nil {
			errCh <- ctx.Err()
			return
		}
		id := IterationID(r.input.SuiteName, n)
		it, completed := r.runIteration(ctx, id)
		if !completed {
			slog.Warn("iteration interrupted, not registering it", slog.String("name", r.input.SuiteName), slog.String("iteration", id))
			return
		}
		err := agg.RegisterIteration(id, it)
		if err != nil {
			errCh <- err
		}
	}

	concurrency := r.input.Concurrency
	if concurrency == 0 {
		wg := &sync.WaitGroup{}
		for n := range iterations {
			wg.Add(1)
			go func() {
				defer wg.Done()
				runOne(n + 1)
			}()
		}
		wg.Wait()
	} else {
		pool := pond.New(concurrency, 0, pond.MinWorkers(concurrency))
		for n := range iterations {
			pool.Submit(func() {
				runOne(n + 1)
			})
		}
		pool.StopAndWait()
	}
	close(errCh)
	if p != nil {
		_ = p.Finish()
	}

	errs := []error{}
	for err := range errCh {
		errs = append(errs, err)
	}
	if ctx.Err() != nil {
		return agg, fmt.Errorf("benchmark %s interrupted: %w", r.input.SuiteName, ctx.Err())
	}
	if len(errs) > 0 {
		return agg, fmt.Errorf("benchmark %s failed: %w", r.input.SuiteName, errors.Join(errs...))
	}

	slog.Info("finished benchmark", slog.String("name", r.input.SuiteName), slog.Bool("successful", agg.IsSuccessful()))
	return agg, nil
}

// runIteration runs every query once. It reports false if ctx was cancelled before the last query finished,
// in which case the iteration is incomplete and must not be aggregated.
func (r *Runner) runIteration(ctx context.Context, id string) (*aggregator.SuiteIteration, bool) {
	it := aggregator.NewSuiteIteration(r.input.SuiteName, id, len(r.queries))
	for _, q := range r.queries {
		if ctx.Err() != nil {
			return nil, false
		}
		var result *aggregator.QueryResult
		elapsed, md, err := r.input.Executor.ExecuteQuery(ctx, id, q)
		if err != nil {
			result = aggregator.NewFailedQueryResult(q, report.Metadata{"error": err.Error()})
		} else {
			result = aggregator.NewQueryResult(q, elapsed, md)
		}
		err = it.Add(result)
		if err != nil {
			slog.Error("can't add query result", slog.String("iteration", id), slog.String("query", q), slog.String("error", err.Error()))
		}
	}
	if ctx.Err() != nil {
		// the last query may have been killed by the cancellation
		return nil, false
	}
	slog.Debug("finished iteration",
		slog.String("name", r.input.SuiteName),
		slog.String("iteration", id),
		slog.Bool("successful", it.IsSuccessful()),
	)
	return it, true
}
