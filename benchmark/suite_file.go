package benchmark

import (
	"errors"
	"fmt"

	resourcepool "github.com/Octogonapus/QueryBenchmark/resource_pool"
	"github.com/Octogonapus/QueryBenchmark/target"
)

// SuiteContext holds what the suites of a suite file share.
type SuiteContext struct {
	Targets      *resourcepool.Pool[target.Target]
	ShowProgress bool
}

type executorType string

type executorFactory func(input map[string]any, ctx *SuiteContext) (QueryExecutor, error)

var executors map[executorType]executorFactory

// All executors must register themselves at module load time so that deserialization can create an executor of that type.
func RegisterExecutor(etype string, f executorFactory) {
	if executors == nil {
		executors = map[executorType]executorFactory{}
	}
	executors[executorType(etype)] = f
}

// SerializedSuite describes one benchmark suite in a suite file.
// When Queries is empty, the executor's own queries are run.
type SerializedSuite struct {
	Name        string
	Type        executorType
	Queries     []string
	Iterations  int
	Concurrency int
	Input       map[string]any
}

type SuiteFile []SerializedSuite

type queryLister interface {
	QueryNames() []string
}

// DeserializeSuite builds the runner of a suite.
func DeserializeSuite(ss *SerializedSuite, ctx *SuiteContext) (*Runner, error) {
	f, ok := executors[ss.Type]
	if !ok {
		return nil, fmt.Errorf("unknown executor type: %s", ss.Type)
	}
	if ss.Name == "" {
		return nil, errors.New("suite has no name")
	}

	ex, err := f(ss.Input, ctx)
	if err != nil {
		return nil, fmt.Errorf("creating %s executor for suite %s failed: %w", ss.Type, ss.Name, err)
	}

	queries := ss.Queries
	if len(queries) == 0 {
		if l, ok := ex.(queryLister); ok {
			queries = l.QueryNames()
		}
	}
	return NewRunner(&RunnerInput{
		SuiteName:    ss.Name,
		Queries:      queries,
		Iterations:   ss.Iterations,
		Concurrency:  ss.Concurrency,
		ShowProgress: ctx.ShowProgress,
		Executor:     ex,
	}), nil
}
