package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Octogonapus/QueryBenchmark/report"
	resourcepool "github.com/Octogonapus/QueryBenchmark/resource_pool"
	"github.com/Octogonapus/QueryBenchmark/target"
	"github.com/mitchellh/mapstructure"
)

// LocalKey is the pool key of the machine running the benchmark.
var LocalKey = resourcepool.Key{Cloud: "local", Scope: "host", Location: "localhost"}

type CommandExecutorInput struct {
	Commands  map[string]string // query name -> shell command
	Targets   *resourcepool.Pool[target.Target]
	TargetKey resourcepool.Key
	Parser    OutputParser // turns command output into query metadata, the json parser if nil
}

// CommandExecutor runs each query as a command on a target taken from a shared pool and times it.
// The output of each command is handed to the configured OutputParser.
type CommandExecutor struct {
	input  *CommandExecutorInput
	target target.Target
}

type commandSuiteInput struct {
	Commands map[string]string
	Parser   string
}

func init() {
	RegisterExecutor("command", func(a map[string]any, ctx *SuiteContext) (QueryExecutor, error) {
		input := &commandSuiteInput{}
		err := mapstructure.Decode(a, input)
		if err != nil {
			return nil, fmt.Errorf("can't convert input to CommandExecutorInput: %w", err)
		}
		if len(input.Commands) == 0 {
			return nil, fmt.Errorf("command executor needs at least one command")
		}
		parser, err := GetOutputParser(input.Parser)
		if err != nil {
			return nil, err
		}
		return NewCommandExecutor(&CommandExecutorInput{
			Commands:  input.Commands,
			Targets:   ctx.Targets,
			TargetKey: LocalKey,
			Parser:    parser,
		}), nil
	})
}

func NewCommandExecutor(input *CommandExecutorInput) *CommandExecutor {
	if input.Parser == nil {
		input.Parser = outputParsers[DefaultOutputParser]
	}
	return &CommandExecutor{input: input}
}

// QueryNames returns the names of all commands, sorted.
func (e *CommandExecutor) QueryNames() []string {
	names := make([]string, 0, len(e.input.Commands))
	for name := range e.input.Commands {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (e *CommandExecutor) SetUp(ctx context.Context) error {
	t, err := e.input.Targets.Acquire(ctx, e.input.TargetKey)
	if err != nil {
		return fmt.Errorf("acquiring target failed: %w", err)
	}
	e.target = t
	return nil
}

func (e *CommandExecutor) ExecuteQuery(ctx context.Context, iterationID string, query string) (float64, report.Metadata, error) {
	cmd, ok := e.input.Commands[query]
	if !ok {
		return 0, nil, fmt.Errorf("no command for query %s", query)
	}

	start := time.Now()
	out, err := e.target.RunCommand(ctx, cmd)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		slog.Error("running query command failed",
			slog.String("query", query),
			slog.String("iteration", iterationID),
			slog.String("error", err.Error()),
			slog.String("output", string(out)),
		)
		return 0, nil, fmt.Errorf("running query %s failed: %w", query, err)
	}
	slog.Debug("query command finished", slog.String("query", query), slog.String("iteration", iterationID), slog.Float64("elapsedSec", elapsed))

	md, err := e.input.Parser(out)
	if err != nil {
		slog.Error("parsing query output failed",
			slog.String("query", query),
			slog.String("iteration", iterationID),
			slog.String("error", err.Error()),
		)
		return 0, nil, fmt.Errorf("parsing output of query %s failed: %w", query, err)
	}
	return elapsed, md, nil
}

func (e *CommandExecutor) TearDown() error {
	if e.target == nil {
		return nil
	}
	e.target = nil
	return e.input.Targets.Release(e.input.TargetKey)
}
