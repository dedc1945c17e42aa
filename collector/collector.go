package collector

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/Octogonapus/QueryBenchmark/aggregator"
	"github.com/Octogonapus/QueryBenchmark/benchmark"
	"github.com/Octogonapus/QueryBenchmark/report"
	"github.com/hashicorp/go-version"
	"github.com/mitchellh/mapstructure"
)

// SupportedRunnerVersions are the versions of the external runner whose records can be collected.
var SupportedRunnerVersions = version.MustConstraints(version.NewConstraint(">= 1.0, < 2.0"))

type RawQuery struct {
	Name       string          `mapstructure:"name"`
	ElapsedSec *float64        `mapstructure:"elapsed_sec"`
	Failed     bool            `mapstructure:"failed"`
	Metadata   report.Metadata `mapstructure:"metadata"`
}

// RawIteration is one suite iteration as recorded by an external runner.
type RawIteration struct {
	SuiteName          string     `mapstructure:"suite_name"`
	IterationID        string     `mapstructure:"iteration_id"`
	ExpectedQueryCount int        `mapstructure:"expected_query_count"`
	RunnerVersion      string     `mapstructure:"runner_version"`
	Queries            []RawQuery `mapstructure:"queries"`
}

// Decode a record into a RawIteration. Unknown keys, an unsupported runner version, and queries without a name
// or a timing are rejected. Records without a runner version predate versioning and are accepted.
func Decode(record map[string]any) (*RawIteration, error) {
	raw := &RawIteration{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      raw,
	})
	if err != nil {
		return nil, fmt.Errorf("creating decoder failed: %w", err)
	}
	err = decoder.Decode(record)
	if err != nil {
		return nil, fmt.Errorf("can't convert record to RawIteration: %w", err)
	}

	if raw.SuiteName == "" {
		return nil, errors.New("record has no suite_name")
	}
	if raw.RunnerVersion != "" {
		v, err := version.NewVersion(raw.RunnerVersion)
		if err != nil {
			return nil, fmt.Errorf("can't parse runner version: %w", err)
		}
		if !SupportedRunnerVersions.Check(v) {
			return nil, fmt.Errorf("runner version %s is not supported (want %s)", v, SupportedRunnerVersions)
		}
	}
	for i, q := range raw.Queries {
		if q.Name == "" {
			return nil, fmt.Errorf("query %d has no name", i)
		}
		if q.ElapsedSec == nil && !q.Failed {
			return nil, fmt.Errorf("query %s has neither elapsed_sec nor failed", q.Name)
		}
	}
	return raw, nil
}

// SuiteIteration converts the record into an iteration. A failed query, or one with a negative time, gets the
// failed query sentinel.
func (r *RawIteration) SuiteIteration() (*aggregator.SuiteIteration, error) {
	expected := r.ExpectedQueryCount
	if expected == 0 {
		expected = len(r.Queries)
	}
	it := aggregator.NewSuiteIteration(r.SuiteName, r.IterationID, expected)
	for _, q := range r.Queries {
		var result *aggregator.QueryResult
		if q.Failed || *q.ElapsedSec < 0 {
			result = aggregator.NewFailedQueryResult(q.Name, q.Metadata)
		} else {
			result = aggregator.NewQueryResult(q.Name, *q.ElapsedSec, q.Metadata)
		}
		err := it.Add(result)
		if err != nil {
			return nil, fmt.Errorf("iteration %s: %w", r.IterationID, err)
		}
	}
	return it, nil
}

// Collect decodes every record and registers it with a new aggregation. When expectedQueries is empty, the
// queries of the first record are expected. When targetIterations is 0, the number of records is the target.
// Records without an iteration id get one from their position.
func Collect(records []map[string]any, expectedQueries []string, targetIterations int) (*aggregator.BenchmarkAggregation, error) {
	if len(records) == 0 {
		return nil, errors.New("no records to collect")
	}

	raws := make([]*RawIteration, 0, len(records))
	iterations := make([]*aggregator.SuiteIteration, 0, len(records))
	for i, record := range records {
		raw, err := Decode(record)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if raw.IterationID == "" {
			raw.IterationID = benchmark.IterationID(raw.SuiteName, i+1)
		}
		it, err := raw.SuiteIteration()
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		raws = append(raws, raw)
		iterations = append(iterations, it)
	}

	if len(expectedQueries) == 0 {
		expectedQueries = iterations[0].QueryNames()
	}
	if targetIterations == 0 {
		targetIterations = len(records)
	}
	agg := aggregator.NewBenchmarkAggregation(targetIterations, expectedQueries)
	for i, it := range iterations {
		err := agg.RegisterIteration(raws[i].IterationID, it)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if !it.IsSuccessful() {
			slog.Warn("iteration has failed queries",
				slog.String("iteration", raws[i].IterationID),
				slog.Int("successful", it.SuccessfulCount()),
				slog.Int("expected", it.ExpectedQueryCount()),
			)
		}
	}
	slog.Info("collected iterations", slog.Int("iterations", len(iterations)), slog.Int("queries", len(expectedQueries)))
	return agg, nil
}

// LoadFile reads a JSON array of records.
func LoadFile(path string) ([]map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading results file failed: %w", err)
	}
	records := []map[string]any{}
	err = json.Unmarshal(b, &records)
	if err != nil {
		return nil, fmt.Errorf("parsing results file %s failed: %w", path, err)
	}
	return records, nil
}
