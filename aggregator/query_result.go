package aggregator

import "github.com/Octogonapus/QueryBenchmark/report"

type ExecutionStatus string

const (
	Successful ExecutionStatus = "successful"
	Failed     ExecutionStatus = "failed"
)

// FailedQueryTime is reported as the elapsed time of a query that did not produce a valid timing.
const FailedQueryTime = -1.0

// QueryResult is the outcome of one query in one suite iteration. It is immutable.
type QueryResult struct {
	name       string
	elapsedSec float64
	metadata   report.Metadata
}

func NewQueryResult(name string, elapsedSec float64, metadata report.Metadata) *QueryResult {
	return &QueryResult{name: name, elapsedSec: elapsedSec, metadata: metadata.Clone()}
}

func NewFailedQueryResult(name string, metadata report.Metadata) *QueryResult {
	return NewQueryResult(name, FailedQueryTime, metadata)
}

func (q *QueryResult) Name() string {
	return q.name
}

func (q *QueryResult) ElapsedSec() float64 {
	return q.elapsedSec
}

func (q *QueryResult) Metadata() report.Metadata {
	return q.metadata.Clone()
}

func (q *QueryResult) Status() ExecutionStatus {
	if q.elapsedSec >= 0 {
		return Successful
	}
	return Failed
}

func (q *QueryResult) IsSuccessful() bool {
	return q.Status() == Successful
}

// Sample returns the raw_query_time sample for this result.
// Query name and status override base keys; the query's own metadata overrides both.
func (q *QueryResult) Sample(base report.Metadata) report.Sample {
	md := report.MergeMetadata(
		base,
		report.Metadata{"query": q.name, "execution_status": string(q.Status())},
		q.metadata,
	)
	return report.NewSample(report.MetricRawQueryTime, q.elapsedSec, report.UnitSeconds, md)
}
