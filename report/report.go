package report

import "time"

const UnitSeconds = "seconds"

// Metric ids emitted by the aggregator.
const (
	MetricRawQueryTime        = "raw_query_time"
	MetricRawWallTime         = "raw_wall_time"
	MetricRawGeomeanTime      = "raw_geomean_time"
	MetricAggregatedQueryTime = "aggregated_query_time"
	MetricAggregatedWallTime  = "aggregated_wall_time"
	MetricAggregatedGeomean   = "aggregated_geomean"
)

// Metadata is a string keyed map of scalar values attached to a sample.
type Metadata map[string]any

func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MergeMetadata returns a new map containing every layer. Keys in later layers win.
func MergeMetadata(layers ...Metadata) Metadata {
	out := Metadata{}
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}

type Sample struct {
	Metric    string
	Value     float64
	Unit      string
	Metadata  Metadata
	Timestamp int64
}

func NewSample(metric string, value float64, unit string, metadata Metadata) Sample {
	if metadata == nil {
		metadata = Metadata{}
	}
	return Sample{
		Metric:    metric,
		Value:     value,
		Unit:      unit,
		Metadata:  metadata,
		Timestamp: time.Now().Unix(),
	}
}

func FilterByMetric(samples []Sample, metric string) []Sample {
	out := []Sample{}
	for _, s := range samples {
		if s.Metric == metric {
			out = append(out, s)
		}
	}
	return out
}

type BenchmarkReport struct {
	Name       string
	RunID      string
	Input      map[string]any
	Error      string // non-empty iff the benchmark could not be aggregated at all
	Successful bool   // true iff every query succeeded in every iteration
	Samples    []Sample
	Failures   []string // one entry for each statistic that could not be computed
}
