package benchmark

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/Octogonapus/QueryBenchmark/report"
	"github.com/Octogonapus/QueryBenchmark/util"
)

// OutputParser turns the output of a successful query command into query metadata.
// An error marks the query as failed.
type OutputParser func(out []byte) (report.Metadata, error)

// DefaultOutputParser is used when a command suite names no parser.
const DefaultOutputParser = "json"

var outputParsers = map[string]OutputParser{}

func RegisterOutputParser(name string, p OutputParser) {
	outputParsers[name] = p
}

// GetOutputParser looks up a parser by name. An empty name selects DefaultOutputParser.
func GetOutputParser(name string) (OutputParser, error) {
	if name == "" {
		name = DefaultOutputParser
	}
	p, ok := outputParsers[name]
	if !ok {
		return nil, fmt.Errorf("unknown output parser %s, want one of %s", name, strings.Join(OutputParserNames(), ", "))
	}
	return p, nil
}

func OutputParserNames() []string {
	names := make([]string, 0, len(outputParsers))
	for name := range outputParsers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func init() {
	RegisterOutputParser("json", func(out []byte) (report.Metadata, error) {
		return parseOutputMetadata(out), nil
	})
	RegisterOutputParser("ping", parsePingOutput)
	RegisterOutputParser("nping", parseNpingOutput)
	RegisterOutputParser("sysbench_cpu", parseSysbenchCPUOutput)
	RegisterOutputParser("netperf", parseNetperfOutput)
	RegisterOutputParser("iperf", parseIperfOutput)
	RegisterOutputParser("iperf_udp", parseIperfUDPOutput)
}

// parseOutputMetadata reads a JSON object from the last non-empty output line.
// Nested objects and arrays are kept as their JSON text so every value stays a scalar.
func parseOutputMetadata(out []byte) report.Metadata {
	line := strings.TrimSpace(util.LastNonEmptyLine(out))
	if !strings.HasPrefix(line, "{") {
		return nil
	}
	raw := map[string]any{}
	err := json.Unmarshal([]byte(line), &raw)
	if err != nil {
		slog.Debug("ignoring query output that is not a metadata object", slog.String("line", line), slog.String("error", err.Error()))
		return nil
	}
	md := report.Metadata{}
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			b, err := json.Marshal(v)
			if err != nil {
				return nil
			}
			md[k] = string(b)
		default:
			md[k] = v
		}
	}
	return md
}

var decimalRe = regexp.MustCompile(`\d+\.\d+`)

// parsePingOutput reads the summary of ping, e.g. "rtt min/avg/max/mdev = 0.045/0.057/0.078/0.011 ms".
func parsePingOutput(out []byte) (report.Metadata, error) {
	line := util.LastNonEmptyLine(out)
	stats := decimalRe.FindAllString(line, -1)
	if len(stats) < 4 {
		return nil, fmt.Errorf("can't find ping latency summary in %q", line)
	}
	md := report.Metadata{}
	for i, key := range []string{"min_latency_ms", "average_latency_ms", "max_latency_ms", "latency_stddev_ms"} {
		v, err := strconv.ParseFloat(stats[i], 64)
		if err != nil {
			return nil, fmt.Errorf("can't parse ping %s: %w", key, err)
		}
		md[key] = v
	}
	return md, nil
}

// parseNpingOutput reads the rtt line nping prints third from the end,
// e.g. "Max rtt: 0.310ms | Min rtt: 0.180ms | Avg rtt: 0.241ms".
func parseNpingOutput(out []byte) (report.Metadata, error) {
	lines := strings.Split(strings.TrimRight(string(out), "\r\n"), "\n")
	if len(lines) < 3 {
		return nil, fmt.Errorf("nping output is too short")
	}
	line := lines[len(lines)-3]
	stats := decimalRe.FindAllString(line, -1)
	if len(stats) != 3 {
		return nil, fmt.Errorf("can't find nping rtt summary in %q", line)
	}
	md := report.Metadata{}
	for i, key := range []string{"max_latency_ms", "min_latency_ms", "average_latency_ms"} {
		v, err := strconv.ParseFloat(stats[i], 64)
		if err != nil {
			return nil, fmt.Errorf("can't parse nping %s: %w", key, err)
		}
		md[key] = v
	}
	return md, nil
}

var sysbenchCPUFields = []struct {
	prefix string
	key    string
}{
	{"events per second:", "events_per_second"},
	{"total time:", "total_time_sec"},
	{"total number of events:", "total_number_of_events"},
	{"min:", "per_request_min_ms"},
	{"avg:", "per_request_avg_ms"},
	{"max:", "per_request_max_ms"},
	{"95th percentile:", "per_request_95p_ms"},
}

// parseSysbenchCPUOutput reads the general statistics and latency sections of "sysbench cpu run".
func parseSysbenchCPUOutput(out []byte) (report.Metadata, error) {
	md := report.Metadata{}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		for _, f := range sysbenchCPUFields {
			if !strings.HasPrefix(line, f.prefix) {
				continue
			}
			s := strings.TrimSpace(strings.TrimPrefix(line, f.prefix))
			s = strings.TrimSuffix(s, "s")
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("can't parse sysbench %s %q: %w", f.key, s, err)
			}
			md[f.key] = v
			break
		}
	}
	if _, ok := md["events_per_second"]; !ok {
		return nil, fmt.Errorf("sysbench output has no events per second")
	}
	return md, nil
}

var netperfMetadataColumns = []struct {
	column string
	key    string
}{
	{"Confidence Iterations Run", "confidence_iter"},
	{"Throughput Confidence Width (%)", "confidence_width_percent"},
	{"Local Transport Retransmissions", "netperf_retransmissions"},
	{"Remote Transport Retransmissions", "netserver_retransmissions"},
}

var netperfLatencyColumns = []struct {
	column string
	key    string
}{
	{"50th Percentile Latency Microseconds", "latency_p50_us"},
	{"90th Percentile Latency Microseconds", "latency_p90_us"},
	{"99th Percentile Latency Microseconds", "latency_p99_us"},
	{"Minimum Latency Microseconds", "latency_min_us"},
	{"Maximum Latency Microseconds", "latency_max_us"},
	{"Stddev Latency Microseconds", "latency_stddev_us"},
}

// parseNetperfOutput reads netperf's "-o" CSV output: a MIGRATED banner line, a header row and one row of values.
// Latency columns are only read for request/response tests.
func parseNetperfOutput(out []byte) (report.Metadata, error) {
	banner, rest, _ := strings.Cut(string(out), "\n")
	if !strings.HasPrefix(banner, "MIGRATED") {
		return nil, fmt.Errorf("netperf output has no MIGRATED banner")
	}
	r := csv.NewReader(strings.NewReader(rest))
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("can't read netperf header: %w", err)
	}
	values, err := r.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("netperf output has no results")
	}
	if err != nil {
		return nil, fmt.Errorf("can't read netperf results: %w", err)
	}
	results := map[string]string{}
	for i, column := range header {
		results[column] = values[i]
	}

	md := report.Metadata{}
	throughput, err := strconv.ParseFloat(results["Throughput"], 64)
	if err != nil {
		return nil, fmt.Errorf("can't parse netperf throughput: %w", err)
	}
	units := results["Throughput Units"]
	switch units {
	case "10^6bits/s":
		md["throughput_mbps"] = throughput
	case "Trans/s":
		md["transaction_rate"] = throughput
	default:
		return nil, fmt.Errorf("netperf output has unrecognized throughput units %q", units)
	}
	for _, c := range netperfMetadataColumns {
		if v, ok := results[c.column]; ok {
			md[c.key] = v
		}
	}
	if units == "10^6bits/s" {
		return md, nil
	}
	for _, c := range netperfLatencyColumns {
		v, ok := results[c.column]
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("can't parse netperf %s: %w", c.column, err)
		}
		md[c.key] = f
	}
	return md, nil
}

var (
	iperfSumRe    = regexp.MustCompile(`\[SUM\].*\s+(\d+\.?\d*) Mbits/sec`)
	iperfThreadRe = regexp.MustCompile(`\[\s*\d+\].*\s+(\d+\.?\d*) Mbits/sec`)
)

// parseIperfOutput reads the total throughput of an iperf client run. Without a [SUM] line
// the per-thread throughputs are added up.
func parseIperfOutput(out []byte) (report.Metadata, error) {
	s := string(out)
	matches := iperfSumRe.FindAllStringSubmatch(s, -1)
	threads := 0
	if len(matches) == 0 {
		matches = iperfThreadRe.FindAllStringSubmatch(s, -1)
		threads = len(matches)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("iperf output has no throughput")
	}
	total := 0.0
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return nil, fmt.Errorf("can't parse iperf throughput %q: %w", m[1], err)
		}
		total += v
	}
	md := report.Metadata{"throughput_mbps": total}
	if threads > 0 {
		md["threads"] = threads
	}
	return md, nil
}

var iperfServerReportRe = regexp.MustCompile(`(\d+\.?\d*)-(\d+\.?\d*)\s+sec.*\s(\d+\.?\d*) ms\s+(\d+)/(\d+)`)

// parseIperfUDPOutput reads the server report of each iperf UDP client thread and adds up the
// datagrams per second that arrived.
func parseIperfUDPOutput(out []byte) (report.Metadata, error) {
	lines := strings.Split(string(out), "\n")
	dps, jitter := 0.0, 0.0
	var lost, total int64
	reports := 0
	for i, line := range lines {
		if !strings.Contains(line, "Server Report") || i+1 >= len(lines) {
			continue
		}
		m := iperfServerReportRe.FindStringSubmatch(lines[i+1])
		if m == nil {
			return nil, fmt.Errorf("can't parse iperf server report %q", lines[i+1])
		}
		start, _ := strconv.ParseFloat(m[1], 64)
		end, _ := strconv.ParseFloat(m[2], 64)
		j, _ := strconv.ParseFloat(m[3], 64)
		l, _ := strconv.ParseInt(m[4], 10, 64)
		t, _ := strconv.ParseInt(m[5], 10, 64)
		if end <= start {
			return nil, fmt.Errorf("iperf server report has an empty interval %q", lines[i+1])
		}
		dps += float64(t-l) / (end - start)
		jitter += j
		lost += l
		total += t
		reports++
	}
	if reports == 0 {
		return nil, fmt.Errorf("iperf output has no server report")
	}
	return report.Metadata{
		"datagrams_per_second": dps,
		"lost_datagrams":       lost,
		"total_datagrams":      total,
		"average_jitter_ms":    jitter / float64(reports),
		"threads":              reports,
	}, nil
}
