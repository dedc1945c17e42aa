package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/Octogonapus/QueryBenchmark/report"
)

// ReportFileName is the name of the report inside its suite's result dir.
const ReportFileName = "report.json"

// JSONFilePublisher writes the report to <Dir>/<report name>/report.json, creating the dirs if needed.
type JSONFilePublisher struct {
	Dir string
}

func NewJSONFilePublisher(dir string) *JSONFilePublisher {
	return &JSONFilePublisher{Dir: dir}
}

func (p *JSONFilePublisher) Path(rep *report.BenchmarkReport) string {
	return path.Join(p.Dir, rep.Name, ReportFileName)
}

// checkReportName rejects names that would place the report outside its own dir below Dir.
func checkReportName(name string) error {
	if name == "" || name == "." || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("report name %q can't be used as a result dir name", name)
	}
	return nil
}

func (p *JSONFilePublisher) Publish(ctx context.Context, rep *report.BenchmarkReport) error {
	err := checkReportName(rep.Name)
	if err != nil {
		return err
	}
	b, err := encodeReport(rep)
	if err != nil {
		return err
	}
	reportPath := p.Path(rep)
	err = os.MkdirAll(path.Dir(reportPath), os.ModePerm)
	if err != nil {
		return fmt.Errorf("creating result dir failed: %w", err)
	}
	err = os.WriteFile(reportPath, b, 0o644)
	if err != nil {
		return fmt.Errorf("writing report failed: %w", err)
	}
	slog.Info("wrote report", slog.String("path", reportPath))
	return nil
}
