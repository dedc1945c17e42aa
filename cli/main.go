package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/Octogonapus/QueryBenchmark/benchmark"
	"github.com/Octogonapus/QueryBenchmark/collector"
	"github.com/Octogonapus/QueryBenchmark/publisher"
	"github.com/Octogonapus/QueryBenchmark/report"
	"github.com/aws/aws-sdk-go-v2/config"
)

type repeatedFlag []string

func (r *repeatedFlag) String() string {
	return strings.Join(*r, ",")
}

func (r *repeatedFlag) Set(value string) error {
	*r = append(*r, value)
	return nil
}

func parseQueries(qs []string) (map[string]string, []string, error) {
	commands := map[string]string{}
	order := []string{}
	for _, q := range qs {
		name, cmd, ok := strings.Cut(q, "=")
		if !ok || name == "" || cmd == "" {
			return nil, nil, fmt.Errorf("query must look like name=command, got %q", q)
		}
		if _, ok := commands[name]; ok {
			return nil, nil, fmt.Errorf("query %s is given more than once", name)
		}
		commands[name] = cmd
		order = append(order, name)
	}
	return commands, order, nil
}

func main() {
	results := flag.String("results", "", "A JSON file of iteration records produced by an external runner. The records are aggregated instead of running any query.")
	sfiles := repeatedFlag{}
	flag.Var(&sfiles, "suite-file", "A suite file containing benchmark suite specifications. Can be used multiple times; all suites will be run.")
	qs := repeatedFlag{}
	flag.Var(&qs, "query", "A query to run locally, as name=command. Can be used multiple times; all queries form one suite.")
	suiteName := flag.String("suite-name", "adhoc", "The suite name used for -query and -results.")
	iterations := flag.Int("iterations", 1, "How many times each -query suite is run.")
	concurrency := flag.Int("concurrency", 0, "How many iterations can be run concurrently. Unlimited by default.")
	resultDir := flag.String("result-dir", "results", "Save reports into this directory.")
	bucket := flag.String("bucket", "", "Also upload reports to this S3 bucket.")
	keyPrefix := flag.String("key-prefix", "query-benchmarks", "The key prefix of reports uploaded to S3.")
	createBucket := flag.Bool("create-bucket", false, "Create the S3 bucket if it does not exist.")
	parser := flag.String("parser", benchmark.DefaultOutputParser, "How -query output becomes query metadata. One of "+strings.Join(benchmark.OutputParserNames(), ", ")+".")
	progress := flag.Bool("progress", true, "Show a progress bar while running iterations.")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	if *results == "" && len(sfiles) == 0 && len(qs) == 0 {
		panic(fmt.Errorf("one of results, suite-file or query is required"))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	publishers := []publisher.Publisher{
		publisher.NewLogPublisher(logger),
		publisher.NewJSONFilePublisher(*resultDir),
	}
	if *bucket != "" {
		cfg, err := config.LoadDefaultConfig(ctx, config.WithEC2IMDSRegion())
		if err != nil {
			panic(err)
		}
		publishers = append(publishers, publisher.NewS3Publisher(&publisher.S3PublisherInput{
			AwsConfig:    cfg,
			Bucket:       *bucket,
			KeyPrefix:    *keyPrefix,
			CreateBucket: *createBucket,
		}))
	}

	reports := []*report.BenchmarkReport{}

	if *results != "" {
		records, err := collector.LoadFile(*results)
		if err != nil {
			panic(err)
		}
		agg, err := collector.Collect(records, nil, 0)
		if err != nil {
			panic(err)
		}
		rep := benchmark.BuildReport(*suiteName, agg, report.Metadata{"suite": *suiteName, "source": "results-file"})
		rep.Input = map[string]any{"Results": *results}
		reports = append(reports, rep)
	}

	sctx := &benchmark.SuiteContext{
		Targets:      benchmark.NewLocalTargetPool(),
		ShowProgress: *progress,
	}
	runners := []*benchmark.Runner{}
	for _, sf := range sfiles {
		sfData, err := os.ReadFile(sf)
		if err != nil {
			panic(err)
		}
		suites := benchmark.SuiteFile{}
		err = json.Unmarshal(sfData, &suites)
		if err != nil {
			panic(err)
		}
		for _, ss := range suites {
			r, err := benchmark.DeserializeSuite(&ss, sctx)
			if err != nil {
				panic(err)
			}
			runners = append(runners, r)
		}
	}
	if len(qs) > 0 {
		commands, order, err := parseQueries(qs)
		if err != nil {
			panic(err)
		}
		outputParser, err := benchmark.GetOutputParser(*parser)
		if err != nil {
			panic(err)
		}
		runners = append(runners, benchmark.NewRunner(&benchmark.RunnerInput{
			SuiteName:    *suiteName,
			Queries:      order,
			Iterations:   *iterations,
			Concurrency:  *concurrency,
			ShowProgress: *progress,
			Executor: benchmark.NewCommandExecutor(&benchmark.CommandExecutorInput{
				Commands:  commands,
				Targets:   sctx.Targets,
				TargetKey: benchmark.LocalKey,
				Parser:    outputParser,
			}),
		}))
	}

	for _, r := range runners {
		agg, err := r.Run(ctx)
		if err != nil {
			if agg == nil {
				panic(err)
			}
			slog.Error("benchmark did not finish, reporting what completed", slog.String("name", r.GetName()), slog.String("error", err.Error()))
		}
		rep := benchmark.BuildReport(r.GetName(), agg, report.Metadata{"suite": r.GetName(), "source": "local"})
		rep.Input = r.GetInput()
		reports = append(reports, rep)
		if ctx.Err() != nil {
			break
		}
	}

	for _, rep := range reports {
		// publish even when interrupted
		err := publisher.PublishAll(context.Background(), rep, publishers...)
		if err != nil {
			panic(err)
		}
	}
}
