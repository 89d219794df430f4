package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"etlpipe/internal/config"
	"etlpipe/internal/metrics"
	"etlpipe/internal/metrics/datadog"
	"etlpipe/internal/metrics/prompush"
	"etlpipe/internal/pipeline"
)

// main is the entry point for the etlpipe binary. It loads one or more
// pipeline configs, optionally initializes a metrics backend, and executes
// the runs with bounded parallelism.
func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		pushGatewayURLFlg string
		statsdAddrFlg     string
		windowStart       string
		windowEnd         string
		maxParallel       int
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/pipelines", "pipeline config JSON file, or a directory of them")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "none", "metrics backend to use (pushgateway, datadog, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides env PUSHGATEWAY_URL)")
	flag.StringVar(&statsdAddrFlg, "statsd-addr", "", "DogStatsD address for the datadog backend (overrides env STATSD_ADDR)")
	flag.StringVar(&windowStart, "window-start", "", "value for the {{window_start}} placeholder (RFC3339)")
	flag.StringVar(&windowEnd, "window-end", "", "value for the {{window_end}} placeholder (RFC3339)")
	flag.IntVar(&maxParallel, "max-parallel", 2, "maximum pipelines running at once")
	flag.BoolVar(&validate, "validate", false, "validate the configurations and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	paths, err := configPaths(cfgPath)
	if err != nil {
		fatalf("%v", err)
	}
	if len(paths) == 0 {
		fatalf("no pipeline configs under %s", cfgPath)
	}

	pipelines := make([]config.Pipeline, 0, len(paths))
	hasError := false
	for _, path := range paths {
		p, err := loadPipeline(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			hasError = true
			continue
		}
		for _, iss := range config.ValidatePipeline(p) {
			fmt.Fprintf(os.Stderr, "%s: %s: %s: %s\n", path, iss.Severity, iss.Path, iss.Message)
			if iss.Severity == config.SeverityError {
				hasError = true
			}
		}
		pipelines = append(pipelines, p)
	}
	if hasError {
		log.Fatalf("configuration is invalid")
	}
	if validate {
		log.Printf("configuration is valid: %d pipeline(s)", len(pipelines))
		return
	}

	initMetrics(metricsBackendFlg, pushGatewayURLFlg, statsdAddrFlg, *verbose)
	defer func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush error: %v", err)
		}
	}()

	vars := map[string]string{}
	if windowStart != "" {
		vars["window_start"] = windowStart
	}
	if windowEnd != "" {
		vars["window_end"] = windowEnd
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := pipeline.NewRunner()
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	if maxParallel < 1 {
		maxParallel = 1
	}
	g.SetLimit(maxParallel)
	for _, p := range pipelines {
		p := p
		g.Go(func() error {
			_, err := runner.Run(ctx, p, vars)
			if err != nil {
				return fmt.Errorf("job %s: %w", p.Job, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("%v", err)
	}

	if *verbose {
		log.Printf("completed %d pipeline(s) in %s", len(pipelines), time.Since(start).Truncate(time.Millisecond))
	}
}

// configPaths resolves the -config argument into a sorted list of JSON files.
func configPaths(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(path, e.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

func loadPipeline(path string) (config.Pipeline, error) {
	var p config.Pipeline
	f, err := os.Open(path)
	if err != nil {
		return p, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&p); err != nil {
		return p, fmt.Errorf("decode config: %w", err)
	}
	return p, nil
}

// initMetrics installs the requested backend. Failures never abort the run;
// the nop backend stays in place instead.
func initMetrics(backendName, gatewayURL, statsdAddr string, verbose bool) {
	switch backendName {
	case "pushgateway":
		if gatewayURL == "" {
			gatewayURL = os.Getenv("PUSHGATEWAY_URL")
		}
		if gatewayURL == "" {
			gatewayURL = "http://localhost:9091"
		}
		b, err := prompush.NewBackend("etlpipe", gatewayURL)
		if err != nil {
			log.Printf("metrics: failed to init pushgateway backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=pushgateway url=%s", gatewayURL)
		metrics.SetBackend(b)

	case "datadog":
		if statsdAddr == "" {
			statsdAddr = os.Getenv("STATSD_ADDR")
		}
		if statsdAddr == "" {
			statsdAddr = "127.0.0.1:8125"
		}
		b, err := datadog.NewBackend(datadog.Config{Addr: statsdAddr, Namespace: "etlpipe."})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=datadog addr=%s", statsdAddr)
		metrics.SetBackend(b)

	case "", "none":
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
