// mpx-demo generates a steady metric workload against a running
// collector, for trying out the client library end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	metricproxy "github.com/A-Tarraf/proxy-v2"
	"github.com/A-Tarraf/proxy-v2/buildinfo"
	"github.com/A-Tarraf/proxy-v2/logging"
)

type Args struct {
	ConfigPath  string
	ShowVersion bool
	Iterations  int
	Period      time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	args := parseArgs()

	if args.ShowVersion {
		showVersion()
		return nil
	}

	_ = godotenv.Load()

	logger, err := logging.New(logging.Config{Format: "text"})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// The zero config reports to the per-user daemon socket; a config
	// file can redirect to any other channel.
	var cfg metricproxy.Config
	if args.ConfigPath != "" {
		loaded, err := metricproxy.LoadConfig(args.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	client, err := metricproxy.New(cfg, metricproxy.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create metrics client: %w", err)
	}

	events, err := client.Counter("demo_events", "iterations of the demo loop")
	if err != nil {
		return err
	}
	probe, err := client.Gauge("demo_signal", "a slowly oscillating probe value")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, stopping", "signal", sig)
		cancel()
	}()

	logger.Info("demo workload running",
		"iterations", args.Iterations,
		"period", args.Period,
		"job_id", client.Job().JobID,
	)

	ticker := time.NewTicker(args.Period)
	defer ticker.Stop()

loop:
	for i := 0; args.Iterations == 0 || i < args.Iterations; i++ {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}

		events.Inc(1)
		probe.Set(10 + 5*math.Sin(float64(i)/10))

		if i%10 == 0 {
			if visits, err := client.CallsiteCounter(); err == nil {
				visits.Inc(1)
			}
		}
	}

	logger.Info("demo workload done", "recorded", events.Value())
	return client.Close()
}

func showVersion() {
	props := buildinfo.Get()
	fmt.Printf("mpx-demo\n")
	fmt.Printf("Version: %s\n", props.Version)
	fmt.Printf("Built: %s\n", props.BuildTime)
	fmt.Printf("Commit: %s\n", props.GitCommit)
}

func parseArgs() Args {
	configPath := flag.String("config", "", "Path to config file")
	configPathShort := flag.String("c", "", "Path to config file (shorthand)")
	showVersion := flag.Bool("version", false, "Show version information")
	iterations := flag.Int("n", 0, "Number of iterations, 0 runs until interrupted")
	period := flag.Duration("period", 100*time.Millisecond, "Delay between iterations")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nMetric Proxy Demo Workload\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -n 100 -period 50ms\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --config demo.yaml\n", os.Args[0])
	}

	flag.Parse()

	path := *configPath
	if path == "" && *configPathShort != "" {
		path = *configPathShort
	}

	return Args{
		ConfigPath:  path,
		ShowVersion: *showVersion,
		Iterations:  *iterations,
		Period:      *period,
	}
}
