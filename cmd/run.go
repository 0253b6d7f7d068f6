package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/olp-runtime/olp/olp"
	"github.com/olp-runtime/olp/olp/hal"
)

var (
	// CLI flags for the workload
	seed               int64         // Seed for workload generation and fault injection
	numScopes          int           // Number of concurrent scopes
	iterations         int           // Executions per scope
	matrixSize         int           // Matrix dimension of each job
	gatherEvery        int           // Every n-th scope uses a scattered access pattern; 0 disables
	checkpointInterval time.Duration // How often the application registers a new checkpoint

	// CLI flags overriding the config file
	configPath          string
	confidenceThreshold float64
	gainThreshold       float64
	scorerName          string
	mispredictRate      float64
	hardwareFaultRate   float64
	deviceLatency       time.Duration
	deviceTimeout       time.Duration

	// CLI flags for telemetry
	metricsEnabled  bool
	metricsInterval time.Duration
)

// runCmd drives a matrix-multiply workload through the engine and a simulated PIM device
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a matrix-multiply workload across scopes with fault injection",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := defaultFileConfig()
		if configPath != "" {
			loaded, err := loadFileConfig(configPath)
			if err != nil {
				logrus.Fatalf("Failed to load config %s: %v", configPath, err)
			}
			cfg = loaded
		}
		applyFlagOverrides(cmd, &cfg)

		if numScopes <= 0 || iterations <= 0 || matrixSize <= 0 {
			logrus.Fatalf("--scopes, --iterations and --matrix-size must be positive")
		}

		shutdown, err := setupMetrics(metricsEnabled, metricsInterval)
		if err != nil {
			logrus.Fatalf("Failed to set up metrics: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logrus.Warnf("metrics shutdown: %v", err)
			}
		}()

		logrus.Infof("Starting run: scopes=%d iterations=%d matrix=%dx%d seed=%d mispredict=%.3f hwfault=%.3f",
			numScopes, iterations, matrixSize, matrixSize, cfg.Device.Seed, cfg.Device.MispredictRate, cfg.Device.HardwareFaultRate)

		report, err := runWorkload(cmd.Context(), cfg)
		if err != nil {
			logrus.Fatalf("Run failed: %v", err)
		}
		if err := report.Print(os.Stdout); err != nil {
			logrus.Fatalf("Failed to print report: %v", err)
		}
		logrus.Info("Run complete.")
	},
}

// applyFlagOverrides copies explicitly set flags over the loaded config.
// Unset flags never overwrite values from the file.
func applyFlagOverrides(cmd *cobra.Command, cfg *fileConfig) {
	flags := cmd.Flags()
	if flags.Changed("confidence") {
		cfg.Engine.Admission.ConfidenceThreshold = &confidenceThreshold
	}
	if flags.Changed("gain") {
		cfg.Engine.Admission.GainThreshold = &gainThreshold
	}
	if flags.Changed("scorer") {
		cfg.Engine.Scorer.Name = scorerName
	}
	if flags.Changed("seed") {
		cfg.Device.Seed = seed
	}
	if flags.Changed("mispredict-rate") {
		cfg.Device.MispredictRate = mispredictRate
	}
	if flags.Changed("hardware-fault-rate") {
		cfg.Device.HardwareFaultRate = hardwareFaultRate
	}
	if flags.Changed("latency") {
		cfg.Device.Latency = deviceLatency
	}
	if flags.Changed("timeout") {
		cfg.Device.Timeout = deviceTimeout
	}
}

// runWorkload runs every scope on its own goroutine while a ticker advances
// the application state and registers checkpoints.
func runWorkload(ctx context.Context, cfg fileConfig) (runReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	dev, err := hal.NewSimDevice(cfg.Device)
	if err != nil {
		return runReport{}, err
	}
	engine, err := olp.NewEngine(cfg.Engine, dev, nil)
	if err != nil {
		return runReport{}, err
	}
	dev.Attach(engine)

	var state atomic.Uint64
	checkpoint := func() {
		ref := state.Add(1)
		dev.SetState(ref)
		engine.RegisterNamedCheckpoint(ref, fmt.Sprintf("tick-%d", ref))
	}
	checkpoint()

	// One RNG per scope, derived up front: PartitionedRNG is single-goroutine.
	rngs := hal.NewPartitionedRNG(cfg.Device.Seed)
	scopeRNGs := make([]*rand.Rand, numScopes)
	for i := range scopeRNGs {
		scopeRNGs[i] = rngs.ForSubsystem(fmt.Sprintf("%s_%d", hal.SubsystemWorkload, i))
	}

	tickCtx, stopTicker := context.WithCancel(ctx)
	tickerDone := make(chan struct{})
	go func() {
		defer close(tickerDone)
		if checkpointInterval <= 0 {
			return
		}
		t := time.NewTicker(checkpointInterval)
		defer t.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-t.C:
				checkpoint()
			}
		}
	}()

	started := time.Now()
	var recovered atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < numScopes; i++ {
		scope := int64(i)
		rng := scopeRNGs[i]
		g.Go(func() error {
			ec, err := engine.SetContext("matmul", scope)
			if err != nil {
				return err
			}
			pattern := patternFor(scope, gatherEvery)
			base := uint64(scope+1) << 32
			for it := 0; it < iterations; it++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				job := newMatmulJob(rng, matrixSize, base, pattern)
				_, err := engine.Execute(gctx, ec, multiply, job)
				switch {
				case err == nil:
				case errors.Is(err, olp.ErrCriticalMispredict), errors.Is(err, olp.ErrHardwareFault):
					recovered.Add(1)
				default:
					return fmt.Errorf("scope %d iteration %d: %w", scope, it, err)
				}
			}
			return nil
		})
	}
	err = g.Wait()
	stopTicker()
	<-tickerDone
	if err != nil {
		return runReport{}, err
	}
	return buildReport(engine, dev, recovered.Load(), started, cfg), nil
}

func init() {
	runCmd.Flags().Int64Var(&seed, "seed", defaultSeed, "Seed for workload generation and fault injection")
	runCmd.Flags().IntVar(&numScopes, "scopes", 4, "Number of concurrent scopes")
	runCmd.Flags().IntVar(&iterations, "iterations", 200, "Executions per scope")
	runCmd.Flags().IntVar(&matrixSize, "matrix-size", 16, "Matrix dimension of each job")
	runCmd.Flags().IntVar(&gatherEvery, "gather-every", 4, "Every n-th scope uses a scattered access pattern (0 disables)")
	runCmd.Flags().DurationVar(&checkpointInterval, "checkpoint-interval", 5*time.Millisecond, "Interval between checkpoint registrations (0 registers once)")

	runCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config (see `olp config`)")
	runCmd.Flags().Float64Var(&confidenceThreshold, "confidence", olp.DefaultConfidenceThreshold, "Confidence threshold for offloading")
	runCmd.Flags().Float64Var(&gainThreshold, "gain", olp.DefaultGainThreshold, "Predicted gain threshold for offloading")
	runCmd.Flags().StringVar(&scorerName, "scorer", "rule-based", "Scorer (fixed, rule-based, learned)")
	runCmd.Flags().Float64Var(&mispredictRate, "mispredict-rate", defaultMispredictRate, "Probability that a PIM dispatch raises a critical mispredict")
	runCmd.Flags().Float64Var(&hardwareFaultRate, "hardware-fault-rate", defaultHardwareFaultRate, "Probability that a PIM dispatch raises a hardware fault")
	runCmd.Flags().DurationVar(&deviceLatency, "latency", 0, "Simulated PIM transfer latency")
	runCmd.Flags().DurationVar(&deviceTimeout, "timeout", 0, "PIM watchdog timeout (0 disables)")

	runCmd.Flags().BoolVar(&metricsEnabled, "metrics", false, "Export OpenTelemetry metrics to stdout")
	runCmd.Flags().DurationVar(&metricsInterval, "metrics-interval", 10*time.Second, "Metrics export interval")

	rootCmd.AddCommand(runCmd)
}
