package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
	"github.com/tahsin716/taskmill"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/automaxprocs/maxprocs"
	"gopkg.in/yaml.v3"
)

// app carries the state shared by every subcommand.
type app struct {
	configPath string
	flags      fileConfig
	cfg        fileConfig

	out    io.Writer
	errOut io.Writer
	log    *logiface.Logger[logiface.Event]

	undoMaxProcs func()
}

// newRootCmd creates the root cobra command for millbench.
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:   "millbench",
		Short: "Exercise the taskmill work-stealing scheduler",
		Long:  "millbench runs synthetic fork-join, data-parallel, external submission,\n" +
			"strand and render-affinity workloads on a taskmill scheduler and prints\n" +
			"a YAML report.",
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(*cobra.Command, []string) { a.teardown() },
		SilenceUsage:      true,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML config file")
	registerFlags(root, &a.flags)

	root.AddCommand(
		newFibCmd(a),
		newSumCmd(a),
		newTreeCmd(a),
		newSpawnCmd(a),
		newStrandCmd(a),
		newRenderCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	file, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.cfg, err = overlay(cmd, file, a.flags); err != nil {
		return err
	}

	level, err := parseLevel(a.cfg.LogLevel)
	if err != nil {
		return err
	}
	a.log = stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(a.errOut)),
		stumpy.L.WithLevel(level),
	).Logger()

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		a.log.Debug().Logf(format, args...)
	}))
	if err != nil {
		a.log.Warning().Err(err).Log("GOMAXPROCS not adjusted")
	}
	a.undoMaxProcs = undo
	return nil
}

func (a *app) teardown() {
	if a.undoMaxProcs != nil {
		a.undoMaxProcs()
	}
}

// run builds a scheduler from the config, starts it, hands it to drive and
// writes the report. drive must return once its jobs are accepted or done;
// run waits for the scheduler to go idle before measuring.
func (a *app) run(cmd *cobra.Command, workload string, drive func(ctx context.Context, s *taskmill.Scheduler) (any, error)) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	opts, err := a.cfg.options()
	if err != nil {
		return err
	}
	opts = append(opts, taskmill.WithLogger(a.log))

	var reader *sdkmetric.ManualReader
	if a.cfg.Metrics {
		reader = sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()
		opts = append(opts, taskmill.WithMeterProvider(mp))
	}

	s, err := taskmill.New(opts...)
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	start := time.Now()
	result, driveErr := drive(ctx, s)
	if driveErr == nil {
		driveErr = s.Wait(ctx)
	}
	elapsed := time.Since(start)

	rep := newReport(workload, s, elapsed, result)
	if reader != nil {
		if rep.Metrics, err = collectMetrics(ctx, reader); err != nil {
			a.log.Warning().Err(err).Log("metrics collection failed")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	stopErr := s.Shutdown(shutdownCtx)

	if driveErr != nil {
		return fmt.Errorf("%s: %w", workload, driveErr)
	}
	if stopErr != nil {
		return fmt.Errorf("%s: shutdown: %w", workload, stopErr)
	}

	enc := yaml.NewEncoder(a.out)
	enc.SetIndent(2)
	if err := enc.Encode(rep); err != nil {
		return err
	}
	return enc.Close()
}

// spawnRoot runs fn as a single root job and waits for its result.
func spawnRoot[R any](fn func(w *taskmill.Worker) (R, error)) func(ctx context.Context, s *taskmill.Scheduler) (any, error) {
	return func(ctx context.Context, s *taskmill.Scheduler) (any, error) {
		return taskmill.Spawn(s, fn).Wait(ctx)
	}
}
