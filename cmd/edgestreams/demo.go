package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/edgestreams/control/natsctl"
	"github.com/c360/edgestreams/engine"
	"github.com/c360/edgestreams/natsclient"
	"github.com/c360/edgestreams/pkg/buffer"
	"github.com/c360/edgestreams/pkg/retry"
	"github.com/c360/edgestreams/processor/plumbing"
	"github.com/c360/edgestreams/processor/sensors"
	"github.com/c360/edgestreams/topology"
)

type demoOptions struct {
	Duration       time.Duration
	Period         time.Duration
	Low            float64
	High           float64
	MaxSuppression time.Duration
}

func newDemoCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &demoOptions{}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a simulated sensor through a deadband filter",
		Long: `Submit a job that polls a simulated temperature sensor, hands readings
to a separate goroutine through a bounded queue, suppresses
readings inside the [low..high] band and prints the rest.

When control.nats_url is configured the job's control operations are
served on control.subject for the lifetime of the command. The job's
graph snapshot is printed after it closes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDemo(ctx, rootOpts, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.DurationVar(&opts.Duration, "duration", 5*time.Second, "how long to run, 0 to run until interrupted")
	flags.DurationVar(&opts.Period, "period", 100*time.Millisecond, "sensor poll period")
	flags.Float64Var(&opts.Low, "low", 18, "lower bound of the suppressed band")
	flags.Float64Var(&opts.High, "high", 22, "upper bound of the suppressed band")
	flags.DurationVar(&opts.MaxSuppression, "max-suppression", 0, "pass an in-band reading at least this often")
	return cmd
}

// syncWriter serializes writes from sink goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// thermometer produces a slow sine wave around 20 degrees.
type thermometer struct {
	mu   sync.Mutex
	tick int
}

func (t *thermometer) read() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := 20 + 6*math.Sin(float64(t.tick)*0.35)
	t.tick++
	return math.Round(v*100) / 100, true
}

func runDemo(ctx context.Context, rootOpts *rootOptions, opts *demoOptions, stdout, stderr io.Writer) error {
	band, err := sensors.NewRange(opts.Low, sensors.Closed, opts.High, sensors.Closed)
	if err != nil {
		return err
	}

	cfg, err := rootOpts.loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, stderr)

	provider, err := engine.NewProvider(append(engine.FromConfig(cfg), engine.WithLogger(logger))...)
	if err != nil {
		return err
	}

	out := &syncWriter{w: stdout}
	sensor := &thermometer{}

	top := provider.NewTopology("thermostat")
	readings := topology.Poll(top, opts.Period, sensor.read)
	readings = topology.Pipe[float64, float64](readings, plumbing.NewIsolate[float64](64).WithPolicy(buffer.DropOldest))
	var dbOpts []sensors.Option
	if opts.MaxSuppression > 0 {
		dbOpts = append(dbOpts, sensors.WithMaxSuppression(opts.MaxSuppression))
	}
	outside := sensors.DeadbandStream(readings, func(v float64) float64 { return v }, band.InBand(), dbOpts...)
	topology.Sink(outside, func(v float64) {
		_, _ = fmt.Fprintf(out, "reading %.2f outside %s\n", v, band)
	})

	job, err := provider.Submit(ctx, top)
	if err != nil {
		_ = provider.Close(context.Background())
		return err
	}
	logger.Info("Demo job running", "job", job.ID(), "name", job.Name())

	if cfg.Control.NATSURL != "" {
		closeControl, err := serveControl(ctx, cfg.Control.NATSURL, cfg.Control.Subject, provider)
		if err != nil {
			_ = provider.Close(context.Background())
			return err
		}
		defer closeControl()
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	select {
	case <-ctx.Done():
	case <-job.Done():
		logger.Info("Demo job closed externally")
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Jobs.CloseTimeout)
	defer cancel()
	closeErr := provider.Close(closeCtx)

	data, err := job.GraphSnapshot().JSON()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s\n", data)
	return closeErr
}

func serveControl(ctx context.Context, url, subject string, provider *engine.Provider) (func(), error) {
	client, err := natsclient.NewClient(url, natsclient.WithName(appName))
	if err != nil {
		return nil, err
	}
	if err := client.ConnectWithRetry(ctx, retry.Quick()); err != nil {
		return nil, err
	}
	srv := natsctl.NewServer(client, provider.Registry(), natsctl.WithSubject(subject))
	if err := srv.Start(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, err
	}
	return func() {
		_ = srv.Close()
		_ = client.Close(context.Background())
	}, nil
}
