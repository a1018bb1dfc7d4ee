package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/obstacle-shadowing/annotation"
	"github.com/signalsfoundry/obstacle-shadowing/internal/logging"
	"github.com/signalsfoundry/obstacle-shadowing/internal/observability"
	"github.com/signalsfoundry/obstacle-shadowing/internal/sim"
	"github.com/signalsfoundry/obstacle-shadowing/scenario"
	"github.com/signalsfoundry/obstacle-shadowing/shadowing"
)

// Config holds the command line settings for one invocation.
type Config struct {
	ScenarioPath string
	MetricsAddr  string
	Policy       string
	Hotspots     int
	Hold         bool
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.ScenarioPath, "scenario", "configs/scenario.json", "path to a JSON scenario")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics (disabled when empty)")
	flag.StringVar(&cfg.Policy, "policy", "", "override the scenario's accumulation policy (overwrite or product)")
	flag.IntVar(&cfg.Hotspots, "hotspots", 5, "number of annotation hotspots to report")
	flag.BoolVar(&cfg.Hold, "hold", false, "keep serving /metrics after the run until interrupted")
	flag.Parse()

	log := logging.NewFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.Err(err))
		os.Exit(1)
	}

	err = run(ctx, cfg, log, os.Stdout)
	observability.ShutdownWithTimeout(context.Background(), shutdown, log)
	if err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(exitCode(err))
	}
}

// run loads the scenario, executes it and writes the report to out.
func run(ctx context.Context, cfg Config, log logging.Logger, out io.Writer) error {
	sc, err := scenario.LoadFile(cfg.ScenarioPath)
	if err != nil {
		return err
	}
	if cfg.Policy != "" {
		p, err := shadowing.ParsePolicy(cfg.Policy)
		if err != nil {
			return err
		}
		sc.Policy = p
	}

	reg := prometheus.NewRegistry()
	collector, err := observability.NewShadowingCollector(reg)
	if err != nil {
		return fmt.Errorf("initialise metrics collector: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)
	defer func() {
		if metricsSrv == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	runner := sim.NewRunner(sc,
		sim.WithRunnerLogger(log),
		sim.WithRunnerMetrics(collector),
		sim.WithAnnotations(annotation.NewManager(0, log), cfg.Hotspots),
	)
	rep, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if err := writeReport(out, rep); err != nil {
		return err
	}

	if cfg.Hold && metricsSrv != nil {
		log.Info(ctx, "run finished; serving metrics until interrupted", logging.String("addr", cfg.MetricsAddr))
		<-ctx.Done()
	}
	return nil
}

// exitCode maps configuration problems to 2 and everything else to 1.
func exitCode(err error) int {
	if errors.Is(err, shadowing.ErrObstacleConfiguration) || errors.Is(err, scenario.ErrInvalidScenario) {
		return 2
	}
	return 1
}

func metricsMux(collector *observability.ShadowingCollector) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())
	return mux
}

func serveMetrics(addr string, collector *observability.ShadowingCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsMux(collector),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func writeReport(out io.Writer, rep *sim.Report) error {
	st := rep.Stats
	fmt.Fprintf(out, "scenario %q (run %s)\n", rep.Scenario, rep.RunID)
	fmt.Fprintf(out, "simulated %s in %s, %d events, %d obstacle changes\n",
		rep.SimTime, rep.WallTime.Round(time.Microsecond), rep.Events, rep.ObstacleEvents)
	fmt.Fprintf(out, "signals %d: cache hits %d, misses %d, overflow clears %d, invalidations %d\n",
		st.Signals, st.Hits, st.Misses, st.OverflowClears, st.Invalidations)
	fmt.Fprintf(out, "obstacles evaluated %d, early exits %d\n\n", st.ObstaclesEvaluated, st.EarlyExits)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FROM\tTO\tSIGNALS\tLAST dBm\tLAST LOSS dB\tMAX LOSS dB")
	for _, l := range rep.Links {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.2f\t%.2f\t%.2f\n",
			l.From, l.To, l.Signals, l.LastPowerDBm, l.LastLossDB, l.MaxLossDB)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(rep.Hotspots) > 0 {
		fmt.Fprintln(out, "\nhotspots:")
		for _, h := range rep.Hotspots {
			fmt.Fprintf(out, "  %s %q x%d\n", h.At, h.Text, h.Count)
		}
	}
	return nil
}
