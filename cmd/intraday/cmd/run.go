package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/intraday/config"
	"github.com/rustyeddy/intraday/engine"
	"github.com/rustyeddy/intraday/experience"
	"github.com/rustyeddy/intraday/replay"
	"github.com/rustyeddy/intraday/risk"
	"github.com/rustyeddy/intraday/signal"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a CSV event file through the risk engine",
	Long: `Run the engine over recorded events.

The events file has the columns time,instrument,event,p1,p2,p3,p4 where event is
one of price, signal, reset, force, suspend or resume. Closed positions are
appended to the configured experience store.

Example:
  intraday run -c intraday.yaml -e events.csv --close-at-end`,
	RunE: runRun,
}

var (
	runEventsPath string
	runFrom       string
	runTo         string
	runCloseAtEnd bool
	runHold       bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runEventsPath, "events", "e", "", "path to events CSV (required)")
	runCmd.Flags().StringVar(&runFrom, "from", "", "skip events before this RFC3339 time")
	runCmd.Flags().StringVar(&runTo, "to", "", "skip events at or after this RFC3339 time")
	runCmd.Flags().BoolVar(&runCloseAtEnd, "close-at-end", false, "force-close positions still open when the feed ends")
	runCmd.Flags().BoolVar(&runHold, "hold", false, "keep serving metrics after the replay until interrupted")
	runCmd.MarkFlagRequired("events")
}

func parseBound(name, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := replay.ParseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad --%s: %w", name, err)
	}
	return t, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	from, err := parseBound("from", runFrom)
	if err != nil {
		return err
	}
	to, err := parseBound("to", runTo)
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return fmt.Errorf("--from must be before --to")
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RegisterInstruments(); err != nil {
		return err
	}

	feed, err := replay.OpenFeed(runEventsPath, from, to)
	if err != nil {
		return fmt.Errorf("open events: %w", err)
	}
	evs, err := feed.ReadAll()
	feed.Close()
	if err != nil {
		return fmt.Errorf("read events: %w", err)
	}

	store, err := experience.Open(cfg.Store.Type, cfg.Store.DBPath, cfg.Store.CSVPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	eng, err := buildEngine(cfg, store, engine.NewMetrics(reg), log)
	if err != nil {
		return err
	}

	ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		serveMetrics(gctx, g, cfg.Metrics.Addr, reg, log)
	}

	var sum replay.Summary
	g.Go(func() error {
		runner := &replay.Runner{Engine: eng, Log: log, CloseAtEnd: runCloseAtEnd}
		var err error
		sum, err = runner.Run(gctx, evs)
		if err != nil {
			return err
		}
		if runHold && cfg.Metrics.Addr != "" {
			log.Info().Str("addr", cfg.Metrics.Addr).Msg("replay done, serving metrics until interrupted")
			<-gctx.Done()
			return nil
		}
		cancel()
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	printSummary(cmd, eng, sum)
	return nil
}

func buildEngine(cfg *config.Config, store experience.Store, m *engine.Metrics, log zerolog.Logger) (*engine.Engine, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}
	gov, err := risk.NewGovernor(policy.BaseLossLimit, log)
	if err != nil {
		return nil, err
	}
	filter, err := signal.NewFilter(
		gov,
		signal.WinRate{Window: cfg.Filter.Window},
		cfg.Filter.ConfidenceThreshold,
		cfg.Filter.ExplorationRate,
		signal.NewInstrumentRand(cfg.Filter.Seed),
	)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Options{
		Policy:     policy,
		RiskAmount: cfg.Sizing.RiskAmount,
		Governor:   gov,
		Filter:     filter,
		Store:      store,
		Metrics:    m,
		Logger:     log,
	})
}

// serveMetrics exposes reg on addr until ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, reg *prometheus.Registry, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

func printSummary(cmd *cobra.Command, eng *engine.Engine, sum replay.Summary) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Instrument", "Events", "Signals", "Accepted", "Explored", "Rejected", "Exits", "Closed", "Data errors", "P&L", "State"})

	for _, instr := range sum.Instruments() {
		st := sum.ByInstrument[instr]
		day := eng.DayState(instr)
		t.AppendRow(table.Row{
			instr, st.Events, st.Signals, st.Accepted, st.Explored, st.Rejected,
			st.Exits, st.Closed, st.DataErrors, fmt.Sprintf("%.2f", st.PnL), day.Status.String(),
		})
	}
	tot := sum.Total
	t.AppendFooter(table.Row{
		"Total", tot.Events, tot.Signals, tot.Accepted, tot.Explored, tot.Rejected,
		tot.Exits, tot.Closed, tot.DataErrors, fmt.Sprintf("%.2f", tot.PnL), eng.Status().String(),
	})
	t.Render()

	if len(tot.Rejections) > 0 {
		r := table.NewWriter()
		r.SetOutputMirror(cmd.OutOrStdout())
		r.SetStyle(table.StyleLight)
		r.AppendHeader(table.Row{"Rejection", "Count"})
		for reason, n := range tot.Rejections {
			r.AppendRow(table.Row{reason, n})
		}
		r.SortBy([]table.SortBy{{Name: "Count", Mode: table.DscNumeric}})
		r.Render()
	}
}
