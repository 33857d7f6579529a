package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/polytrader/internal/adapters/metrics"
	"github.com/alejandrodnm/polytrader/internal/application/ranking"
	"github.com/alejandrodnm/polytrader/internal/application/replay"
	"github.com/alejandrodnm/polytrader/internal/application/search"
	"github.com/alejandrodnm/polytrader/internal/application/tournament"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

func readTournamentSpec(path string) (domain.TournamentSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.TournamentSpec{}, fmt.Errorf("read %s: %w", path, err)
	}
	var spec domain.TournamentSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return domain.TournamentSpec{}, domain.NewConfigError("spec", "%s: %v", path, err)
	}
	return spec, nil
}

func (a *app) tournamentCmd() *cobra.Command {
	var (
		specFile    string
		dir         string
		workers     int
		metricsFile string
	)
	cmd := &cobra.Command{
		Use:   "tournament",
		Short: "Run every experiment of a spec file, each against its own store",
		Long:  "Run a tournament. Exits with code 2 when no experiment produced a fill.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec, err := readTournamentSpec(specFile)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("workers") {
				workers = a.cfg.Tournament.Workers
			}
			if metricsFile == "" {
				metricsFile = a.cfg.Tournament.MetricsFile
			}

			stores := a.factory(dir)
			for _, s := range spec.Experiments {
				if !stores.Lists(s) {
					slog.Warn("experiment store outside the rank directory, rank will not see it",
						"tag", s.Tag, "db", stores.PathFor(s), "dir", stores.Dir)
				}
			}

			client := a.polymarket()
			deps := tournament.Deps{
				Markets:  client,
				Books:    client,
				Stores:   stores,
				Registry: a.registry(),
				Marker:   client,
				Feed:     a.spotFeed(),
			}
			var reg *metrics.Registry
			if metricsFile != "" {
				reg = metrics.NewRegistry()
				deps.Metrics = reg
			}

			runner := tournament.New(tournament.Config{
				Workers:     workers,
				EvalWorkers: a.cfg.Tournament.EvalWorkers,
				SpotPair:    a.cfg.Tournament.SpotPair,
			}, deps)

			results, runErr := runner.Run(cmd.Context(), spec.Experiments)
			if reg != nil {
				if err := reg.WriteTextfile(metricsFile); err != nil {
					slog.Warn("metrics textfile not written", "path", metricsFile, "err", err)
				}
			}
			if results != nil {
				if err := a.out.PrintResults(results); err != nil {
					return err
				}
			}
			if runErr != nil {
				return runErr
			}
			for _, r := range results {
				if r.FillCount > 0 {
					return nil
				}
			}
			return errNoFills
		},
	}
	cmd.Flags().StringVar(&specFile, "spec", "tournament.spec.json", "tournament spec file")
	cmd.Flags().StringVar(&dir, "dir", "", "directory for per-experiment stores (default storage.dir)")
	cmd.Flags().IntVar(&workers, "workers", 1, "experiments run in parallel (default tournament.workers)")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")
	return cmd
}

func (a *app) mutateCmd() *cobra.Command {
	var (
		baseFile    string
		spaceFile   string
		outFile     string
		seed        uint64
		maxVariants int
		maxSpace    int
	)
	cmd := &cobra.Command{
		Use:   "mutate",
		Short: "Expand base experiments over a search space into a tournament spec",
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := readTournamentSpec(baseFile)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(spaceFile)
			if err != nil {
				return fmt.Errorf("read %s: %w", spaceFile, err)
			}
			space, err := search.ParseSpace(raw)
			if err != nil {
				return err
			}

			lim := a.cfg.Limits()
			if cmd.Flags().Changed("max-variants") {
				lim.MaxVariants = maxVariants
			}
			if cmd.Flags().Changed("max-space") {
				lim.MaxSpace = maxSpace
			}

			variants, err := search.MutateAll(base.Experiments, space, seed, lim)
			if err != nil {
				return err
			}
			out := domain.TournamentSpec{Experiments: variants}
			if outFile == "" || outFile == "-" {
				return a.out.PrintJSON(out)
			}

			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("encode variants: %w", err)
			}
			if err := os.WriteFile(outFile, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", outFile, err)
			}
			slog.Info("variants written", "path", outFile, "experiments", len(variants), "mode", space.Mode)
			return a.out.PrintJSON(map[string]any{
				"output_file":           outFile,
				"generated_experiments": len(variants),
				"mode":                  space.Mode,
				"seed":                  seed,
			})
		},
	}
	cmd.Flags().StringVar(&baseFile, "base", "tournament.spec.json", "base tournament spec file")
	cmd.Flags().StringVar(&spaceFile, "space", "search_space.json", "search space file")
	cmd.Flags().StringVar(&outFile, "out", "", "output file (default stdout)")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "seed for sampled mode")
	cmd.Flags().IntVar(&maxVariants, "max-variants", search.DefaultMaxVariants, "cap on generated experiments")
	cmd.Flags().IntVar(&maxSpace, "max-space", search.DefaultMaxSpace, "cap on the sampled space size")
	return cmd
}

func (a *app) rankCmd() *cobra.Command {
	var (
		dir     string
		prefix  string
		by      string
		pareto  bool
		paretoM string
		topN    int
	)
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank persisted experiment results by score or Pareto front",
		RunE: func(cmd *cobra.Command, _ []string) error {
			results, err := a.factory(dir).LoadResults(cmd.Context(), prefix)
			if err != nil {
				return err
			}

			opts := ranking.Options{
				Mode:    ranking.ModeScore,
				Weights: a.cfg.Ranking.Weights,
				TopN:    a.cfg.Ranking.TopN,
			}
			if pareto {
				opts.Mode = ranking.ModePareto
			}
			if by != "" {
				ms, err := ranking.ParseMetrics("by", by)
				if err != nil {
					return err
				}
				if len(ms) != 1 {
					return domain.NewConfigError("by", "exactly one metric expected, got %q", by)
				}
				opts.By = ms[0]
			}
			if paretoM != "" {
				if opts.Metrics, err = ranking.ParseMetrics("pareto-metrics", paretoM); err != nil {
					return err
				}
			} else if opts.Metrics, err = a.cfg.ParetoMetrics(); err != nil {
				return err
			}
			if cmd.Flags().Changed("top-n") {
				opts.TopN = topN
			}

			entries, err := ranking.Rank(results, opts)
			if err != nil {
				return err
			}
			return a.out.PrintLeaderboard(entries, opts)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of experiment stores (default storage.dir)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "only rank tags with this prefix")
	cmd.Flags().StringVar(&by, "by", "", "order by this metric instead of score")
	cmd.Flags().BoolVar(&pareto, "pareto", false, "return the Pareto front only")
	cmd.Flags().StringVar(&paretoM, "pareto-metrics", "", "comma-separated Pareto metrics (default from config)")
	cmd.Flags().IntVar(&topN, "top-n", 0, "keep the top N rows (0 = all)")
	return cmd
}

func (a *app) replayCmd() *cobra.Command {
	var (
		sf      storeFlags
		start   string
		end     string
		noMarks bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay the fills of an experiment within a time window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var w domain.TimeWindow
			var err error
			if w.Start, err = parseTimestamp("start", start); err != nil {
				return err
			}
			if w.End, err = parseTimestamp("end", end); err != nil {
				return err
			}

			tag, store, err := a.openStore(cmd.Context(), sf)
			if err != nil {
				return err
			}
			defer store.Close()

			tl, err := replay.Replay(cmd.Context(), store, tag, w, a.marker(noMarks))
			if err != nil {
				return err
			}
			return a.out.PrintTimeline(tl)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&start, "start", "", "window start, RFC3339 or YYYY-MM-DD (inclusive)")
	cmd.Flags().StringVar(&end, "end", "", "window end, RFC3339 or YYYY-MM-DD (exclusive)")
	cmd.Flags().BoolVar(&noMarks, "no-marks", false, "do not mark open trades to the current midpoint")
	return cmd
}

func parseTimestamp(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, domain.NewConfigError(field, "unrecognized timestamp %q", s)
}
