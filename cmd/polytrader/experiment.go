package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/polytrader/internal/adapters/storage"
	"github.com/alejandrodnm/polytrader/internal/application/portfolio"
	"github.com/alejandrodnm/polytrader/internal/application/scan"
	"github.com/alejandrodnm/polytrader/internal/application/search"
	"github.com/alejandrodnm/polytrader/internal/application/tournament"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

func (a *app) initCmd() *cobra.Command {
	var (
		sf       storeFlags
		bankroll float64
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an experiment store with a starting paper bankroll",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			tag, store, err := a.openStore(cmd.Context(), sf)
			if err != nil {
				return err
			}
			defer store.Close()

			if !cmd.Flags().Changed("bankroll") {
				bankroll = a.cfg.Bankroll
			}
			spec := domain.ExperimentSpec{Tag: tag, DB: sf.db, InitBankroll: bankroll, Scan: a.cfg.Scan}
			if err := spec.Validate(); err != nil {
				return err
			}
			if _, err := store.Init(ctx, spec); err != nil {
				return err
			}
			summary, _, err := portfolio.Summary(ctx, store, nil)
			if err != nil {
				return err
			}
			return a.out.PrintAccount(tag, summary)
		},
	}
	sf.register(cmd)
	cmd.Flags().Float64Var(&bankroll, "bankroll", domain.DefaultBankroll, "starting paper bankroll")
	return cmd
}

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List registered signal models and sizers",
		RunE: func(*cobra.Command, []string) error {
			return a.out.PrintCatalog(a.registry().Catalog())
		},
	}
}

func (a *app) varsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "vars",
		Short: "List the experiment fields a search space can mutate",
		RunE: func(*cobra.Command, []string) error {
			return a.out.PrintVariables(search.Variables(a.registry()))
		},
	}
}

func (a *app) marketsCmd() *cobra.Command {
	var (
		query        string
		limit        int
		minLiquidity float64
		minVolume    float64
	)
	cmd := &cobra.Command{
		Use:   "markets",
		Short: "Search active markets and show their midpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			snaps, err := a.polymarket().FetchMarkets(cmd.Context(), domain.MarketQuery{Query: query, Limit: limit})
			if err != nil {
				return err
			}
			kept, _ := scan.NewFilter(scan.FilterConfig{MinLiquidity: minLiquidity, MinVolume: minVolume}).Apply(snaps)
			return a.out.PrintMarkets(kept)
		},
	}
	cmd.Flags().StringVar(&query, "query", "", "search query (substring of question, slug or category)")
	cmd.Flags().IntVar(&limit, "limit", 20, "max markets")
	cmd.Flags().Float64Var(&minLiquidity, "min-liquidity", 0, "min liquidity (USDC)")
	cmd.Flags().Float64Var(&minVolume, "min-volume", 0, "min volume (USDC)")
	return cmd
}

// scanFlags sobreescriben el ScanSpec de la config.
type scanFlags struct {
	model        string
	sizer        string
	query        string
	limit        int
	minLiquidity float64
	minVolume    float64
	maxHours     float64
	modelConfig  string
	sizerConfig  string
}

func (f *scanFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.model, "model", "", "signal model (default from config)")
	fl.StringVar(&f.sizer, "sizer", "", "sizer (default from config)")
	fl.StringVar(&f.query, "query", "", "market search query")
	fl.IntVar(&f.limit, "limit", 0, "markets fetched")
	fl.Float64Var(&f.minLiquidity, "min-liquidity", 0, "min liquidity (USDC)")
	fl.Float64Var(&f.minVolume, "min-volume", 0, "min volume (USDC)")
	fl.Float64Var(&f.maxHours, "max-hours", 0, "max hours to expiry (0 = no limit)")
	fl.StringVar(&f.modelConfig, "model-config", "", `model config as JSON, e.g. '{"min_edge":0.01}'`)
	fl.StringVar(&f.sizerConfig, "sizer-config", "", `sizer config as JSON, e.g. '{"fraction":0.5}'`)
}

func (f *scanFlags) apply(cmd *cobra.Command, s domain.ScanSpec) (domain.ScanSpec, error) {
	changed := cmd.Flags().Changed
	if changed("model") {
		s.Model = f.model
		s.ModelConfig = nil
	}
	if changed("sizer") {
		s.Sizer = f.sizer
		s.SizerConfig = nil
	}
	if changed("query") {
		s.Query = f.query
	}
	if changed("limit") {
		s.Limit = f.limit
	}
	if changed("min-liquidity") {
		s.MinLiquidity = f.minLiquidity
	}
	if changed("min-volume") {
		s.MinVolume = f.minVolume
	}
	if changed("max-hours") {
		s.MaxHoursToExpiry = f.maxHours
	}
	if f.modelConfig != "" {
		if err := json.Unmarshal([]byte(f.modelConfig), &s.ModelConfig); err != nil {
			return s, domain.NewConfigError("scan.model_config", "invalid JSON: %v", err)
		}
	}
	if f.sizerConfig != "" {
		if err := json.Unmarshal([]byte(f.sizerConfig), &s.SizerConfig); err != nil {
			return s, domain.NewConfigError("scan.sizer_config", "invalid JSON: %v", err)
		}
	}
	return s, nil
}

func (a *app) scanCmd() *cobra.Command {
	var (
		sf       storeFlags
		flags    scanFlags
		bankroll float64
		dryRun   bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one model -> sizer -> fill scan and record the fills",
		Long:  "Run one scan. Exits with code 2 when the scan is valid but produced no fills.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			tag, path := a.resolveStore(sf)

			scanSpec, err := flags.apply(cmd, domain.ExperimentSpec{Scan: a.cfg.Scan}.Clone().Scan)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("bankroll") {
				bankroll = a.cfg.Bankroll
			}

			var store ports.ExperimentStore
			if dryRun {
				store = storage.NewMemoryStore()
				if tag == "" {
					tag = tagFromPath(path)
				}
			} else {
				s, err := a.factory("").OpenPath(path)
				if err != nil {
					return fmt.Errorf("open store %s: %w", path, err)
				}
				defer s.Close()
				store = s
				if tag, err = storeTag(ctx, s, tag); err != nil {
					return err
				}
			}
			spec := domain.ExperimentSpec{Tag: tag, DB: sf.db, InitBankroll: bankroll, Scan: scanSpec}

			client := a.polymarket()
			runner := tournament.New(tournament.Config{
				EvalWorkers: a.cfg.Tournament.EvalWorkers,
				SpotPair:    a.cfg.Tournament.SpotPair,
			}, tournament.Deps{
				Markets:  client,
				Books:    client,
				Registry: a.registry(),
				Feed:     a.spotFeed(),
			})

			outcome, err := runner.Scan(ctx, spec, store)
			if err != nil {
				return err
			}
			if err := a.out.PrintScan(outcome); err != nil {
				return err
			}
			if outcome.Run.FillCount == 0 {
				return errNoFills
			}
			return nil
		},
	}
	sf.register(cmd)
	flags.register(cmd)
	cmd.Flags().Float64Var(&bankroll, "bankroll", domain.DefaultBankroll, "bankroll if the store is new")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "use an in-memory store (nothing is persisted)")
	return cmd
}
