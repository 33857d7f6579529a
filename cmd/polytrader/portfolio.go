package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/polytrader/internal/application/portfolio"
	"github.com/alejandrodnm/polytrader/internal/ports"
)

func (a *app) runsCmd() *cobra.Command {
	var (
		sf    storeFlags
		limit int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent scan runs of an experiment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := a.openStore(cmd.Context(), sf)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return a.out.PrintRuns(runs)
		},
	}
	sf.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 30, "maximum runs to list")
	return cmd
}

func (a *app) accountCmd() *cobra.Command {
	var (
		sf      storeFlags
		noMarks bool
	)
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Show cash, exposure and PnL of an experiment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tag, store, err := a.openStore(cmd.Context(), sf)
			if err != nil {
				return err
			}
			defer store.Close()

			summary, _, err := portfolio.Summary(cmd.Context(), store, a.marker(noMarks))
			if err != nil {
				return err
			}
			return a.out.PrintAccount(tag, summary)
		},
	}
	sf.register(cmd)
	cmd.Flags().BoolVar(&noMarks, "no-marks", false, "value open positions at cost")
	return cmd
}

func (a *app) positionsCmd() *cobra.Command {
	var (
		sf      storeFlags
		noMarks bool
	)
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List open positions marked to the current midpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := a.openStore(cmd.Context(), sf)
			if err != nil {
				return err
			}
			defer store.Close()

			positions, err := portfolio.MarkPositions(cmd.Context(), store, a.marker(noMarks))
			if err != nil {
				return err
			}
			return a.out.PrintPositions(positions)
		},
	}
	sf.register(cmd)
	cmd.Flags().BoolVar(&noMarks, "no-marks", false, "value open positions at cost")
	return cmd
}

func (a *app) resolveCmd() *cobra.Command {
	var (
		sf      storeFlags
		slug    string
		outcome string
	)
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Close the open trades of a resolved market",
		RunE: func(cmd *cobra.Command, _ []string) error {
			yes, err := portfolio.ParseOutcome(outcome)
			if err != nil {
				return err
			}
			_, store, err := a.openStore(cmd.Context(), sf)
			if err != nil {
				return err
			}
			defer store.Close()

			closed, err := portfolio.Resolve(cmd.Context(), store, slug, yes, time.Now().UTC())
			if err != nil {
				return err
			}
			return a.out.PrintResolved(slug, yes, closed)
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&slug, "slug", "", "market slug")
	cmd.Flags().StringVar(&outcome, "outcome", "", "winning outcome: YES or NO")
	_ = cmd.MarkFlagRequired("slug")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func (a *app) historyCmd() *cobra.Command {
	var sf storeFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show closed trades and realized PnL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, store, err := a.openStore(cmd.Context(), sf)
			if err != nil {
				return err
			}
			defer store.Close()

			h, err := portfolio.LoadHistory(cmd.Context(), store)
			if err != nil {
				return err
			}
			return a.out.PrintHistory(h)
		},
	}
	sf.register(cmd)
	return cmd
}

// marker devuelve nil sin tipo cuando las marcas están desactivadas.
func (a *app) marker(disabled bool) ports.MidpointProvider {
	if disabled {
		return nil
	}
	return a.polymarket()
}
