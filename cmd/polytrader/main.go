package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/polytrader/config"
	"github.com/alejandrodnm/polytrader/internal/adapters/kraken"
	"github.com/alejandrodnm/polytrader/internal/adapters/notify"
	"github.com/alejandrodnm/polytrader/internal/adapters/polymarket"
	"github.com/alejandrodnm/polytrader/internal/adapters/storage"
	"github.com/alejandrodnm/polytrader/internal/domain"
	_ "github.com/alejandrodnm/polytrader/internal/plugins"
	"github.com/alejandrodnm/polytrader/internal/ports"
	"github.com/alejandrodnm/polytrader/internal/strategy"
)

// errNoFills marca un scan o torneo válido que no llenó ninguna orden (exit 2).
var errNoFills = errors.New("no fills")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	switch {
	case err == nil:
	case errors.Is(err, errNoFills):
		os.Exit(2)
	default:
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

// app es el estado compartido por los subcomandos.
type app struct {
	configPath string
	jsonOut    bool
	verbose    bool
	logFormat  string

	cfg *config.Config
	out *notify.Console
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "polytrader",
		Short:         "Paper-trading research lab for Polymarket binary markets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "config/config.yaml", "path to config file")
	pf.BoolVar(&a.jsonOut, "json", false, "emit JSON on stdout")
	pf.BoolVar(&a.verbose, "verbose", false, "set log level to debug")
	pf.StringVar(&a.logFormat, "log-format", "", "log format: text|json (overrides config)")

	root.AddCommand(
		a.initCmd(),
		a.modelsCmd(),
		a.varsCmd(),
		a.marketsCmd(),
		a.scanCmd(),
		a.tournamentCmd(),
		a.mutateCmd(),
		a.rankCmd(),
		a.replayCmd(),
		a.runsCmd(),
		a.accountCmd(),
		a.positionsCmd(),
		a.resolveCmd(),
		a.historyCmd(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	setupLogger(cfg.Log)

	if cfg.Path == "" {
		slog.Debug("config file not found, using defaults", "path", a.configPath)
	}
	a.cfg = cfg
	a.out = notify.NewConsole(a.jsonOut)
	return nil
}

func (a *app) registry() *strategy.Registry { return strategy.Default() }

func (a *app) polymarket() *polymarket.Client {
	return polymarket.NewClientWithOptions(polymarket.Options{
		CLOBBase:   a.cfg.API.CLOBBase,
		GammaBase:  a.cfg.API.GammaBase,
		Timeout:    a.cfg.Timeout(),
		MaxRetries: a.cfg.API.MaxRetries,
	})
}

func (a *app) spotFeed() *kraken.Client {
	return kraken.NewClient(a.cfg.API.KrakenBase, a.cfg.Timeout())
}

func (a *app) factory(dir string) *storage.Factory {
	if dir == "" {
		dir = a.cfg.Storage.Dir
	}
	return storage.NewFactory(dir)
}

// storeFlags seleccionan el store de un experimento: --db gana a --tag.
type storeFlags struct {
	tag string
	db  string
}

func (sf *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&sf.tag, "tag", "", "experiment tag (default from config)")
	cmd.Flags().StringVar(&sf.db, "db", "", "SQLite path (default <storage.dir>/<tag>.sqlite3)")
}

// resolveStore elige la ruta del store. Con --db y sin --tag el tag queda
// vacío: lo decide el spec guardado en ese fichero (ver storeTag).
func (a *app) resolveStore(sf storeFlags) (tag, path string) {
	switch {
	case sf.db != "":
		return sf.tag, sf.db
	case sf.tag == "" && a.cfg.Storage.DSN != "":
		return "", a.cfg.Storage.DSN
	}
	tag = sf.tag
	if tag == "" {
		tag = a.cfg.Storage.Tag
	}
	return tag, a.factory("").PathFor(domain.ExperimentSpec{Tag: tag})
}

func (a *app) openStore(ctx context.Context, sf storeFlags) (string, *storage.SQLiteStore, error) {
	tag, path := a.resolveStore(sf)
	store, err := a.factory("").OpenPath(path)
	if err != nil {
		return "", nil, fmt.Errorf("open store %s: %w", path, err)
	}
	tag, err = storeTag(ctx, store, tag)
	if err != nil {
		store.Close()
		return "", nil, err
	}
	return tag, store, nil
}

// storeTag devuelve tag si viene dado; si no, el tag del spec guardado en
// store y, en un store nuevo, el nombre del fichero sin extensión.
func storeTag(ctx context.Context, store ports.ExperimentStore, tag string) (string, error) {
	if tag != "" {
		return tag, nil
	}
	spec, ok, err := store.LoadSpec(ctx)
	if err != nil {
		return "", fmt.Errorf("load spec from %s: %w", store.Path(), err)
	}
	if ok && spec.Tag != "" {
		return spec.Tag, nil
	}
	return tagFromPath(store.Path()), nil
}

func tagFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// stdout queda para el output de los comandos
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
