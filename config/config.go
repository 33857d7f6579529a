package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/polytrader/internal/application/ranking"
	"github.com/alejandrodnm/polytrader/internal/application/search"
	"github.com/alejandrodnm/polytrader/internal/domain"
)

// Config es la configuración completa de polytrader.
type Config struct {
	API        APIConfig        `yaml:"api"`
	Scan       domain.ScanSpec  `yaml:"scan"`     // defaults de `scan` e `init`
	Bankroll   float64          `yaml:"bankroll"` // bankroll inicial de `init`
	Storage    StorageConfig    `yaml:"storage"`
	Tournament TournamentConfig `yaml:"tournament"`
	Ranking    RankingConfig    `yaml:"ranking"`
	Log        LogConfig        `yaml:"log"`

	// Path es el fichero leído; vacío si no existía y se usaron defaults.
	Path string `yaml:"-"`
}

// APIConfig contiene los base URLs de las APIs y la política de red.
type APIConfig struct {
	CLOBBase       string `yaml:"clob_base"`
	GammaBase      string `yaml:"gamma_base"`
	KrakenBase     string `yaml:"kraken_base"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// StorageConfig controla dónde se persisten los experimentos.
type StorageConfig struct {
	Dir string `yaml:"dir"` // un fichero SQLite por experimento
	DSN string `yaml:"dsn"` // store por defecto de scan/account/...; vacío = <dir>/<tag>.sqlite3
	Tag string `yaml:"tag"` // tag por defecto
}

// TournamentConfig controla el runner y el mutator.
type TournamentConfig struct {
	Workers     int    `yaml:"workers"`
	EvalWorkers int    `yaml:"eval_workers"`
	MaxVariants int    `yaml:"max_variants"`
	MaxSpace    int    `yaml:"max_space"`
	SpotPair    string `yaml:"spot_pair"`
	MetricsFile string `yaml:"metrics_file"`
}

// RankingConfig son los defaults de `rank`.
type RankingConfig struct {
	Weights       ranking.Weights `yaml:"weights"`
	ParetoMetrics []string        `yaml:"pareto_metrics"`
	TopN          int             `yaml:"top_n"`
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Un fichero inexistente no es un error: se usan los defaults.
// Las variables de entorno sobreescriben los valores del YAML.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	cfg := Config{Scan: domain.DefaultScanSpec()}
	cfg.Ranking.Weights = ranking.DefaultWeights()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
		cfg.Path = path
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	setDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Timeout devuelve el timeout HTTP como time.Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// Limits devuelve los límites del mutator.
func (c *Config) Limits() search.Limits {
	return search.Limits{MaxVariants: c.Tournament.MaxVariants, MaxSpace: c.Tournament.MaxSpace}
}

// ParetoMetrics devuelve las métricas del frente de Pareto ya validadas.
func (c *Config) ParetoMetrics() ([]ranking.Metric, error) {
	out := make([]ranking.Metric, 0, len(c.Ranking.ParetoMetrics))
	for _, m := range c.Ranking.ParetoMetrics {
		ms, err := ranking.ParseMetrics("ranking.pareto_metrics", m)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	return out, nil
}

// Validate rechaza valores que no tienen un default razonable.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return domain.NewConfigError("log.level", "unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return domain.NewConfigError("log.format", "unknown format %q", c.Log.Format)
	}
	if c.Tournament.Workers < 0 {
		return domain.NewConfigError("tournament.workers", "must be >= 0, got %d", c.Tournament.Workers)
	}
	if c.Bankroll <= 0 {
		return domain.NewConfigError("bankroll", "must be > 0, got %v", c.Bankroll)
	}
	if c.Ranking.TopN < 0 {
		return domain.NewConfigError("ranking.top_n", "must be >= 0, got %d", c.Ranking.TopN)
	}
	if _, err := c.ParetoMetrics(); err != nil {
		return err
	}
	return nil
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("POLYTRADER_CLOB_BASE"); v != "" {
		cfg.API.CLOBBase = v
	}
	if v := os.Getenv("POLYTRADER_GAMMA_BASE"); v != "" {
		cfg.API.GammaBase = v
	}
	if v := os.Getenv("POLYTRADER_KRAKEN_BASE"); v != "" {
		cfg.API.KrakenBase = v
	}
	if v := os.Getenv("POLYTRADER_DATA_DIR"); v != "" {
		cfg.Storage.Dir = v
	}
	if v := os.Getenv("POLYTRADER_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("POLYTRADER_METRICS_FILE"); v != "" {
		cfg.Tournament.MetricsFile = v
	}
	if v := os.Getenv("POLYTRADER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return domain.NewConfigError("POLYTRADER_WORKERS", "not an integer: %q", v)
		}
		cfg.Tournament.Workers = n
	}
	return nil
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.KrakenBase == "" {
		cfg.API.KrakenBase = "https://api.kraken.com"
	}
	if cfg.API.TimeoutSeconds <= 0 {
		cfg.API.TimeoutSeconds = 10
	}
	if cfg.Bankroll == 0 {
		cfg.Bankroll = domain.DefaultBankroll
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = "data/experiments"
	}
	if cfg.Storage.Tag == "" {
		cfg.Storage.Tag = "default"
	}
	if cfg.Tournament.Workers == 0 {
		cfg.Tournament.Workers = 1
	}
	if cfg.Tournament.MaxVariants <= 0 {
		cfg.Tournament.MaxVariants = search.DefaultMaxVariants
	}
	if cfg.Tournament.MaxSpace <= 0 {
		cfg.Tournament.MaxSpace = search.DefaultMaxSpace
	}
	if cfg.Tournament.SpotPair == "" {
		cfg.Tournament.SpotPair = "XBTUSD"
	}
	if cfg.Ranking.Weights == (ranking.Weights{}) {
		cfg.Ranking.Weights = ranking.DefaultWeights()
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
