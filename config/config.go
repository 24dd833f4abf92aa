package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del bot.
type Config struct {
	Monitor    MonitorConfig    `yaml:"monitor"`
	Strategies StrategiesConfig `yaml:"strategies"`
	API        APIConfig        `yaml:"api"`
	Fees       FeeConfig        `yaml:"fees"`
	Storage    StorageConfig    `yaml:"storage"`
	Log        LogConfig        `yaml:"log"`
}

// MonitorConfig controla el ciclo de monitoreo de trades.
type MonitorConfig struct {
	IntervalMinutes   int     `yaml:"interval_minutes"`
	MaxPriceImpactPct float64 `yaml:"max_price_impact_pct"`
	OwnerAddress      string  `yaml:"owner_address"`
}

// StrategiesConfig agrupa los parámetros de cada estrategia.
type StrategiesConfig struct {
	ADXThreshold float64     `yaml:"adx_threshold"` // por debajo el mercado está en rango
	Kelly        KellyConfig `yaml:"kelly"`
	AI           AIConfig    `yaml:"ai"`
}

// KellyConfig acota el position sizing por criterio de Kelly.
type KellyConfig struct {
	FractionalMultiplier float64 `yaml:"fractional_multiplier"`
	MinPositionSize      float64 `yaml:"min_position_size"`
	MaxPositionSize      float64 `yaml:"max_position_size"`
	MinTradesRequired    int     `yaml:"min_trades_required"`
	LookbackTrades       int     `yaml:"lookback_trades"`
}

// AIConfig contiene los umbrales de ejecución de la estrategia AI.
type AIConfig struct {
	ExecutionThreshold  float64 `yaml:"execution_threshold"`
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	CooldownMinutes     int     `yaml:"cooldown_minutes"`
}

// APIConfig contiene los base URLs de los servicios externos.
type APIConfig struct {
	AstroBase        string `yaml:"astro_base"`
	GatewayBase      string `yaml:"gateway_base"`
	PriceCacheTTLSec int    `yaml:"price_cache_ttl_sec"`
}

// FeeConfig controla el manejo de fees de red en las transacciones.
type FeeConfig struct {
	Component     string  `yaml:"component"`      // componente de fee que se envía al agregador
	Percent       float64 `yaml:"percent"`        // fee de partner del agregador
	StaticLock    float64 `yaml:"static_lock"`    // fee lock de respaldo si el preview falla
	PreviewFactor float64 `yaml:"preview_factor"` // multiplicador de seguridad sobre el preview
	NativeToken   string  `yaml:"native_token"`   // token en el que se pagan los fees
	NativeBuffer  float64 `yaml:"native_buffer"`  // cantidad nativa que nunca se toca en la wallet
}

// StorageConfig controla dónde se persiste el estado.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

// CycleInterval devuelve el intervalo del ciclo de monitoreo como time.Duration.
func (c *Config) CycleInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalMinutes) * time.Minute
}

// PriceCacheTTL devuelve la vida útil del cache de precios como time.Duration.
func (c *Config) PriceCacheTTL() time.Duration {
	return time.Duration(c.API.PriceCacheTTLSec) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("OWNER_ADDRESS"); v != "" {
		cfg.Monitor.OwnerAddress = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Monitor.IntervalMinutes <= 0 {
		cfg.Monitor.IntervalMinutes = 10
	}
	if cfg.Monitor.MaxPriceImpactPct <= 0 {
		cfg.Monitor.MaxPriceImpactPct = 5.0
	}
	if cfg.Strategies.ADXThreshold <= 0 {
		cfg.Strategies.ADXThreshold = 25
	}
	if cfg.Strategies.Kelly.FractionalMultiplier <= 0 {
		cfg.Strategies.Kelly.FractionalMultiplier = 0.25
	}
	if cfg.Strategies.Kelly.MinPositionSize <= 0 {
		cfg.Strategies.Kelly.MinPositionSize = 0.10
	}
	if cfg.Strategies.Kelly.MaxPositionSize <= 0 {
		cfg.Strategies.Kelly.MaxPositionSize = 1.0
	}
	if cfg.Strategies.Kelly.MinTradesRequired <= 0 {
		cfg.Strategies.Kelly.MinTradesRequired = 10
	}
	if cfg.Strategies.Kelly.LookbackTrades <= 0 {
		cfg.Strategies.Kelly.LookbackTrades = 20
	}
	if cfg.Strategies.AI.ExecutionThreshold <= 0 {
		cfg.Strategies.AI.ExecutionThreshold = 0.6
	}
	if cfg.Strategies.AI.ConfidenceThreshold <= 0 {
		cfg.Strategies.AI.ConfidenceThreshold = 0.7
	}
	if cfg.Strategies.AI.CooldownMinutes <= 0 {
		cfg.Strategies.AI.CooldownMinutes = 60
	}
	if cfg.API.AstroBase == "" {
		cfg.API.AstroBase = "https://api.astrolescent.com"
	}
	if cfg.API.GatewayBase == "" {
		cfg.API.GatewayBase = "https://mainnet.gateway.network"
	}
	if cfg.API.PriceCacheTTLSec <= 0 {
		cfg.API.PriceCacheTTLSec = 30
	}
	if cfg.Fees.Percent <= 0 {
		cfg.Fees.Percent = 0.001
	}
	if cfg.Fees.StaticLock <= 0 {
		cfg.Fees.StaticLock = 5.0
	}
	if cfg.Fees.PreviewFactor <= 0 {
		cfg.Fees.PreviewFactor = 2.5
	}
	if cfg.Fees.NativeBuffer <= 0 {
		cfg.Fees.NativeBuffer = 10.0
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "flipbot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
