// Package config exposes strongly typed application configuration
// structs loaded from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Joe-Swanson828/prediction-bot/internal/composite"
	"github.com/Joe-Swanson828/prediction-bot/internal/risk"
	"github.com/Joe-Swanson828/prediction-bot/internal/signal"
	"github.com/Joe-Swanson828/prediction-bot/internal/speed"
	"github.com/Joe-Swanson828/prediction-bot/internal/util"
)

// App captures process-wide runtime settings.
type App struct {
	Name        string        `yaml:"name"`
	Env         string        `yaml:"env"`
	MetricsAddr string        `yaml:"metrics_addr"`
	LogLevel    string        `yaml:"log_level"`
	LogFile     util.FileSink `yaml:"log_file"`
}

// Feed describes the market data source.
type Feed struct {
	Provider       string  `yaml:"provider"` // stub or websocket
	WebsocketURL   string  `yaml:"websocket_url"`
	TickIntervalMs int     `yaml:"tick_interval_ms"`
	MessageRate    float64 `yaml:"message_rate"`
	MessageBurst   int     `yaml:"message_burst"`
}

// Trading groups the engine's decision parameters.
type Trading struct {
	Mode            string  `yaml:"mode"` // simulated or live
	StartingCash    float64 `yaml:"starting_cash"`
	ScoreThreshold  float64 `yaml:"score_threshold"`
	AgreementPolicy string  `yaml:"agreement_policy"` // strict_majority or unanimous
	EvalIntervalMs  int     `yaml:"eval_interval_ms"`
	CycleTimeoutMs  int     `yaml:"cycle_timeout_ms"`
}

// Venue configures live order placement. The API key is read from the
// named environment variable so secrets stay out of the YAML file.
type Venue struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// Sentiment tunes the news scorer.
type Sentiment struct {
	VelocityThreshold float64 `yaml:"velocity_threshold"`
}

// Store configures the persistence layer.
type Store struct {
	Path string `yaml:"path"`
}

// Notify configures the operator webhook.
type Notify struct {
	WebhookURL string `yaml:"webhook_url"`
	QueueSize  int    `yaml:"queue_size"`
}

// MarketSeed lists a market the bot should track at startup.
type MarketSeed struct {
	ID       string `yaml:"id"`
	Exchange string `yaml:"exchange"`
	Ticker   string `yaml:"ticker"`
	Title    string `yaml:"title"`
	Category string `yaml:"category"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App       App                         `yaml:"app"`
	Feed      Feed                        `yaml:"feed"`
	Trading   Trading                     `yaml:"trading"`
	Risk      risk.Limits                 `yaml:"risk"`
	Venue     Venue                       `yaml:"venue"`
	Weights   map[string]composite.Triple `yaml:"weights"`
	Speed     speed.Weights               `yaml:"speed"`
	Sentiment Sentiment                   `yaml:"sentiment"`
	Store     Store                       `yaml:"store"`
	Notify    Notify                      `yaml:"notify"`
	Markets   []MarketSeed                `yaml:"markets"`
}

// Default returns a fully populated simulated-mode configuration.
func Default() *Config {
	weights := make(map[string]composite.Triple)
	for cat, triple := range composite.DefaultTriples() {
		weights[string(cat)] = triple
	}
	return &Config{
		App: App{
			Name:        "prediction-bot",
			Env:         "dev",
			MetricsAddr: ":9100",
			LogLevel:    "info",
		},
		Feed: Feed{
			Provider:       "stub",
			TickIntervalMs: 500,
			MessageRate:    50,
			MessageBurst:   100,
		},
		Trading: Trading{
			Mode:            "simulated",
			StartingCash:    1000,
			ScoreThreshold:  65,
			AgreementPolicy: "strict_majority",
			EvalIntervalMs:  2000,
			CycleTimeoutMs:  5000,
		},
		Risk:      risk.DefaultLimits(),
		Weights:   weights,
		Speed:     speed.DefaultWeights(),
		Sentiment: Sentiment{VelocityThreshold: 10},
		Store:     Store{Path: "data/bot"},
		Notify:    Notify{QueueSize: 64},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case "simulated", "live":
	default:
		return fmt.Errorf("trading.mode must be simulated or live, got %q", c.Trading.Mode)
	}
	if c.Trading.StartingCash <= 0 {
		return fmt.Errorf("trading.starting_cash must be positive")
	}
	if c.Trading.ScoreThreshold < 0 || c.Trading.ScoreThreshold > 100 {
		return fmt.Errorf("trading.score_threshold must be in [0, 100]")
	}
	switch c.Trading.AgreementPolicy {
	case "", "strict_majority", "unanimous":
	default:
		return fmt.Errorf("trading.agreement_policy must be strict_majority or unanimous")
	}
	if c.Trading.Mode == "live" && c.Venue.BaseURL == "" {
		return fmt.Errorf("venue.base_url required for live trading")
	}
	if c.Feed.Provider == "websocket" && c.Feed.WebsocketURL == "" {
		return fmt.Errorf("feed.websocket_url required for the websocket provider")
	}
	for name, triple := range c.Weights {
		if err := triple.Validate(); err != nil {
			// Weather legitimately starts speed-heavy above the
			// adaptive ceiling; only the sum matters at load time.
			if sum := triple.Sum(); sum < 0.99 || sum > 1.01 {
				return fmt.Errorf("weights.%s: %w", name, err)
			}
		}
	}
	for _, seed := range c.Markets {
		if seed.ID == "" {
			return fmt.Errorf("markets entries require an id")
		}
		switch signal.Category(seed.Category) {
		case signal.CategorySports, signal.CategoryCrypto, signal.CategoryWeather:
		default:
			return fmt.Errorf("market %s has unknown category %q", seed.ID, seed.Category)
		}
	}
	return nil
}

// SeedWeights converts the configured weight map to category keys.
func (c *Config) SeedWeights() map[signal.Category]composite.Triple {
	out := make(map[signal.Category]composite.Triple, len(c.Weights))
	for name, triple := range c.Weights {
		out[signal.Category(name)] = triple
	}
	return out
}

// SeedMarkets converts configured market seeds into signal markets.
func (c *Config) SeedMarkets() []signal.Market {
	out := make([]signal.Market, 0, len(c.Markets))
	for _, seed := range c.Markets {
		out = append(out, signal.Market{
			ID:       seed.ID,
			Exchange: seed.Exchange,
			Ticker:   seed.Ticker,
			Title:    seed.Title,
			Category: signal.Category(seed.Category),
			Status:   signal.MarketActive,
		})
	}
	return out
}

// Load reads a YAML file from disk and hydrates a Config struct on top
// of the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	config := Default()
	if err := yaml.NewDecoder(file).Decode(config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
