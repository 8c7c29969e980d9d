package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port int `mapstructure:"port"` // ops port: /health, /ready, /metrics
	} `mapstructure:"server"`
	API struct {
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"readTimeout"`
		WriteTimeout    time.Duration `mapstructure:"writeTimeout"`
		AllowedOrigins  []string      `mapstructure:"allowedOrigins"`
		RequestTimeout  time.Duration `mapstructure:"requestTimeout"`
		BroadcastWindow time.Duration `mapstructure:"broadcastWindow"`
	} `mapstructure:"api"`
	NATS struct {
		Enabled       bool               `mapstructure:"enabled"`
		URL           string             `mapstructure:"url"`
		Inbound       ConsumerNatsConfig `mapstructure:"inbound"`
		NotifySubject string             `mapstructure:"notifySubject"`
	} `mapstructure:"nats"`
	Database struct {
		Driver              string `mapstructure:"driver"` // postgres | memory
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Company struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"company"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	Handoff   HandoffConfig   `mapstructure:"handoff"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	Reasoning ReasoningConfig `mapstructure:"reasoning"`
	Channels  struct {
		Evolution EvolutionConfig `mapstructure:"evolution"`
		Meta      MetaConfig      `mapstructure:"meta"`
	} `mapstructure:"channels"`
	Broadcast struct {
		MaxRecipients int           `mapstructure:"maxRecipients"`
		Delay         time.Duration `mapstructure:"delay"`
	} `mapstructure:"broadcast"`
	Notify struct {
		HubBuffer    int `mapstructure:"hubBuffer"`
		ClientBuffer int `mapstructure:"clientBuffer"`
	} `mapstructure:"notify"`
	WorkerPools struct {
		Scoring WorkerPoolConfig `mapstructure:"scoring"`
	} `mapstructure:"workerPools"`
}

// HandoffConfig tunes the transfer decision policy.
type HandoffConfig struct {
	ScoreThreshold  int      `mapstructure:"scoreThreshold"`
	MessageCeiling  int      `mapstructure:"messageCeiling"`
	DefaultPriority string   `mapstructure:"defaultPriority"`
	Phrases         []string `mapstructure:"phrases"`
}

// ScoringConfig tunes the deterministic extractor and factor table.
type ScoringConfig struct {
	ValueFloor      float64  `mapstructure:"valueFloor"`
	Regions         []string `mapstructure:"regions"`
	UrgencyTerms    []string `mapstructure:"urgencyTerms"`
	InterestTerms   []string `mapstructure:"interestTerms"`
	PrecatorioTerms []string `mapstructure:"precatorioTerms"`
}

// ReasoningConfig configures the LLM reasoning collaborator.
type ReasoningConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	APIKey    string        `mapstructure:"apiKey"`
	Model     string        `mapstructure:"model"`
	BaseURL   string        `mapstructure:"baseURL"`
	Timeout   time.Duration `mapstructure:"timeout"`
	MaxTokens int           `mapstructure:"maxTokens"`
}

// EvolutionConfig holds the Evolution gateway endpoint.
type EvolutionConfig struct {
	BaseURL string        `mapstructure:"baseURL"`
	APIKey  string        `mapstructure:"apiKey"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MetaConfig holds the Meta Cloud API endpoint.
type MetaConfig struct {
	GraphURL    string        `mapstructure:"graphURL"`
	Version     string        `mapstructure:"version"`
	AccessToken string        `mapstructure:"accessToken"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// WorkerPoolConfig holds configuration for an ants worker pool
type WorkerPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`   // Number of workers
	QueueSize  int           `mapstructure:"queueSize"`  // Max tasks waiting for a worker
	ExpiryTime time.Duration `mapstructure:"expiryTime"` // Idle worker expiry time
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in day
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`   // Max delivery attempts before Term
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"` // Base delay for exponential backoff NAK
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`  // Maximum delay for exponential backoff NAK
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Config file settings
	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.daisi-wa-handoff")
	v.AddConfigPath("/etc/daisi-wa-handoff")

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	overrides := map[string]string{
		"POSTGRES_DSN":      "database.postgresDSN",
		"LOG_LEVEL":         "logLevel",
		"NATS_URL":          "nats.url",
		"COMPANY_ID":        "company.id",
		"OPENAI_API_KEY":    "reasoning.apiKey",
		"EVOLUTION_API_KEY": "channels.evolution.apiKey",
		"META_ACCESS_TOKEN": "channels.meta.accessToken",
	}
	for env, key := range overrides {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("api.port", 8081)
	v.SetDefault("api.readTimeout", 15*time.Second)
	v.SetDefault("api.writeTimeout", 30*time.Second)
	v.SetDefault("api.requestTimeout", 10*time.Second)
	// a 1000-recipient broadcast at 1s spacing needs a little under 17 minutes
	v.SetDefault("api.broadcastWindow", 20*time.Minute)
	v.SetDefault("api.allowedOrigins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.postgresAutoMigrate", true)

	v.SetDefault("nats.enabled", true)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.notifySubject", "handoff.notify")
	v.SetDefault("nats.inbound.stream", "handoff_inbound")
	v.SetDefault("nats.inbound.consumer", "handoff_inbound_consumer")
	v.SetDefault("nats.inbound.group", "handoff_inbound_group")
	v.SetDefault("nats.inbound.subjectList", []string{"v1.messages.upsert", "v1.leads.enrichment"})
	v.SetDefault("nats.inbound.maxAge", 7)
	v.SetDefault("nats.inbound.maxDeliver", 5)
	v.SetDefault("nats.inbound.nakBaseDelay", time.Second)
	v.SetDefault("nats.inbound.nakMaxDelay", 30*time.Second)

	v.SetDefault("handoff.scoreThreshold", 60)
	v.SetDefault("handoff.messageCeiling", 12)
	v.SetDefault("handoff.defaultPriority", "medium")
	v.SetDefault("handoff.phrases", []string{
		"falar com atendente", "falar com humano", "falar com uma pessoa",
		"quero um atendente", "atendimento humano", "falar com alguém", "falar com alguem",
	})

	v.SetDefault("scoring.valueFloor", 10000)
	v.SetDefault("scoring.regions", []string{"SP", "RJ", "MG", "PR", "SC", "RS", "DF", "BA"})
	v.SetDefault("scoring.urgencyTerms", []string{"urgente", "urgência", "urgencia", "rápido", "rapido", "preciso logo", "hoje"})
	v.SetDefault("scoring.interestTerms", []string{"tenho interesse", "quero vender", "quero saber", "como funciona", "quanto vocês pagam", "quanto voces pagam"})
	v.SetDefault("scoring.precatorioTerms", []string{"precatório", "precatorio", "precatórios", "precatorios", "rpv"})

	v.SetDefault("reasoning.enabled", false)
	v.SetDefault("reasoning.model", "gpt-4o-mini")
	v.SetDefault("reasoning.timeout", 8*time.Second)
	v.SetDefault("reasoning.maxTokens", 400)

	v.SetDefault("channels.evolution.baseURL", "http://localhost:8085")
	v.SetDefault("channels.evolution.timeout", 15*time.Second)
	v.SetDefault("channels.meta.graphURL", "https://graph.facebook.com")
	v.SetDefault("channels.meta.version", "v21.0")
	v.SetDefault("channels.meta.timeout", 15*time.Second)

	v.SetDefault("broadcast.maxRecipients", 1000)
	v.SetDefault("broadcast.delay", time.Second)

	v.SetDefault("notify.hubBuffer", 256)
	v.SetDefault("notify.clientBuffer", 64)

	v.SetDefault("workerPools.scoring.poolSize", 8)
	v.SetDefault("workerPools.scoring.queueSize", 1000)
	v.SetDefault("workerPools.scoring.expiryTime", time.Minute)
}

// Validate checks the values the service cannot start without.
func (c *Config) Validate() error {
	if c.Company.ID == "" {
		return fmt.Errorf("company.id is required (env COMPANY_ID)")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("database.postgresDSN is required when database.driver=postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.Reasoning.Enabled && c.Reasoning.APIKey == "" {
		return fmt.Errorf("reasoning.apiKey is required when reasoning.enabled=true")
	}
	if c.Broadcast.MaxRecipients <= 0 {
		return fmt.Errorf("broadcast.maxRecipients must be positive")
	}
	switch c.Handoff.DefaultPriority {
	case "high", "medium", "low":
	default:
		return fmt.Errorf("handoff.defaultPriority must be high, medium or low")
	}
	return nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
