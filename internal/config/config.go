// Package config reads the service settings from the environment.
//
// Every field has a default so an empty environment is valid; the helpdesk
// stores stay disabled until their credentials are present. Malformed
// numbers and durations fall back to the default, while out-of-range values
// are rejected by Validate.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM providers understood by llm.NewModel.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// History backends understood by history.Open.
const (
	HistoryFile   = "file"
	HistorySQLite = "sqlite"
	HistoryRedis  = "redis"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "helpdesk-query")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// LLMConfig selects and authenticates the completion provider.
type LLMConfig struct {
	Provider        string // LLM_PROVIDER: openai|anthropic|ollama
	Model           string // LLM_MODEL
	OpenAIAPIKey    string // OPENAI_API_KEY
	AnthropicAPIKey string // ANTHROPIC_API_KEY
	OllamaHost      string // OLLAMA_HOST
}

// ZendeskConfig holds Zendesk credentials. The store is enabled when
// Subdomain, Email and APIToken are all set.
type ZendeskConfig struct {
	Subdomain string
	Email     string
	APIToken  string
	CacheTTL  time.Duration
}

// Enabled reports whether enough credentials are configured.
func (z ZendeskConfig) Enabled() bool {
	return z.Subdomain != "" && z.Email != "" && z.APIToken != ""
}

// IntercomConfig holds Intercom credentials. The store is enabled when
// AccessToken is set.
type IntercomConfig struct {
	AccessToken string
	AdminID     string
	AppID       string
	CacheTTL    time.Duration
}

// Enabled reports whether an access token is configured.
func (i IntercomConfig) Enabled() bool { return i.AccessToken != "" }

// HistoryConfig selects where conversation history is kept.
type HistoryConfig struct {
	Backend  string // file|sqlite|redis
	Dir      string // file backend directory
	Max      int    // entries kept per store
	RedisURL string // redis backend address (redis://... or host:port)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath         string  // SQLite path (idempotency, sqlite history)
	RelevanceFloor float64 // minimum search score for prompt supplements [0,1]

	// Helpdesks
	Zendesk     ZendeskConfig
	Intercom    IntercomConfig
	HelpdeskRPS float64 // outbound requests per second per store (0 = unpaced)

	// Language model
	LLM LLMConfig

	// Conversation history
	History HistoryConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

	// Observability
	OTEL OTELConfig
}

// MustLoad is Load for main packages and tests; it panics on error.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads, normalizes and validates the configuration.
func Load() (Config, error) {
	var cfg Config
	cfg.loadServer()
	cfg.loadHelpdesks()
	cfg.loadLLM()
	cfg.loadHistory()
	cfg.loadHTTP()
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *Config) loadServer() {
	c.Port = getenv("PORT", "8080")
	c.ReadTimeout = getdur("READ_TIMEOUT", 15*time.Second)
	c.ReadHeaderTimeout = getdur("READ_HEADER_TIMEOUT", 10*time.Second)
	// query answers may wait on a language model
	c.WriteTimeout = getdur("WRITE_TIMEOUT", 120*time.Second)
	c.IdleTimeout = getdur("IDLE_TIMEOUT", 60*time.Second)
	c.MaxHeaderBytes = getint("MAX_HEADER_BYTES", 1<<20)
	c.GinMode = strings.ToLower(getenv("GIN_MODE", "release"))
	c.LogLevel = strings.ToLower(getenv("LOG_LEVEL", "info"))
	c.LogPretty = getbool("LOG_PRETTY", false)
	c.DBPath = getenv("DB_PATH", "app.db")
	c.OTEL = OTELConfig{
		Enabled:     getbool("OTEL_ENABLED", false),
		Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
		ServiceName: getenv("OTEL_SERVICE_NAME", "helpdesk-query"),
		SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
	}
}

func (c *Config) loadHelpdesks() {
	c.Zendesk = ZendeskConfig{
		Subdomain: strings.TrimSpace(getenv("ZENDESK_SUBDOMAIN", "")),
		Email:     strings.TrimSpace(getenv("ZENDESK_EMAIL", "")),
		APIToken:  getenv("ZENDESK_API_TOKEN", ""),
		CacheTTL:  getdur("ZENDESK_CACHE_TTL", 5*time.Minute),
	}
	c.Intercom = IntercomConfig{
		AccessToken: getenv("INTERCOM_ACCESS_TOKEN", ""),
		AdminID:     getenv("INTERCOM_ADMIN_ID", ""),
		AppID:       getenv("INTERCOM_APP_ID", ""),
		CacheTTL:    getdur("INTERCOM_CACHE_TTL", 24*time.Hour),
	}
	c.HelpdeskRPS = getfloat("HELPDESK_RPS", 0)
}

func (c *Config) loadLLM() {
	c.LLM = LLMConfig{
		Provider:        strings.ToLower(getenv("LLM_PROVIDER", ProviderOpenAI)),
		Model:           getenv("LLM_MODEL", ""),
		OpenAIAPIKey:    getenv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getenv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getenv("OLLAMA_HOST", "http://localhost:11434"),
	}
	c.RelevanceFloor = getfloat("RELEVANCE_FLOOR", 0.05)
}

func (c *Config) loadHistory() {
	c.History = HistoryConfig{
		Backend:  strings.ToLower(getenv("HISTORY_BACKEND", HistoryFile)),
		Dir:      getenv("HISTORY_DIR", "data/history"),
		Max:      getint("HISTORY_MAX", 100),
		RedisURL: getenv("REDIS_URL", "localhost:6379"),
	}
}

func (c *Config) loadHTTP() {
	c.APIBasePath = normalizeBasePath(getenv("API_BASE_PATH", "/api/v1"))
	c.RateRPS = getfloat("RATE_RPS", 5.0)
	c.RateBurst = getint("RATE_BURST", 10)
	c.CORS = CORSConfig{AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", ""))}
	c.Security = SecurityConfig{
		EnableHSTS: getbool("ENABLE_HSTS", false),
		HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
	}
	c.IdempotencyTTL = getdur("IDEMPOTENCY_TTL", 24*time.Hour)
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModel(c.LLM.Provider)
	}
	c.Zendesk.Subdomain = strings.TrimSuffix(c.Zendesk.Subdomain, ".zendesk.com")
}

// Validate reports every out-of-range setting, joined into one error.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(oneOf(c.LogLevel, "debug", "info", "warn", "error", "fatal", "panic"),
		"LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic (got %q)", c.LogLevel)
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")
	check(strings.TrimSpace(c.DBPath) != "", "DB_PATH must not be empty")
	check(c.RelevanceFloor >= 0 && c.RelevanceFloor <= 1, "RELEVANCE_FLOOR must be between 0 and 1")
	check(c.Zendesk.CacheTTL > 0 && c.Intercom.CacheTTL > 0,
		"ZENDESK_CACHE_TTL and INTERCOM_CACHE_TTL must be > 0")
	check(c.HelpdeskRPS >= 0, "HELPDESK_RPS must be >= 0")
	check(oneOf(c.LLM.Provider, ProviderOpenAI, ProviderAnthropic, ProviderOllama),
		"LLM_PROVIDER must be one of: openai, anthropic, ollama (got %q)", c.LLM.Provider)
	check(oneOf(c.History.Backend, HistoryFile, HistorySQLite, HistoryRedis),
		"HISTORY_BACKEND must be one of: file, sqlite, redis (got %q)", c.History.Backend)
	check(c.History.Max >= 1, "HISTORY_MAX must be >= 1")
	check(c.History.Backend != HistoryFile || strings.TrimSpace(c.History.Dir) != "",
		"HISTORY_DIR must not be empty")
	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func defaultModel(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "claude-3-5-haiku-latest"
	case ProviderOllama:
		return "llama3.1"
	}
	return "gpt-4o-mini"
}

// lookup returns parse(os.Getenv(k)), or def when the variable is unset,
// empty or unparsable.
func lookup[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func getenv(k, def string) string {
	return lookup(k, def, func(s string) (string, error) { return s, nil })
}

func getfloat(k string, def float64) float64 {
	return lookup(k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getint(k string, def int) int { return lookup(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration { return lookup(k, def, time.ParseDuration) }

func getbool(k string, def bool) bool {
	return lookup(k, def, func(s string) (bool, error) {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		case "0", "false", "no", "n", "off":
			return false, nil
		}
		return false, fmt.Errorf("not a boolean: %q", s)
	})
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath yields "/" or a path with a leading and no trailing slash.
func normalizeBasePath(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	return "/" + p
}
