package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable (TINYMAN_LOG_LEVEL, ...).
const EnvPrefix = "TINYMAN"

type Config struct {
	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)
	LogFile   string // empty => stderr

	// Credentials
	CredentialsFile string   // optional YAML file with auth_tokens and fallback_urls
	AuthTokens      []string // ordered API tokens, file entries first
	FallbackURLs    []string // failover targets, empty => failover disabled

	// Remote API
	APIBaseURL     string        // ex: https://api.tinyurl.com
	RequestTimeout time.Duration // per create call (default: 3s)
	RateLimitRPS   float64       // client-side pacing, 0 => unlimited
	RateLimitBurst int

	// Monitors
	ProbeTimeout     time.Duration // per probe (default: 3s)
	ProbeRetries     int           // extra attempts per monitor probe (default: 2)
	PingInterval     time.Duration // initial monitor interval (default: 60s)
	SelfDelete       bool          // drop resources after FailureThreshold failed probes
	FailureThreshold int

	// Status server (optional)
	StatusListen string   // ex: "127.0.0.1:8080", empty => disabled
	AllowedCIDRS []string // optional, restrict access to specific IP ranges
	TrustProxy   bool     // true => trust X-Forwarded-For headers

	// Redis mirror (optional)
	RedisAddr           string // empty => disabled
	RedisPassword       string
	RedisDB             int
	RedisConnectTimeout time.Duration

	// NATS events (optional)
	NATSURL     string // empty => disabled
	NATSSubject string

	ShutdownTimeout time.Duration
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal-free lookups.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("pretty_log", true)
	v.SetDefault("log_file", "")

	v.SetDefault("credentials_file", "")
	v.SetDefault("auth_tokens", "")
	v.SetDefault("fallback_urls", "")

	v.SetDefault("api_base_url", "https://api.tinyurl.com")
	v.SetDefault("request_timeout", 3*time.Second)
	v.SetDefault("rate_limit_rps", 5.0)
	v.SetDefault("rate_limit_burst", 5)

	v.SetDefault("probe_timeout", 3*time.Second)
	v.SetDefault("probe_retries", 2)
	v.SetDefault("ping_interval", 60*time.Second)
	v.SetDefault("self_delete", false)
	v.SetDefault("failure_threshold", 3)

	v.SetDefault("status_listen", "")
	v.SetDefault("allowed_cidrs", "")
	v.SetDefault("trust_proxy", false)

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_connect_timeout", 10*time.Second)

	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", "tinyman.status")

	v.SetDefault("shutdown_timeout", 5*time.Second)
}

// NewViper returns a viper instance wired for TINYMAN_* variables with every
// default registered.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// Load builds the configuration from v and the optional credentials file.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		LogLevel:  v.GetString("log_level"),
		PrettyLog: v.GetBool("pretty_log"),
		LogFile:   v.GetString("log_file"),

		CredentialsFile: v.GetString("credentials_file"),
		AuthTokens:      stringList(v, "auth_tokens"),
		FallbackURLs:    stringList(v, "fallback_urls"),

		APIBaseURL:     v.GetString("api_base_url"),
		RequestTimeout: v.GetDuration("request_timeout"),
		RateLimitRPS:   v.GetFloat64("rate_limit_rps"),
		RateLimitBurst: v.GetInt("rate_limit_burst"),

		ProbeTimeout:     v.GetDuration("probe_timeout"),
		ProbeRetries:     v.GetInt("probe_retries"),
		PingInterval:     v.GetDuration("ping_interval"),
		SelfDelete:       v.GetBool("self_delete"),
		FailureThreshold: v.GetInt("failure_threshold"),

		StatusListen: v.GetString("status_listen"),
		AllowedCIDRS: stringList(v, "allowed_cidrs"),
		TrustProxy:   v.GetBool("trust_proxy"),

		RedisAddr:           v.GetString("redis_addr"),
		RedisPassword:       v.GetString("redis_password"),
		RedisDB:             v.GetInt("redis_db"),
		RedisConnectTimeout: v.GetDuration("redis_connect_timeout"),

		NATSURL:     v.GetString("nats_url"),
		NATSSubject: v.GetString("nats_subject"),

		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}

	if cfg.CredentialsFile != "" {
		file, err := LoadCredentials(cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		cfg.AuthTokens = merge(file.AuthTokens, cfg.AuthTokens)
		cfg.FallbackURLs = merge(file.FallbackURLs, cfg.FallbackURLs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the values the core cannot run without.
func (c *Config) Validate() error {
	var problems []error

	if len(c.AuthTokens) == 0 {
		problems = append(problems, errors.New("at least one auth token is required (auth_tokens or credentials_file)"))
	}
	if c.PingInterval <= 0 {
		problems = append(problems, fmt.Errorf("ping_interval must be positive, got %v", c.PingInterval))
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, fmt.Errorf("request_timeout must be positive, got %v", c.RequestTimeout))
	}
	if c.ProbeTimeout <= 0 {
		problems = append(problems, fmt.Errorf("probe_timeout must be positive, got %v", c.ProbeTimeout))
	}
	if c.FailureThreshold < 1 {
		problems = append(problems, fmt.Errorf("failure_threshold must be at least 1, got %d", c.FailureThreshold))
	}

	return errors.Join(problems...)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	tokens := make([]string, len(c.AuthTokens))
	for i, t := range c.AuthTokens {
		tokens[i] = Mask(t)
	}
	c.AuthTokens = tokens
	if c.RedisPassword != "" {
		c.RedisPassword = "***REDACTED***"
	}
	return c
}

// Mask hides all but the last four characters of a token.
func Mask(token string) string {
	if len(token) <= 4 {
		return strings.Repeat("*", len(token))
	}
	return strings.Repeat("*", len(token)-4) + token[len(token)-4:]
}

// CredentialsFile is the on-disk shape of credentials_file.
type CredentialsFile struct {
	AuthTokens   []string `yaml:"auth_tokens"`
	FallbackURLs []string `yaml:"fallback_urls"`
}

// LoadCredentials reads and parses a credentials file.
func LoadCredentials(path string) (*CredentialsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var file CredentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials yaml: %w", err)
	}

	file.AuthTokens = merge(file.AuthTokens)
	file.FallbackURLs = merge(file.FallbackURLs)
	return &file, nil
}

// stringList accepts both a YAML list and a comma separated string.
func stringList(v *viper.Viper, key string) []string {
	switch raw := v.Get(key).(type) {
	case nil:
		return nil
	case string:
		return splitAndTrim(raw)
	default:
		return merge(v.GetStringSlice(key))
	}
}

// merge concatenates lists in order, trimming entries and dropping blanks and
// duplicates.
func merge(lists ...[]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, item := range list {
			item = strings.Trim(strings.TrimSpace(item), `"'`)
			if item == "" || seen[item] {
				continue
			}
			seen[item] = true
			out = append(out, item)
		}
	}
	return out
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	return merge(strings.Split(s, ","))
}
