package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"parking-admission/allocation"
	"parking-admission/pricing"
)

type Config struct {
	HTTPPort    int
	LogLevel    string
	DatabaseURL string

	InventoryPath string
	SlotMatchMode string

	PricingPolicy    string
	BasePrice        float64
	PriceElasticity  float64
	PriceTargetRatio float64

	OracleProvider string
	OracleModel    string
	OpenAIAPIKey   string
	GoogleAPIKey   string
	AnthropicKey   string
	OllamaBaseURL  string

	OrchestrationURL    string
	OrchestrationAPIKey string
	RemoteTimeout       time.Duration

	GoogleProjectID       string
	DetectionSubscription string
	ResultTopic           string
	CredentialsFile       string

	ReservationTTL    time.Duration
	PendingBookingTTL time.Duration
	SweepSchedule     string

	OTelEndpoint    string
	OTelServiceName string
}

func Load() *Config {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err == nil {
		log.Info().Msg("config: loaded .env")
	}

	cfg := &Config{
		HTTPPort:    getEnvInt("HTTP_PORT", 8080),
		LogLevel:    strings.TrimSpace(getEnv("LOG_LEVEL", "info")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),

		InventoryPath: strings.TrimSpace(os.Getenv("INVENTORY_PATH")),
		SlotMatchMode: strings.TrimSpace(getEnv("SLOT_MATCH_MODE", string(allocation.ModeStrict))),

		PricingPolicy:    strings.TrimSpace(getEnv("PRICING_POLICY", string(pricing.PolicySurge))),
		BasePrice:        getEnvFloat("BASE_PRICE", 50),
		PriceElasticity:  getEnvFloat("PRICE_ELASTICITY", 1.0),
		PriceTargetRatio: getEnvFloat("PRICE_TARGET_RATIO", pricing.DefaultTargetRatio),

		OracleProvider: strings.ToLower(strings.TrimSpace(os.Getenv("ORACLE_PROVIDER"))),
		OracleModel:    strings.TrimSpace(os.Getenv("ORACLE_MODEL")),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		GoogleAPIKey:   firstNonEmpty(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY")),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OllamaBaseURL:  strings.TrimSpace(getEnv("OLLAMA_BASE_URL", "http://localhost:11434")),

		OrchestrationURL:    strings.TrimSpace(os.Getenv("ORCHESTRATION_URL")),
		OrchestrationAPIKey: os.Getenv("ORCHESTRATION_API_KEY"),
		RemoteTimeout:       getEnvDuration("REMOTE_TIMEOUT", 20*time.Second),

		DetectionSubscription: strings.TrimSpace(os.Getenv("DETECTION_SUBSCRIPTION")),
		ResultTopic:           strings.TrimSpace(os.Getenv("ADMISSION_RESULT_TOPIC")),
		CredentialsFile:       strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")),

		ReservationTTL:    getEnvDuration("RESERVATION_TTL", 2*time.Minute),
		PendingBookingTTL: getEnvDuration("PENDING_BOOKING_TTL", 24*time.Hour),
		SweepSchedule:     strings.TrimSpace(getEnv("SWEEP_SCHEDULE", "@every 1m")),

		OTelEndpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTelServiceName: strings.TrimSpace(getEnv("OTEL_SERVICE_NAME", "parking-admission")),
	}
	if isTrue(os.Getenv("DEBUG")) {
		cfg.LogLevel = "debug"
	}

	cfg.GoogleProjectID = getGoogleProjectID(cfg.CredentialsFile, strings.TrimSpace(os.Getenv("PUBSUB_PROJECT_ID")))
	if !cfg.PubSubEnabled() {
		log.Info().Msg("config: Pub/Sub transport disabled; set PUBSUB_PROJECT_ID, DETECTION_SUBSCRIPTION and ADMISSION_RESULT_TOPIC to enable")
	}
	return cfg
}

// Validate checks the enumerated settings and the numeric ranges.
func (c *Config) Validate() error {
	var errs []error
	if _, err := allocation.ParseMode(c.SlotMatchMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := pricing.ParsePolicy(c.PricingPolicy); err != nil {
		errs = append(errs, err)
	}
	switch c.OracleProvider {
	case "", "openai", "google", "gemini", "ollama", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("unknown oracle provider %q (want openai|google|ollama|anthropic)", c.OracleProvider))
	}
	if !finite(c.BasePrice) || c.BasePrice <= 0 {
		errs = append(errs, fmt.Errorf("BASE_PRICE must be a finite positive number, got %v", c.BasePrice))
	}
	if !finite(c.PriceElasticity) {
		errs = append(errs, fmt.Errorf("PRICE_ELASTICITY must be finite, got %v", c.PriceElasticity))
	}
	if math.IsNaN(c.PriceTargetRatio) || c.PriceTargetRatio <= 0 || c.PriceTargetRatio >= 1 {
		errs = append(errs, fmt.Errorf("PRICE_TARGET_RATIO must be in (0,1), got %v", c.PriceTargetRatio))
	}
	if c.RemoteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REMOTE_TIMEOUT must be positive, got %s", c.RemoteTimeout))
	}
	if c.ReservationTTL <= 0 {
		errs = append(errs, fmt.Errorf("RESERVATION_TTL must be positive, got %s", c.ReservationTTL))
	}
	if c.PendingBookingTTL < 0 {
		errs = append(errs, fmt.Errorf("PENDING_BOOKING_TTL must not be negative, got %s", c.PendingBookingTTL))
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT out of range: %d", c.HTTPPort))
	}
	return errors.Join(errs...)
}

// Pricing returns the parsed pricing parameters. Call Validate first.
func (c *Config) Pricing() pricing.Config {
	policy, _ := pricing.ParsePolicy(c.PricingPolicy)
	return pricing.Config{
		Policy:      policy,
		BasePrice:   c.BasePrice,
		Elasticity:  c.PriceElasticity,
		TargetRatio: c.PriceTargetRatio,
	}
}

// Mode returns the parsed slot match mode. Call Validate first.
func (c *Config) Mode() allocation.Mode {
	m, _ := allocation.ParseMode(c.SlotMatchMode)
	return m
}

func (c *Config) PubSubEnabled() bool {
	return c.GoogleProjectID != "" && c.DetectionSubscription != "" && c.ResultTopic != ""
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.HTTPPort))
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"httpPort":              c.HTTPPort,
		"logLevel":              c.LogLevel,
		"databaseConfigured":    c.DatabaseURL != "",
		"inventoryPath":         c.InventoryPath,
		"slotMatchMode":         c.SlotMatchMode,
		"pricingPolicy":         c.PricingPolicy,
		"basePrice":             c.BasePrice,
		"oracleProvider":        c.OracleProvider,
		"oracleModel":           c.OracleModel,
		"orchestrationURL":      c.OrchestrationURL,
		"remoteTimeout":         c.RemoteTimeout.String(),
		"projectID":             c.GoogleProjectID,
		"detectionSubscription": c.DetectionSubscription,
		"resultTopic":           c.ResultTopic,
		"credentialsProvided":   c.CredentialsFile != "",
		"sweepSchedule":         c.SweepSchedule,
		"tracingEnabled":        c.OTelEndpoint != "",
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		iv, err := strconv.Atoi(v)
		if err == nil {
			return iv
		}
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid int, using default")
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid float, using default")
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid duration, using default")
	}
	return def
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func isTrue(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func projectIDFromCredentials(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	var x struct {
		ProjectID string `json:"project_id"`
	}
	// unreadable json yields an empty id
	_ = json.Unmarshal(b, &x)
	return x.ProjectID, nil
}

func getGoogleProjectID(credsFile string, explicit string) string {
	// 1) Explicit override
	if explicit := strings.TrimSpace(explicit); explicit != "" {
		log.Info().Str("projectID", explicit).Msg("config: using PUBSUB_PROJECT_ID for Google project")
		return explicit
	}

	// 2) Service account file
	if p := strings.TrimSpace(credsFile); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			log.Info().Str("credsFile", p).Msg("config: using project_id from credentials file")
			return strings.TrimSpace(pid)
		}
		log.Warn().Str("credsFile", p).Msg("config: project_id not found in credentials file or unreadable")
	}

	// 3) Common Google envs
	if v := firstNonEmpty(os.Getenv("GOOGLE_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCLOUD_PROJECT"), os.Getenv("GCP_PROJECT")); strings.TrimSpace(v) != "" {
		v = strings.TrimSpace(v)
		log.Info().Str("projectID", v).Msg("config: using Google project from common environment variables")
		return v
	}
	return ""
}
