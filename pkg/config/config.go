package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile selects which variables are required at startup.
type Profile string

const (
	ProfileDevelopment Profile = "development"
	ProfileProduction  Profile = "production"
)

// Config holds the full server configuration. Environment variables are the
// source of truth; an optional YAML file fills gaps for local development but
// never overrides a set variable.
type Config struct {
	Profile Profile `yaml:"profile"`

	HTTPAddr     string `yaml:"http_addr"`     // public API listener
	InternalAddr string `yaml:"internal_addr"` // /metrics + pprof listener

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	// JWT key material, in precedence order: inline JSON key set, PEM pair
	// from env, Secrets Manager ARN fetched at init.
	JWTKeysJSON      string `yaml:"jwt_keys_json"`
	JWTPrivateKey    string `yaml:"jwt_private_key"`
	JWTPublicKey     string `yaml:"jwt_public_key"`
	JWTKeyID         string `yaml:"jwt_key_id"`
	JWTKeysSecretARN string `yaml:"jwt_keys_secret_arn"`

	AWSRegion string `yaml:"aws_region"`
	S3Bucket  string `yaml:"s3_bucket"`

	// Optional overrides for local development against MinIO or LocalStack.
	// Empty values defer to the default AWS credential chain.
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`

	TwilioAccountSID  string `yaml:"twilio_account_sid"`
	TwilioAuthToken   string `yaml:"twilio_auth_token"`
	TwilioFromNumber  string `yaml:"twilio_from_number"`
	PublicWebhookBase string `yaml:"public_webhook_base"` // e.g. https://api.berthcare.ca

	GeocoderBaseURL string `yaml:"geocoder_base_url"`
	GeocoderAPIKey  string `yaml:"geocoder_api_key"`

	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`

	DBPoolMin int `yaml:"db_pool_min"`
	DBPoolMax int `yaml:"db_pool_max"`

	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// External-call timeouts (spec'd budgets, not tunable per deployment).
const (
	DBConnectTimeout = 2 * time.Second
	DBQueryTimeout   = 30 * time.Second
	RedisTimeout     = 200 * time.Millisecond
	TwilioTimeout    = 10 * time.Second
	GeocodeTimeout   = 5 * time.Second
)

// Hard cap on the Postgres pool regardless of configuration.
const dbPoolCap = 20

// Load builds configuration from the environment, optionally overlaying a
// YAML file first. It fails listing every missing required variable so a bad
// deploy surfaces everything at once.
func Load(configFile string) (*Config, error) {
	cfg := &Config{
		Profile:       ProfileDevelopment,
		HTTPAddr:      ":8080",
		InternalAddr:  ":9090",
		LogLevel:      "info",
		LogJSON:       true,
		DBPoolMin:     2,
		DBPoolMax:     10,
		ShutdownGrace: 30 * time.Second,
	}

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("BERTHCARE_ENV"); v != "" {
		cfg.Profile = Profile(v)
	}
	setStr(&cfg.HTTPAddr, "HTTP_ADDR")
	setStr(&cfg.InternalAddr, "INTERNAL_ADDR")
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.RedisURL, "REDIS_URL")
	setStr(&cfg.JWTKeysJSON, "JWT_KEYS_JSON")
	setStr(&cfg.JWTPrivateKey, "JWT_PRIVATE_KEY")
	setStr(&cfg.JWTPublicKey, "JWT_PUBLIC_KEY")
	setStr(&cfg.JWTKeyID, "JWT_KEY_ID")
	setStr(&cfg.JWTKeysSecretARN, "JWT_KEYS_SECRET_ARN")
	setStr(&cfg.AWSRegion, "AWS_REGION")
	setStr(&cfg.S3Bucket, "S3_BUCKET")
	setStr(&cfg.S3Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3SecretKey, "S3_SECRET_KEY")
	setStr(&cfg.TwilioAccountSID, "TWILIO_ACCOUNT_SID")
	setStr(&cfg.TwilioAuthToken, "TWILIO_AUTH_TOKEN")
	setStr(&cfg.TwilioFromNumber, "TWILIO_FROM_NUMBER")
	setStr(&cfg.PublicWebhookBase, "PUBLIC_WEBHOOK_BASE")
	setStr(&cfg.GeocoderBaseURL, "GEOCODER_BASE_URL")
	setStr(&cfg.GeocoderAPIKey, "GEOCODER_API_KEY")
	setStr(&cfg.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("LOG_JSON"); v != "" {
		cfg.LogJSON = v == "true" || v == "1"
	}
	if v := os.Getenv("DB_POOL_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DBPoolMin = n
		}
	}
	if v := os.Getenv("DB_POOL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DBPoolMax = n
		}
	}
}

// validate checks required settings for the active profile and normalizes
// pool bounds.
func (c *Config) validate() error {
	var missing []string

	required := map[string]string{
		"DATABASE_URL": c.DatabaseURL,
		"REDIS_URL":    c.RedisURL,
	}
	if c.Profile == ProfileProduction {
		required["AWS_REGION"] = c.AWSRegion
		required["S3_BUCKET"] = c.S3Bucket
		required["TWILIO_ACCOUNT_SID"] = c.TwilioAccountSID
		required["TWILIO_AUTH_TOKEN"] = c.TwilioAuthToken
		required["TWILIO_FROM_NUMBER"] = c.TwilioFromNumber
		required["PUBLIC_WEBHOOK_BASE"] = c.PublicWebhookBase
		required["GEOCODER_BASE_URL"] = c.GeocoderBaseURL
	}
	for key, val := range required {
		if val == "" {
			missing = append(missing, key)
		}
	}

	// Key material: at least one source must be present. The key store does
	// its own deeper validation at init.
	if c.JWTKeysJSON == "" && c.JWTPrivateKey == "" && c.JWTKeysSecretARN == "" {
		missing = append(missing, "JWT_PRIVATE_KEY (or JWT_KEYS_JSON / JWT_KEYS_SECRET_ARN)")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.DBPoolMin < 1 {
		c.DBPoolMin = 1
	}
	if c.DBPoolMax < c.DBPoolMin {
		c.DBPoolMax = c.DBPoolMin
	}
	if c.DBPoolMax > dbPoolCap {
		c.DBPoolMax = dbPoolCap
	}
	return nil
}
