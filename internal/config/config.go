package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Port       int    `yaml:"port"`
	GinMode    string `yaml:"gin_mode"`
	AdminToken string `yaml:"admin_token"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SessionConfig struct {
	TTL               string `yaml:"ttl"`
	ReconcileOnResume *bool  `yaml:"reconcile_on_resume"`
	EventsKeepAlive   string `yaml:"events_keepalive"`
}

type RiskConfig struct {
	URL            string  `yaml:"url"`
	Timeout        string  `yaml:"timeout"`
	Threshold      float64 `yaml:"threshold"`
	VelocityLimit  int     `yaml:"velocity_limit"`
	VelocityWindow string  `yaml:"velocity_window"`
}

type DeviceTokenConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
	TTL    string `yaml:"ttl"`
	Cookie string `yaml:"cookie"`
	Secure bool   `yaml:"secure"`
}

type TwilioConfig struct {
	AccountSID  string `yaml:"account_sid"`
	AuthToken   string `yaml:"auth_token"`
	FromNumber  string `yaml:"from_number"`
	CountryCode string `yaml:"country_code"`
}

type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

type NavigationConfig struct {
	ModelPath string `yaml:"model_path"`
}

type ConfigFile struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Session     SessionConfig     `yaml:"session"`
	Risk        RiskConfig        `yaml:"risk"`
	DeviceToken DeviceTokenConfig `yaml:"device_token"`
	Twilio      TwilioConfig      `yaml:"twilio"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Navigation  NavigationConfig  `yaml:"navigation"`
}

type Config struct {
	Port               string
	GinMode            string
	AdminToken         string
	DSN                string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	SessionTTL         time.Duration
	ReconcileOnResume  bool
	EventsKeepAlive    time.Duration
	RiskURL            string
	RiskTimeout        time.Duration
	RiskThreshold      float64
	VelocityLimit      int
	VelocityWindow     time.Duration
	DeviceSecret       string
	DeviceIssuer       string
	DeviceTTL          time.Duration
	DeviceCookie       string
	DeviceCookieSecure bool
	TwilioSID          string
	TwilioToken        string
	TwilioFrom         string
	SMSCountryCode     string
	KafkaBrokers       []string
	KafkaTopic         string
	NavigationModel    string
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// Load reads config/config.yml (or CONFIG_PATH) and applies environment overrides for secrets and endpoints
func Load() (*Config, error) {
	configFile, err := loadConfigFile(env("CONFIG_PATH", "config/config.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	return FromFile(configFile)
}

// FromFile flattens a parsed config file into a Config, applying defaults and environment overrides
func FromFile(configFile *ConfigFile) (*Config, error) {
	sessionTTL, err := parseDuration(configFile.Session.TTL, 30*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid session TTL: %w", err)
	}

	keepAlive, err := parseDuration(configFile.Session.EventsKeepAlive, 25*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid session events keepalive: %w", err)
	}

	riskTimeout, err := parseDuration(configFile.Risk.Timeout, 2*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid risk timeout: %w", err)
	}

	velocityWindow, err := parseDuration(configFile.Risk.VelocityWindow, 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("invalid risk velocity window: %w", err)
	}

	deviceTTL, err := parseDuration(configFile.DeviceToken.TTL, 365*24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("invalid device token TTL: %w", err)
	}

	threshold := configFile.Risk.Threshold
	if threshold == 0 {
		threshold = 0.7
	}
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("invalid risk threshold %.2f: must be between 0 and 1", threshold)
	}

	velocityLimit := configFile.Risk.VelocityLimit
	if velocityLimit <= 0 {
		velocityLimit = 5
	}

	reconcile := true
	if configFile.Session.ReconcileOnResume != nil {
		reconcile = *configFile.Session.ReconcileOnResume
	}

	port := configFile.App.Port
	if port == 0 {
		port = 8080
	}

	redisDB := configFile.Redis.DB
	if v := os.Getenv("REDIS_DB"); v != "" {
		if redisDB, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
	}

	cfg := &Config{
		Port:               env("PORT", strconv.Itoa(port)),
		GinMode:            env("GIN_MODE", configFile.App.GinMode),
		AdminToken:         env("ADMIN_TOKEN", configFile.App.AdminToken),
		DSN:                env("DATABASE_DSN", configFile.Database.DSN),
		RedisAddr:          env("REDIS_ADDR", configFile.Redis.Addr),
		RedisPassword:      env("REDIS_PASSWORD", configFile.Redis.Password),
		RedisDB:            redisDB,
		SessionTTL:         sessionTTL,
		ReconcileOnResume:  reconcile,
		EventsKeepAlive:    keepAlive,
		RiskURL:            env("RISK_EVALUATOR_URL", configFile.Risk.URL),
		RiskTimeout:        riskTimeout,
		RiskThreshold:      threshold,
		VelocityLimit:      velocityLimit,
		VelocityWindow:     velocityWindow,
		DeviceSecret:       env("DEVICE_TOKEN_SECRET", configFile.DeviceToken.Secret),
		DeviceIssuer:       env("DEVICE_TOKEN_ISSUER", configFile.DeviceToken.Issuer),
		DeviceTTL:          deviceTTL,
		DeviceCookie:       configFile.DeviceToken.Cookie,
		DeviceCookieSecure: configFile.DeviceToken.Secure,
		TwilioSID:          env("TWILIO_ACCOUNT_SID", configFile.Twilio.AccountSID),
		TwilioToken:        env("TWILIO_AUTH_TOKEN", configFile.Twilio.AuthToken),
		TwilioFrom:         env("TWILIO_FROM_NUMBER", configFile.Twilio.FromNumber),
		SMSCountryCode:     configFile.Twilio.CountryCode,
		KafkaBrokers:       splitList(env("KAFKA_BROKERS", configFile.Kafka.Brokers)),
		KafkaTopic:         configFile.Kafka.Topic,
		NavigationModel:    configFile.Navigation.ModelPath,
	}

	if cfg.DeviceCookie == "" {
		cfg.DeviceCookie = "portal_device"
	}
	if cfg.DeviceIssuer == "" {
		cfg.DeviceIssuer = "accountportal"
	}
	if cfg.KafkaTopic == "" {
		cfg.KafkaTopic = "accountportal.events"
	}
	if cfg.DeviceSecret == "" {
		return nil, fmt.Errorf("device token secret is required")
	}

	return cfg, nil
}

func loadConfigFile(path string) (*ConfigFile, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file at %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(bytes, &config); err != nil {
		return nil, fmt.Errorf("could not parse config yaml: %w", err)
	}

	return &config, nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	return time.ParseDuration(s)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
