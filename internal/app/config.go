package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores runtime configuration loaded from environment variables and
// an optional config file (CONFIG_FILE).
type Config struct {
	AppEnv            string
	HTTPAddr          string
	DBDriver          string
	DBDSN             string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifeMins int

	JWTSecret   string
	JWTTTLHours int
	BcryptCost  int

	CORSOrigins           []string
	CSRFEnforced          bool
	AuthRateLimitPerMin   int
	SubmitRateLimitPerMin int
	SubmitMaxRetries      int

	LogLevel string
	LogFile  string

	MediaRoot     string
	PublicBaseURL string
}

func (c Config) JWTTTL() time.Duration {
	return time.Duration(c.JWTTTLHours) * time.Hour
}

func (c Config) DBConnMaxLifetime() time.Duration {
	return time.Duration(c.DBConnMaxLifeMins) * time.Minute
}

func LoadConfig() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("app_env", "development")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("db_driver", "postgres")
	v.SetDefault("db_dsn", "")
	v.SetDefault("db_max_open_conns", 25)
	v.SetDefault("db_max_idle_conns", 25)
	v.SetDefault("db_conn_max_lifetime_minutes", 30)
	v.SetDefault("jwt_secret", "scholarify-dev-secret")
	v.SetDefault("jwt_ttl_hours", 8)
	v.SetDefault("bcrypt_cost", 0)
	v.SetDefault("cors_origins", "http://localhost:3000")
	v.SetDefault("csrf_enforced", false)
	v.SetDefault("auth_rate_limit_per_minute", 60)
	v.SetDefault("submit_rate_limit_per_minute", 30)
	v.SetDefault("submit_max_retries", 3)
	v.SetDefault("log_level", "")
	v.SetDefault("log_file", "")
	v.SetDefault("media_root", "media")
	v.SetDefault("public_base_url", "")

	if path := strings.TrimSpace(v.GetString("config_file")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := Config{
		AppEnv:                v.GetString("app_env"),
		HTTPAddr:              v.GetString("http_addr"),
		DBDriver:              v.GetString("db_driver"),
		DBDSN:                 v.GetString("db_dsn"),
		DBMaxOpenConns:        positiveOr(v.GetInt("db_max_open_conns"), 25),
		DBMaxIdleConns:        positiveOr(v.GetInt("db_max_idle_conns"), 25),
		DBConnMaxLifeMins:     positiveOr(v.GetInt("db_conn_max_lifetime_minutes"), 30),
		JWTSecret:             v.GetString("jwt_secret"),
		JWTTTLHours:           positiveOr(v.GetInt("jwt_ttl_hours"), 8),
		BcryptCost:            v.GetInt("bcrypt_cost"),
		CORSOrigins:           splitList(v.GetString("cors_origins")),
		CSRFEnforced:          v.GetBool("csrf_enforced"),
		AuthRateLimitPerMin:   positiveOr(v.GetInt("auth_rate_limit_per_minute"), 60),
		SubmitRateLimitPerMin: positiveOr(v.GetInt("submit_rate_limit_per_minute"), 30),
		SubmitMaxRetries:      positiveOr(v.GetInt("submit_max_retries"), 3),
		LogLevel:              v.GetString("log_level"),
		LogFile:               v.GetString("log_file"),
		MediaRoot:             v.GetString("media_root"),
		PublicBaseURL:         strings.TrimRight(v.GetString("public_base_url"), "/"),
	}

	if cfg.AppEnv == "production" && cfg.JWTSecret == "scholarify-dev-secret" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set in production")
	}
	return cfg, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func splitList(v string) []string {
	out := make([]string, 0)
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
