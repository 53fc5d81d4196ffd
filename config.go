package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Database engine types.
const (
	dbTypeSQLite = "sqlite"
	dbTypeMySQL  = "mysql"
)

// The friendly secret name used when no secret ARN is configured.
const secretFriendlyName = "mtdb-credentials"

// Default keys inside the secret payload for the DB credentials.
const (
	secretKeyUsername = "username"
	secretKeyPassword = "password"
)

const defaultDatabasePath = "/tmp/minitwit.db"

// PER_PAGE is the timeline page size.
const PER_PAGE = 30

// Config holds every setting the app resolves at startup. It is validated
// once in loadConfig and treated as immutable afterwards.
type Config struct {
	DBType              string // sqlite (default) or mysql
	DBEndpoint          string // the RDS DNS name, mysql only
	DBName              string // the database name, mysql only
	DBUser              string
	DBPassword          string
	DBSecretARN         string // if set, credentials come from the secrets manager
	DBSecretKeyUsername string
	DBSecretKeyPassword string
	DatabasePath        string // local sqlite file
	SecretKey           string // session cookie signing key
	AdminUser           string
	AdminPassword       string
	BuildGitVersion     string
	Port                int
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loadConfig resolves the configuration from the environment, optionally
// merged from the dotenv file named by MINITWIT_SETTINGS. Required fields
// for the mysql engine are checked here so a misconfigured process dies at
// startup instead of on first use.
func loadConfig(log *logrus.Logger) (*Config, error) {
	if path := os.Getenv("MINITWIT_SETTINGS"); path != "" {
		if err := godotenv.Load(path); err != nil {
			log.Warnf("Can't load the settings file %s: %v", path, err)
		}
	}

	cfg := &Config{
		DBType:              envOr("DB_TYPE", dbTypeSQLite),
		DBEndpoint:          os.Getenv("DB_ENDPOINT"),
		DBName:              os.Getenv("DB_NAME"),
		DBUser:              os.Getenv("DB_USER"),
		DBPassword:          os.Getenv("DB_PASSWORD"),
		DBSecretARN:         os.Getenv("DB_SECRET_ARN"),
		DBSecretKeyUsername: envOr("DB_SECRET_KEY_USERNAME", secretKeyUsername),
		DBSecretKeyPassword: envOr("DB_SECRET_KEY_PASSWORD", secretKeyPassword),
		DatabasePath:        envOr("DATABASE_PATH", defaultDatabasePath),
		SecretKey:           envOr("SECRET_KEY", "development key"),
		AdminUser:           envOr("ADMIN_USER", "admin"),
		AdminPassword:       envOr("ADMIN_PASSWORD", "admin"),
		BuildGitVersion:     os.Getenv("BUILD_GIT_VERSION"),
	}

	port, err := strconv.Atoi(envOr("PORT", "5000"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}
	cfg.Port = port

	switch cfg.DBType {
	case dbTypeSQLite:
	case dbTypeMySQL:
		if cfg.DBEndpoint == "" {
			return nil, fmt.Errorf("DB_ENDPOINT must be set when DB_TYPE=%s", dbTypeMySQL)
		}
		if cfg.DBName == "" {
			return nil, fmt.Errorf("DB_NAME must be set when DB_TYPE=%s", dbTypeMySQL)
		}
	default:
		return nil, fmt.Errorf("unknown DB_TYPE %q", cfg.DBType)
	}

	return cfg, nil
}

// redactSecret keeps the first and last two characters of a sensitive value
// and masks the rest, so config dumps stay diagnosable without leaking.
func redactSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return v[:2] + strings.Repeat("*", len(v)-4) + v[len(v)-2:]
}

// redactMap masks every value whose key mentions PASSWORD, in place.
func redactMap(m map[string]string) map[string]string {
	for k, v := range m {
		if strings.Contains(strings.ToUpper(k), "PASSWORD") {
			m[k] = redactSecret(v)
		}
	}
	return m
}

// display returns the resolved configuration as a flat map with secrets
// redacted, ready for logging or the admin config dump.
func (c *Config) display() map[string]string {
	m := map[string]string{
		"DB_TYPE":                c.DBType,
		"DB_ENDPOINT":            c.DBEndpoint,
		"DB_NAME":                c.DBName,
		"DB_USER":                c.DBUser,
		"DB_PASSWORD":            c.DBPassword,
		"DB_SECRET_ARN":          c.DBSecretARN,
		"DB_SECRET_KEY_USERNAME": c.DBSecretKeyUsername,
		"DB_SECRET_KEY_PASSWORD": c.DBSecretKeyPassword,
		"DATABASE_PATH":          c.DatabasePath,
		"SECRET_KEY":             redactSecret(c.SecretKey),
		"ADMIN_USER":             c.AdminUser,
		"ADMIN_PASSWORD":         c.AdminPassword,
		"BUILD_GIT_VERSION":      c.BuildGitVersion,
		"PORT":                   strconv.Itoa(c.Port),
	}
	return redactMap(m)
}

// environMap returns the process environment as a map, with password-like
// values redacted.
func environMap() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return redactMap(m)
}
