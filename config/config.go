// Package config loads the relay configuration.
//
// Loading order:
//  1. .env (secrets and APP_ENV) via godotenv
//  2. configs/common.yaml, then configs/{APP_ENV}.yaml; ${VAR} references
//     are expanded from the environment
//  3. AGENTRELAY_* environment variables override single values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentrelay/core"
)

// Environment names a deployment environment.
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// Config is the complete relay configuration.
type Config struct {
	Env          Environment        `yaml:"-"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Etcd         EtcdConfig         `yaml:"etcd"`
	Minio        MinioConfig        `yaml:"minio"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Stream       StreamConfig       `yaml:"stream"`
	Log          LogConfig          `yaml:"log"`
	Agents       []AgentConfig      `yaml:"agents"`

	loadedFrom string
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// A2APath mounts the NDJSON agent endpoint when non-empty.
	A2APath string `yaml:"a2a_path"`
}

type DatabaseConfig struct {
	// Driver is one of memory, sqlite, postgres or mongo.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Name is the MongoDB database name.
	Name string `yaml:"name"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
	// PublishOperations fans operations out to Redis Streams.
	PublishOperations bool `yaml:"publish_operations"`
}

type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
}

type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type OrchestratorConfig struct {
	MaxErrors    int           `yaml:"max_errors"`
	MaxTransfers int           `yaml:"max_transfers"`
	TextDelay    time.Duration `yaml:"text_delay"`
}

type StreamConfig struct {
	Watchdog        time.Duration `yaml:"watchdog"`
	IdleGap         time.Duration `yaml:"idle_gap"`
	JSONBufferLimit int           `yaml:"json_buffer_limit"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AgentConfig declares one agent. Agents with an endpoint are reached over
// HTTP; agents with a provider run in process.
type AgentConfig struct {
	ID            string                  `yaml:"id"`
	Endpoint      string                  `yaml:"endpoint"`
	Provider      string                  `yaml:"provider"` // openai, anthropic or mock
	Model         string                  `yaml:"model"`
	Instructions  string                  `yaml:"instructions"`
	Peers         []string                `yaml:"peers"`
	StatusUpdates core.StatusUpdatePolicy `yaml:"status_updates"`
}

// LoadOptions controls where Load looks for files.
type LoadOptions struct {
	ConfigDirs []string
	EnvFiles   []string
}

// Load reads the configuration. A missing file is not an error; a malformed
// one is.
func Load(optFns ...func(o *LoadOptions)) (*Config, error) {
	opts := LoadOptions{
		ConfigDirs: []string{"configs", "../configs"},
		EnvFiles:   []string{".env", "../.env"},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	for _, p := range opts.EnvFiles {
		if err := godotenv.Load(p); err == nil {
			break
		}
	}

	cfg := defaults()
	cfg.Env = parseEnv(getEnv("APP_ENV", "dev"))

	for _, name := range []string{"common.yaml", fmt.Sprintf("%s.yaml", cfg.Env)} {
		path, err := cfg.loadFile(opts.ConfigDirs, name)
		if err != nil {
			return nil, err
		}
		if path != "" {
			cfg.loadedFrom = path
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

func defaults() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{Driver: "memory", Name: "agentrelay"},
		Etcd:     EtcdConfig{Prefix: "/agentrelay"},
		Minio:    MinioConfig{Bucket: "agentrelay"},
		Orchestrator: OrchestratorConfig{
			MaxErrors:    3,
			MaxTransfers: core.DefaultMaxTransfers,
		},
		Stream: StreamConfig{
			Watchdog:        10 * time.Minute,
			IdleGap:         150 * time.Millisecond,
			JSONBufferLimit: 64 << 10,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// loadFile merges the first name found in dirs into c and returns its path.
func (c *Config) loadFile(dirs []string, name string) (string, error) {
	for _, dir := range dirs {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), c); err != nil {
			return "", fmt.Errorf("parse %s: %w", path, err)
		}
		return path, nil
	}
	return "", nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"AGENTRELAY_SERVER_ADDR":      &c.Server.Addr,
		"AGENTRELAY_A2A_PATH":         &c.Server.A2APath,
		"AGENTRELAY_DATABASE_DRIVER":  &c.Database.Driver,
		"AGENTRELAY_DATABASE_DSN":     &c.Database.DSN,
		"AGENTRELAY_DATABASE_NAME":    &c.Database.Name,
		"AGENTRELAY_REDIS_URL":        &c.Redis.URL,
		"AGENTRELAY_ETCD_PREFIX":      &c.Etcd.Prefix,
		"AGENTRELAY_MINIO_ENDPOINT":   &c.Minio.Endpoint,
		"AGENTRELAY_MINIO_ACCESS_KEY": &c.Minio.AccessKey,
		"AGENTRELAY_MINIO_SECRET_KEY": &c.Minio.SecretKey,
		"AGENTRELAY_MINIO_BUCKET":     &c.Minio.Bucket,
		"AGENTRELAY_LOG_LEVEL":        &c.Log.Level,
		"AGENTRELAY_LOG_FORMAT":       &c.Log.Format,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("AGENTRELAY_ETCD_ENDPOINTS"); v != "" {
		c.Etcd.Endpoints = strings.Split(v, ",")
	}

	ints := map[string]*int{
		"AGENTRELAY_MAX_ERRORS":    &c.Orchestrator.MaxErrors,
		"AGENTRELAY_MAX_TRANSFERS": &c.Orchestrator.MaxTransfers,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"AGENTRELAY_TEXT_DELAY": &c.Orchestrator.TextDelay,
		"AGENTRELAY_WATCHDOG":   &c.Stream.Watchdog,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres", "mongo":
	default:
		return fmt.Errorf("database.driver: unsupported value %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("agents[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
		if a.Endpoint == "" && a.Provider == "" {
			return fmt.Errorf("agents[%d] %s: endpoint or provider is required", i, a.ID)
		}
	}
	return nil
}

func parseEnv(env string) Environment {
	switch strings.ToLower(env) {
	case "test":
		return EnvTest
	case "prod", "production":
		return EnvProduction
	default:
		return EnvDevelopment
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// LoadedFrom returns the path of the last configuration file merged.
func (c *Config) LoadedFrom() string { return c.loadedFrom }

// String returns a summary with credentials masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Env: %s, DB: %s %s, Redis: %s, Agents: %d}",
		c.Env, c.Database.Driver, maskPassword(c.Database.DSN), maskPassword(c.Redis.URL), len(c.Agents))
}

var passwordRe = regexp.MustCompile(`(://[^:/@]+:)([^@]+)(@)`)

func maskPassword(url string) string {
	return passwordRe.ReplaceAllString(url, "${1}***${3}")
}
