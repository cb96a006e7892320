package contribval

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSchemaURL              = "https://raw.githubusercontent.com/mozilla/contribute.json/master/schema.json"
	DefaultCanonicalContributeURL = "https://raw.githubusercontent.com/mozilla/contribute.json/master/contribute.json"
)

type Config struct {
	Server struct {
		Host  string `yaml:"host"`
		Port  int    `yaml:"port"`
		Debug bool   `yaml:"debug"`
	} `yaml:"server"`

	Upstream struct {
		SchemaURL              string `yaml:"schemaURL"`
		CanonicalContributeURL string `yaml:"canonicalContributeURL"`
	} `yaml:"upstream"`

	Fetch struct {
		Timeout   string `yaml:"timeout"`
		MaxBody   string `yaml:"maxBody"`
		UserAgent string `yaml:"userAgent"`

		timeoutDur time.Duration
		maxBody    int64
	} `yaml:"fetch"`

	Cache struct {
		SchemaTTL       string `yaml:"schemaTTL"`
		HistoryTTL      string `yaml:"historyTTL"`
		ReachabilityTTL string `yaml:"reachabilityTTL"`

		schemaTTL       time.Duration
		historyTTL      time.Duration
		reachabilityTTL time.Duration
	} `yaml:"cache"`

	History struct {
		// RecordAnonymous keeps an empty entry for body-only submissions.
		RecordAnonymous bool `yaml:"recordAnonymous"`
	} `yaml:"history"`

	Storage struct {
		RAM struct {
			Max string `yaml:"max"`
		} `yaml:"ram"`
		Disk struct {
			Path string `yaml:"path"`
			Max  string `yaml:"max"`
		} `yaml:"disk"`
		Memcache struct {
			Servers []string `yaml:"servers"`
		} `yaml:"memcache"`

		ramMax  int64
		diskMax int64
	} `yaml:"storage"`

	Logging struct {
		LogStatsEvery    string `yaml:"logStatsEvery"`
		LogFailuresEvery string `yaml:"logFailuresEvery"`

		logStatsEveryDur    time.Duration
		logFailuresEveryDur time.Duration
	} `yaml:"logging"`
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() Config {
	var cfg Config
	if err := cfg.finalize(); err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig reads .env, then the YAML file at path (a missing file is fine),
// then environment overrides.
func LoadConfig(path string) (Config, error) {
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("no .env loaded: %v", err)
	}

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			log.Printf("config %s not found, using defaults", path)
		case err != nil:
			return Config{}, err
		default:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, err
			}
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = p
	}
	if v, ok := lookup("HOST"); ok && v != "" {
		cfg.Server.Host = v
	}
	if v, ok := lookup("DEBUG"); ok {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "y", "yes":
			cfg.Server.Debug = true
		default:
			cfg.Server.Debug = false
		}
	}
	if v, ok := lookup("MEMCACHE_URL"); ok && v != "" {
		var servers []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				servers = append(servers, s)
			}
		}
		cfg.Storage.Memcache.Servers = servers
	}
	if v, ok := lookup("SCHEMA_URL"); ok && v != "" {
		cfg.Upstream.SchemaURL = v
	}
	return nil
}

func (cfg *Config) finalize() error {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Upstream.SchemaURL == "" {
		cfg.Upstream.SchemaURL = DefaultSchemaURL
	}
	if cfg.Upstream.CanonicalContributeURL == "" {
		cfg.Upstream.CanonicalContributeURL = DefaultCanonicalContributeURL
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = "contribval/1.0"
	}

	durations := []struct {
		name string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"fetch.timeout", cfg.Fetch.Timeout, 10 * time.Second, &cfg.Fetch.timeoutDur},
		{"cache.schemaTTL", cfg.Cache.SchemaTTL, time.Hour, &cfg.Cache.schemaTTL},
		{"cache.historyTTL", cfg.Cache.HistoryTTL, 10 * 24 * time.Hour, &cfg.Cache.historyTTL},
		{"cache.reachabilityTTL", cfg.Cache.ReachabilityTTL, 60 * time.Second, &cfg.Cache.reachabilityTTL},
		{"logging.logStatsEvery", cfg.Logging.LogStatsEvery, 0, &cfg.Logging.logStatsEveryDur},
		{"logging.logFailuresEvery", cfg.Logging.LogFailuresEvery, time.Minute, &cfg.Logging.logFailuresEveryDur},
	}
	for _, d := range durations {
		if d.raw == "" {
			*d.dst = d.def
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		if v < 0 {
			return fmt.Errorf("%s: negative duration", d.name)
		}
		*d.dst = v
	}
	if cfg.Fetch.timeoutDur == 0 {
		return fmt.Errorf("fetch.timeout: must be positive")
	}

	sizes := []struct {
		name string
		raw  string
		def  int64
		dst  *int64
	}{
		{"fetch.maxBody", cfg.Fetch.MaxBody, 2 * 1024 * 1024, &cfg.Fetch.maxBody},
		{"storage.ram.max", cfg.Storage.RAM.Max, 0, &cfg.Storage.ramMax},
		{"storage.disk.max", cfg.Storage.Disk.Max, 256 * 1024 * 1024, &cfg.Storage.diskMax},
	}
	for _, s := range sizes {
		if s.raw == "" {
			*s.dst = s.def
			continue
		}
		v, err := parseBytes(s.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
		*s.dst = v
	}
	return nil
}

func (cfg Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
}
