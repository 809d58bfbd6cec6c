// Package config resolves the server settings from defaults, an optional
// YAML file, environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Catalog sources.
const (
	SourceDefault = "default"
	SourceFile    = "file"
	SourceNeo4j   = "neo4j"
)

type Config struct {
	Port               int           `mapstructure:"port"`
	Neo4jURI           string        `mapstructure:"neo4j_uri"`
	Neo4jUser          string        `mapstructure:"neo4j_user"`
	Neo4jPassword      string        `mapstructure:"neo4j_password"`
	Neo4jSeedFile      string        `mapstructure:"neo4j_seed_file"`
	LogLevel           string        `mapstructure:"log_level"`
	LogFormat          string        `mapstructure:"log_format"`
	CatalogSource      string        `mapstructure:"catalog_source"`
	CatalogPath        string        `mapstructure:"catalog_path"`
	UndoDepth          int           `mapstructure:"undo_depth"`
	CORSAllowedOrigins []string      `mapstructure:"cors_allowed_origins"`
	ShutdownTimeout    time.Duration `mapstructure:"shutdown_timeout"`
}

var defaults = map[string]any{
	"port":                 8080,
	"neo4j_uri":            "bolt://localhost:7687",
	"neo4j_user":           "neo4j",
	"neo4j_password":       "",
	"neo4j_seed_file":      "",
	"log_level":            "info",
	"log_format":           "text",
	"catalog_source":       SourceDefault,
	"catalog_path":         "",
	"undo_depth":           10,
	"cors_allowed_origins": []string{"*"},
	"shutdown_timeout":     5 * time.Second,
}

// flags maps command line flag names to config keys.
var flags = map[string]string{
	"port":            "port",
	"neo4j-uri":       "neo4j_uri",
	"neo4j-user":      "neo4j_user",
	"neo4j-seed-file": "neo4j_seed_file",
	"log-level":       "log_level",
	"log-format":      "log_format",
	"catalog-source":  "catalog_source",
	"catalog-path":    "catalog_path",
	"undo-depth":      "undo_depth",
	"cors-origins":    "cors_allowed_origins",
}

// AddFlags registers the command line flags on fs. The password is only
// read from the environment or the config file.
func AddFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a YAML config file.")
	fs.Int("port", defaults["port"].(int), "HTTP listen port.")
	fs.String("neo4j-uri", defaults["neo4j_uri"].(string), "Neo4j bolt URI, used when --catalog-source=neo4j.")
	fs.String("neo4j-user", defaults["neo4j_user"].(string), "Neo4j user.")
	fs.String("neo4j-seed-file", "", "Cypher file executed against Neo4j before the catalog is read.")
	fs.String("log-level", defaults["log_level"].(string), "Log level: debug, info, warn or error.")
	fs.String("log-format", defaults["log_format"].(string), "Log format: text or json.")
	fs.String("catalog-source", SourceDefault, "Where zones come from: default, file or neo4j.")
	fs.String("catalog-path", "", "YAML catalog, used when --catalog-source=file.")
	fs.Int("undo-depth", defaults["undo_depth"].(int), "How many operations can be undone.")
	fs.StringSlice("cors-origins", []string{"*"}, "Allowed CORS origins.")
}

// LoadConfig parses args and resolves the configuration.
func LoadConfig(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("nexuspark", pflag.ContinueOnError)
	AddFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return Resolve(fs)
}

// Resolve merges defaults, the config file named by --config, the
// environment and the flags already parsed into fs.
func Resolve(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for name, key := range flags {
		if f := fs.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}

	if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
		v.SetConfigFile(f.Value.String())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.UndoDepth < 1 {
		errs = append(errs, fmt.Errorf("undo depth must be at least 1, got %d", c.UndoDepth))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	switch c.CatalogSource {
	case SourceDefault:
	case SourceFile:
		if c.CatalogPath == "" {
			errs = append(errs, errors.New("catalog source file needs a catalog path"))
		}
	case SourceNeo4j:
		if c.Neo4jURI == "" {
			errs = append(errs, errors.New("catalog source neo4j needs a neo4j uri"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown catalog source %q", c.CatalogSource))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string { return fmt.Sprintf(":%d", c.Port) }
