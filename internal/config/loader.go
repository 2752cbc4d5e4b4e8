package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/JonMunkholm/surveyload/internal/dictionary"
	"github.com/JonMunkholm/surveyload/internal/textio"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// FlagKeys maps command-line flag names to config keys. Flags not listed
// here are not configuration.
var FlagKeys = map[string]string{
	"database-url":           "database.url",
	"data-schema":            "schema.data",
	"meta-schema":            "schema.metadata",
	"pack-threshold":         "packing.threshold",
	"country-specific":       "packing.country_specific",
	"reload-on-modification": "load.reload_on_modification",
	"workers":                "load.workers",
	"batch-size":             "load.batch_size",
	"issue-limit":            "load.issue_limit",
	"timeout":                "load.timeout",
	"expand-ranges":          "parse.expand_ranges",
	"range-limit":            "parse.range_limit",
	"encoding":               "parse.fallback_encoding",
	"host":                   "server.host",
	"port":                   "server.port",
	"log-level":              "logging.level",
	"log-format":             "logging.format",
}

// liveFlag turns dry-run off for one command. load.dry_run in the file or
// SURVEYLOAD_DRY_RUN=false in the environment does the same for every command.
const liveFlag = "live"

// field is one leaf of Config with its tags.
type field struct {
	key      string
	env      string
	envAlt   string
	defValue string
	slice    bool
}

// Load builds the configuration. Sources are layered lowest to highest:
// struct-tag defaults, the YAML file at path (if path is not empty),
// environment variables, then flags that were set on the command line.
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")
	fields := collectFields(reflect.TypeOf(Config{}), "")

	defaults := make(map[string]any)
	for _, f := range fields {
		if f.defValue != "" {
			defaults[f.key] = f.defValue
		}
	}
	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envMapper(fields)), nil); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, flagMapper(flags)), nil); err != nil {
			return nil, fmt.Errorf("config flags: %w", err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// collectFields walks the config struct and returns every leaf field.
func collectFields(t reflect.Type, prefix string) []field {
	var out []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		key := sf.Tag.Get("koanf")
		if key == "" {
			key = strings.ToLower(sf.Name)
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		if sf.Type.Kind() == reflect.Struct {
			out = append(out, collectFields(sf.Type, key)...)
			continue
		}
		out = append(out, field{
			key:      key,
			env:      sf.Tag.Get("env"),
			envAlt:   sf.Tag.Get("envAlt"),
			defValue: sf.Tag.Get("default"),
			slice:    sf.Type.Kind() == reflect.Slice,
		})
	}
	return out
}

// envMapper resolves environment variables named by env and envAlt tags.
// An alternate name is used only when the primary one is unset.
func envMapper(fields []field) func(string, string) (string, any) {
	byName := make(map[string]field)
	primary := make(map[string]string)
	for _, f := range fields {
		if f.env != "" {
			byName[f.env] = f
		}
		if f.envAlt != "" {
			byName[f.envAlt] = f
			primary[f.envAlt] = f.env
		}
	}

	return func(name, value string) (string, any) {
		f, ok := byName[name]
		if !ok || value == "" {
			return "", nil
		}
		if p, alt := primary[name]; alt && os.Getenv(p) != "" {
			return "", nil
		}
		if f.slice {
			return f.key, splitList(value)
		}
		return f.key, value
	}
}

// flagMapper maps changed flags to their config keys.
func flagMapper(flags *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		if !f.Changed {
			return "", nil
		}
		if f.Name == liveFlag {
			live, err := flags.GetBool(liveFlag)
			if err != nil {
				return "", nil
			}
			return "load.dry_run", !live
		}
		key, ok := FlagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	}
}

// splitList splits a comma-separated value, trimming blanks.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.MaxConns <= 0 {
		errs = append(errs, "database.max_conns must be positive")
	}
	if c.Database.MinConns < 0 {
		errs = append(errs, "database.min_conns must be non-negative")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		errs = append(errs, fmt.Sprintf("database.max_conns (%d) must be >= database.min_conns (%d)",
			c.Database.MaxConns, c.Database.MinConns))
	}

	if strings.TrimSpace(c.Schema.Data) == "" {
		errs = append(errs, "schema.data is required")
	}
	if strings.TrimSpace(c.Schema.Metadata) == "" {
		errs = append(errs, "schema.metadata is required")
	}
	if c.Schema.Data != "" && strings.EqualFold(c.Schema.Data, c.Schema.Metadata) {
		errs = append(errs, "schema.data and schema.metadata must differ")
	}

	if c.Packing.Threshold <= 0 {
		errs = append(errs, "packing.threshold must be positive")
	}

	if c.Load.Workers <= 0 {
		errs = append(errs, "load.workers must be positive")
	}
	if c.Load.BatchSize <= 0 {
		errs = append(errs, "load.batch_size must be positive")
	}
	if c.Load.IssueLimit < 0 {
		errs = append(errs, "load.issue_limit must be non-negative")
	}
	if c.Load.Timeout < 0 {
		errs = append(errs, "load.timeout must be non-negative")
	}

	if _, err := dictionary.ParseExpandStrategy(c.Parse.ExpandRanges); err != nil {
		errs = append(errs, fmt.Sprintf("parse.expand_ranges (%q) must be one of: All, Multiple, None", c.Parse.ExpandRanges))
	}
	if c.Parse.RangeLimit <= 0 {
		errs = append(errs, "parse.range_limit must be positive")
	}
	if _, err := textio.LookupEncoding(c.Parse.FallbackEncoding); err != nil {
		errs = append(errs, fmt.Sprintf("parse.fallback_encoding (%q) is not a known encoding", c.Parse.FallbackEncoding))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "server.read_timeout must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be positive")
	}
	if c.Server.RequireAPIKey && len(c.Server.APIKeys) == 0 {
		errs = append(errs, "server.require_api_key is true but server.api_keys is empty; configure at least one API key or disable auth")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("logging.level (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("logging.format (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// RequireDatabase reports an error when no database URL is configured.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("database.url is required (set DATABASE_URL or --database-url)")
	}
	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	url := ""
	if c.Database.URL != "" {
		url = "[MASKED]"
	}
	b.WriteString(fmt.Sprintf("Database: {URL: %q, MaxConns: %d, MinConns: %d}, ",
		url, c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Schema: {Data: %q, Metadata: %q}, ", c.Schema.Data, c.Schema.Metadata))
	b.WriteString(fmt.Sprintf("Packing: {Threshold: %d, CountrySpecific: %v}, ",
		c.Packing.Threshold, c.Packing.CountrySpecific))
	b.WriteString(fmt.Sprintf("Load: {DryRun: %v, ReloadOnModification: %v, Workers: %d, BatchSize: %d}, ",
		c.Load.DryRun, c.Load.ReloadOnModification, c.Load.Workers, c.Load.BatchSize))
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d, APIKeys: %d}, ",
		c.Server.Host, c.Server.Port, len(c.Server.APIKeys)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
