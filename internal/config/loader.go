package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables that override values read from the file.
const (
	EnvDatabaseDSN = "PERSISTKIT_DATABASE_DSN"
	EnvLogLevel    = "PERSISTKIT_LOG_LEVEL"
)

// Defaults applied to unset values.
const (
	DefaultDriver              = "sqlite3"
	DefaultBatchSize           = 20
	DefaultScrollClearInterval = 10
	DefaultDelimiter           = "|"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
)

// Load reads, validates and defaults the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return Parse(data)
}

// Parse validates raw YAML against the schema and decodes it into a Config.
// Environment overrides are applied before defaults.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	applyEnvRaw(raw)

	if err := validateSchema(raw); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	applyEnv(cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// validateSchema unifies the decoded document with #Config and requires a
// concrete result. All schema violations are reported together.
func validateSchema(raw map[string]any) error {
	cctx := cuecontext.New()
	schema := cctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	doc := cctx.Encode(raw)
	if err := doc.Err(); err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		var msgs []string
		for _, e := range cueerrors.Errors(err) {
			msgs = append(msgs, e.Error())
		}
		return fmt.Errorf("\n  - %s", strings.Join(msgs, "\n  - "))
	}
	return nil
}

// applyEnvRaw mirrors applyEnv on the undecoded document so that a DSN
// supplied only through the environment satisfies the schema.
func applyEnvRaw(raw map[string]any) {
	if raw == nil {
		return
	}
	if dsn := os.Getenv(EnvDatabaseDSN); dsn != "" {
		db, _ := raw["database"].(map[string]any)
		if db == nil {
			db = map[string]any{}
			raw["database"] = db
		}
		db["dsn"] = dsn
	}
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		lg, _ := raw["logging"].(map[string]any)
		if lg == nil {
			lg = map[string]any{}
			raw["logging"] = lg
		}
		lg["level"] = strings.ToLower(lvl)
	}
}

func applyEnv(cfg *Config) {
	if dsn := os.Getenv(EnvDatabaseDSN); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		cfg.Logging.Level = strings.ToLower(lvl)
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDriver
	}
	if c.Batch.Size == 0 {
		c.Batch.Size = DefaultBatchSize
	}
	if c.Batch.ScrollClearInterval == 0 {
		c.Batch.ScrollClearInterval = DefaultScrollClearInterval
	}
	if c.Audit.Delimiter == "" {
		c.Audit.Delimiter = DefaultDelimiter
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	for i := range c.Entities {
		for j := range c.Entities[i].Properties {
			p := &c.Entities[i].Properties[j]
			if p.Column == "" {
				p.Column = p.Name
			}
		}
	}
}

// Validate checks cross-field rules the schema cannot express.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns && c.Database.MaxOpenConns > 0 {
		errs = append(errs, fmt.Sprintf("database.max_idle_conns (%d) must be <= database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns))
	}

	seen := make(map[string]bool)
	for _, e := range c.Entities {
		if seen[e.Name] {
			errs = append(errs, fmt.Sprintf("entity %q declared twice", e.Name))
		}
		seen[e.Name] = true

		hasID := false
		for _, p := range e.Properties {
			if p.Name == e.ID {
				hasID = true
			}
			if p.Kind == "enum" && len(p.Enum) == 0 {
				errs = append(errs, fmt.Sprintf("entity %q property %q: enum kind requires values", e.Name, p.Name))
			}
		}
		if !hasID {
			errs = append(errs, fmt.Sprintf("entity %q: id %q is not a declared property", e.Name, e.ID))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// String returns a safe representation of the config for logging.
// The DSN is masked because it may carry credentials.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Database: {Driver: %q, DSN: [MASKED], MaxOpenConns: %d}, ",
		c.Database.Driver, c.Database.MaxOpenConns))
	b.WriteString(fmt.Sprintf("Batch: {Size: %d, ScrollClearInterval: %d}, ",
		c.Batch.Size, c.Batch.ScrollClearInterval))
	b.WriteString(fmt.Sprintf("Audit: {Enabled: %v, History: %v}, ",
		c.Audit.AuditEnabled(), c.Audit.History))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}, ",
		c.Logging.Level, c.Logging.Format))
	b.WriteString(fmt.Sprintf("Queries: %d, Entities: %d", len(c.Queries), len(c.Entities)))
	b.WriteString("}")
	return b.String()
}
