// Package config loads the persistence layer configuration from a YAML file.
//
// The file is validated against an embedded CUE schema before defaults are
// applied, so unknown keys and malformed values fail fast at startup.
package config

// Config holds all persistence layer configuration.
type Config struct {
	Database Database          `yaml:"database"`
	Batch    Batch             `yaml:"batch"`
	Audit    Audit             `yaml:"audit"`
	Logging  Logging           `yaml:"logging"`
	Queries  map[string]string `yaml:"queries"`
	Entities []Entity          `yaml:"entities"`
}

// Database holds the relational engine connection settings.
type Database struct {
	// Driver is the database/sql driver name: sqlite3, sqlite or pgx.
	Driver string `yaml:"driver"`

	// DSN is the driver-specific data source name (required).
	DSN string `yaml:"dsn"`

	// MaxOpenConns caps the pool; 0 leaves the driver default.
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns caps idle connections; 0 leaves the driver default.
	MaxIdleConns int `yaml:"max_idle_conns"`

	// Pragmas are executed once after the context opens (SQLite only).
	Pragmas []string `yaml:"pragmas"`
}

// Batch holds the memory discipline constants for bulk writes and scans.
type Batch struct {
	// Size is the number of entities between flush+clear cycles (default: 20).
	Size int `yaml:"size"`

	// ScrollClearInterval is the number of rows between flush+clear cycles
	// during streaming reads (default: 10).
	ScrollClearInterval int `yaml:"scroll_clear_interval"`
}

// Audit controls the audit interceptor.
type Audit struct {
	// Enabled installs the audit interceptor (default: true).
	Enabled *bool `yaml:"enabled"`

	// History appends to the modification history fields on update.
	History bool `yaml:"history"`

	// Delimiter joins history entries (default: "|").
	Delimiter string `yaml:"delimiter"`
}

// Logging holds logging settings.
type Logging struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `yaml:"level"`

	// Format is the log format: text or json (default: text)
	Format string `yaml:"format"`
}

// Entity declares a dynamic entity mapping for tooling that has no
// compiled-in record types.
type Entity struct {
	Name       string     `yaml:"name"`
	Table      string     `yaml:"table"`
	ID         string     `yaml:"id"`
	Generated  bool       `yaml:"generated"`
	Properties []Property `yaml:"properties"`
}

// Property declares one mapped field of a dynamic entity.
type Property struct {
	Name   string   `yaml:"name"`
	Column string   `yaml:"column"`
	Kind   string   `yaml:"kind"`
	Enum   []string `yaml:"enum"`
}

// AuditEnabled reports whether the audit interceptor should be installed.
func (a Audit) AuditEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

// Entity returns the declared entity with the given name.
func (c *Config) Entity(name string) (Entity, bool) {
	for _, e := range c.Entities {
		if e.Name == name {
			return e, true
		}
	}
	return Entity{}, false
}
