// Package config loads listbridge configuration from YAML, validated and
// defaulted by an embedded CUE schema.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Error codes.
const (
	ErrCodeRead   = "C001" // config file unreadable
	ErrCodeParse  = "C002" // YAML syntax error
	ErrCodeSchema = "C003" // value rejected by the schema
	ErrCodeValue  = "C004" // value accepted by the schema but unusable
)

// Error is a configuration error with an optional source position.
type Error struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Config is the resolved configuration of a listbridge server.
type Config struct {
	Listen      string `json:"listen" yaml:"listen"`
	WSPath      string `json:"wsPath" yaml:"wsPath"`
	Database    string `json:"database" yaml:"database"`
	LogLevel    string `json:"logLevel" yaml:"logLevel"`
	LogFormat   string `json:"logFormat" yaml:"logFormat"`
	MetricsPath string `json:"metricsPath" yaml:"metricsPath"`
	Locale      string `json:"locale" yaml:"locale"`

	RawNamespaces []string `json:"rawNamespaces" yaml:"rawNamespaces"`

	RawFlushDelay string        `json:"flushDelay" yaml:"flushDelay"`
	FlushDelay    time.Duration `json:"-" yaml:"-"`
}

// Default returns the configuration with every field at its default.
func Default() *Config {
	cfg, err := decode(map[string]any{}, "")
	if err != nil {
		// The embedded schema is known to produce a valid default.
		panic(err)
	}
	return cfg
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Code: ErrCodeRead, Message: err.Error()}
	}
	return Parse(data, path)
}

// Parse validates YAML data. filename is only used in error messages.
func Parse(data []byte, filename string) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &Error{Code: ErrCodeParse, Message: fmt.Sprintf("%s: %v", filename, err)}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return decode(raw, filename)
}

func decode(raw map[string]any, filename string) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue")).LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}

	v := schema.Unify(ctx.Encode(raw))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, schemaError(err, filename)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, schemaError(err, filename)
	}

	d, err := time.ParseDuration(cfg.RawFlushDelay)
	if err != nil {
		return nil, &Error{Code: ErrCodeValue, Message: fmt.Sprintf("flushDelay: %v", err)}
	}
	cfg.FlushDelay = d

	if _, err := language.Parse(cfg.Locale); err != nil {
		return nil, &Error{Code: ErrCodeValue, Message: fmt.Sprintf("locale: %v", err)}
	}
	return &cfg, nil
}

// schemaError reports the first CUE error with its position.
func schemaError(err error, filename string) *Error {
	list := errors.Errors(err)
	if len(list) == 0 {
		return &Error{Code: ErrCodeSchema, Message: err.Error()}
	}
	first := list[0]
	msg := first.Error()
	if filename != "" {
		msg = filename + ": " + msg
	}
	return &Error{Code: ErrCodeSchema, Message: msg}
}

// SlogLevel returns LogLevel as an slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Language returns the collation locale.
func (c *Config) Language() language.Tag {
	return language.Make(c.Locale)
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
