// Package config loads the repeater configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/esnunes/repeater/internal/fields"
	"github.com/esnunes/repeater/internal/models"
	"github.com/esnunes/repeater/internal/paths"
)

type Config struct {
	Addr        string              `yaml:"addr"`
	DataDir     string              `yaml:"data_dir"`
	LogLevel    string              `yaml:"log_level"`
	LogFormat   string              `yaml:"log_format"`
	DefaultUser int64               `yaml:"default_user"`
	Users       []User              `yaml:"users"`
	Fields      []Field             `yaml:"fields"`
	Templates   map[string][]string `yaml:"templates"`
}

type User struct {
	ID     int64  `yaml:"id"`
	Name   string `yaml:"name"`
	Editor bool   `yaml:"editor"`
}

type Field struct {
	ID       int64    `yaml:"id"`
	Name     string   `yaml:"name"`
	Label    string   `yaml:"label"`
	Kind     string   `yaml:"kind"`
	Template []string `yaml:"template,omitempty"`
}

// Default returns a working configuration with one page template that
// carries a gallery repeater.
func Default() *Config {
	return &Config{
		Addr:        "127.0.0.1:8080",
		LogLevel:    "info",
		LogFormat:   "text",
		DefaultUser: 1,
		Users: []User{
			{ID: 1, Name: "admin", Editor: true},
		},
		Fields: []Field{
			{ID: 1, Name: "title", Label: "Title", Kind: "text"},
			{ID: 2, Name: "body", Label: "Body", Kind: "textarea"},
			{ID: 3, Name: "caption", Label: "Caption", Kind: "text"},
			{ID: 4, Name: "image_url", Label: "Image URL", Kind: "text"},
			{ID: 5, Name: "featured", Label: "Featured", Kind: "checkbox"},
			{ID: 100, Name: "gallery", Label: "Gallery", Kind: "repeater", Template: []string{"caption", "image_url", "featured"}},
		},
		Templates: map[string][]string{
			"page": {"title", "body", "gallery"},
		},
	}
}

func DefaultPath() (string, error) {
	dir, err := paths.ConfigDir()
	if err != nil {
		return "", fmt.Errorf("getting config directory: %w", err)
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads path over the defaults. A missing file is not an error when
// optional is set.
func Load(path string, optional bool) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) && optional {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (*Config, error) {
	var file Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg := Default()
	cfg.merge(&file)
	if _, err := cfg.Registry(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if _, ok := cfg.level(); !ok {
		return nil, fmt.Errorf("validating config: unknown log_level %q", cfg.LogLevel)
	}
	return cfg, nil
}

// merge overrides c with every key set in f. Lists and maps replace the
// defaults as a whole.
func (c *Config) merge(f *Config) {
	if f.Addr != "" {
		c.Addr = f.Addr
	}
	if f.DataDir != "" {
		c.DataDir = f.DataDir
	}
	if f.LogLevel != "" {
		c.LogLevel = f.LogLevel
	}
	if f.LogFormat != "" {
		c.LogFormat = f.LogFormat
	}
	if f.DefaultUser != 0 {
		c.DefaultUser = f.DefaultUser
	}
	if f.Users != nil {
		c.Users = f.Users
	}
	if f.Fields != nil {
		c.Fields = f.Fields
	}
	if f.Templates != nil {
		c.Templates = f.Templates
	}
}

// Registry validates the field definitions and builds the field registry.
func (c *Config) Registry() (*fields.Registry, error) {
	defs := make([]fields.Field, 0, len(c.Fields))
	for _, f := range c.Fields {
		defs = append(defs, fields.Field{
			ID:       f.ID,
			Name:     f.Name,
			Label:    f.Label,
			Kind:     fields.Kind(f.Kind),
			Template: f.Template,
		})
	}
	return fields.NewRegistry(defs, c.Templates)
}

func (c *Config) ModelUsers() []models.User {
	out := make([]models.User, 0, len(c.Users))
	for _, u := range c.Users {
		out = append(out, models.User{ID: u.ID, Name: u.Name, Editor: u.Editor})
	}
	return out
}

func (c *Config) DBPath() (string, error) {
	if c.DataDir == "" {
		return "", nil
	}
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	return filepath.Join(c.DataDir, "repeater.db"), nil
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func (c *Config) level() (slog.Level, bool) {
	if c.LogLevel == "" {
		return slog.LevelInfo, true
	}
	l, ok := levels[strings.ToLower(c.LogLevel)]
	return l, ok
}

// Logger builds the process logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := c.level()
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Encode writes c as YAML.
func (c *Config) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
