package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendis/formflow/internal/expressions"
)

// Config holds all formflow configuration.
// Priority: env vars > settings file > defaults.
type Config struct {
	DBPath       string   `json:"db_path" yaml:"db_path"`
	LogLevel     string   `json:"log_level" yaml:"log_level"`
	EvalTimeout  string   `json:"eval_timeout" yaml:"eval_timeout"`
	MaxNodes     int      `json:"max_nodes" yaml:"max_nodes"`
	MaxStrLen    int      `json:"max_string_length" yaml:"max_string_length"`
	BlockedNames []string `json:"blocked_names,omitempty" yaml:"blocked_names,omitempty"`
}

func defaultConfig() Config {
	d := expressions.DefaultConfig()
	return Config{
		DBPath:      filepath.Join(formflowDir(), "formflow.db"),
		LogLevel:    "info",
		EvalTimeout: d.Timeout.String(),
		MaxNodes:    d.MaxNodes,
		MaxStrLen:   d.MaxStringLength,
	}
}

func formflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".formflow"
	}
	return filepath.Join(home, ".formflow")
}

// settingsPaths lists the settings files in lookup order; the first one
// that exists wins.
func settingsPaths(dir string) []string {
	return []string{
		filepath.Join(dir, "settings.yaml"),
		filepath.Join(dir, "settings.yml"),
		filepath.Join(dir, "settings.json"),
	}
}

func loadConfig() Config {
	return loadConfigFrom(formflowDir(), os.Getenv)
}

func loadConfigFrom(dir string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings file (ignore if missing or malformed).
	for _, path := range settingsPaths(dir) {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if strings.HasSuffix(path, ".json") {
			_ = json.Unmarshal(data, &cfg)
		} else {
			_ = yaml.Unmarshal(data, &cfg)
		}
		break
	}

	// Layer 3: env vars override.
	if v := getenv("FORMFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("FORMFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("FORMFLOW_EVAL_TIMEOUT"); v != "" {
		cfg.EvalTimeout = v
	}
	if v := getenv("FORMFLOW_MAX_NODES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxNodes = n
		}
	}
	if v := getenv("FORMFLOW_MAX_STRING_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxStrLen = n
		}
	}
	if v := getenv("FORMFLOW_BLOCKED_NAMES"); v != "" {
		cfg.BlockedNames = splitList(v)
	}
	return cfg
}

// Evaluator returns the expression limits. Configured blocked names extend
// the built-in list; they never replace it.
func (c Config) Evaluator() expressions.Config {
	ec := expressions.DefaultConfig()
	if d, err := time.ParseDuration(c.EvalTimeout); err == nil && d > 0 {
		ec.Timeout = d
	}
	if c.MaxNodes > 0 {
		ec.MaxNodes = c.MaxNodes
	}
	if c.MaxStrLen > 0 {
		ec.MaxStringLength = c.MaxStrLen
	}
	seen := make(map[string]bool, len(ec.BlockedNames))
	for _, n := range ec.BlockedNames {
		seen[n] = true
	}
	for _, n := range c.BlockedNames {
		if !seen[n] {
			ec.BlockedNames = append(ec.BlockedNames, n)
			seen[n] = true
		}
	}
	return ec
}

// dsn turns a plain database path into a libsql file URI.
func (c Config) dsn() string {
	if strings.Contains(c.DBPath, ":") && !filepath.IsAbs(c.DBPath) {
		return c.DBPath
	}
	return "file:" + c.DBPath
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
