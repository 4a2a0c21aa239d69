package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultBaseURL   = "http://localhost:8080"
	DefaultServePort = "8765"
)

type RuntimeConfig struct {
	BaseURL          string
	BaseURLSet       bool // BaseURL came from TEST_URL or the config file
	Headless         bool
	NoSandbox        bool
	ViewportWidth    int
	ViewportHeight   int
	ChromeBinary     string
	ChromeExtraFlags string
	NoAnimations     bool
	StartTimeout     time.Duration
	NavigateTimeout  time.Duration
	ReadyTimeout     time.Duration
	CheckTimeout     time.Duration
	PollInterval     time.Duration
	HoverSettle      time.Duration
	ViewSettle       time.Duration
	ModeSettle       time.Duration
	ServeDir         string
	ServePort        string
	SuitePath        string
	ArtifactDir      string
	ReportPath       string
	HistoryPath      string
	LiveAddr         string
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envDurationOr accepts Go durations ("1500ms") or bare milliseconds ("1500").
func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		return time.Duration(n) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// ParseViewport parses "WIDTHxHEIGHT".
func ParseViewport(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("viewport %q: want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("viewport %q: bad width", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("viewport %q: bad height", s)
	}
	return width, height, nil
}

func homeDir() string {
	h, _ := os.UserHomeDir()
	return h
}

// ServeAddr is the listen address of the fixture asset server.
func (c *RuntimeConfig) ServeAddr() string {
	return "127.0.0.1:" + c.ServePort
}

type FileConfig struct {
	BaseURL     string `json:"baseUrl,omitempty"`
	Headless    *bool  `json:"headless,omitempty"`
	NoSandbox   *bool  `json:"noSandbox,omitempty"`
	Viewport    string `json:"viewport,omitempty"`
	ServeDir    string `json:"serveDir,omitempty"`
	ServePort   string `json:"servePort,omitempty"`
	SuitePath   string `json:"suite,omitempty"`
	ArtifactDir string `json:"artifactDir,omitempty"`
	HistoryPath string `json:"history,omitempty"`
	NavigateSec int    `json:"navigateSec,omitempty"`
	ReadySec    int    `json:"readySec,omitempty"`
	CheckSec    int    `json:"checkSec,omitempty"`
}

func Load() *RuntimeConfig {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("ignoring unreadable .env", "err", err)
	}

	cfg := &RuntimeConfig{
		BaseURL:          envOr("TEST_URL", DefaultBaseURL),
		BaseURLSet:       os.Getenv("TEST_URL") != "",
		Headless:         envBoolOr("MAPCHECK_HEADLESS", true),
		NoSandbox:        envBoolOr("MAPCHECK_NO_SANDBOX", true),
		ViewportWidth:    1280,
		ViewportHeight:   800,
		ChromeBinary:     os.Getenv("CHROME_BINARY"),
		ChromeExtraFlags: os.Getenv("CHROME_FLAGS"),
		NoAnimations:     envBoolOr("MAPCHECK_NO_ANIMATIONS", false),
		StartTimeout:     15 * time.Second,
		NavigateTimeout:  envDurationOr("MAPCHECK_NAV_TIMEOUT", 60*time.Second),
		ReadyTimeout:     envDurationOr("MAPCHECK_READY_TIMEOUT", 30*time.Second),
		CheckTimeout:     envDurationOr("MAPCHECK_CHECK_TIMEOUT", 90*time.Second),
		PollInterval:     envDurationOr("MAPCHECK_POLL_INTERVAL", 100*time.Millisecond),
		HoverSettle:      envDurationOr("MAPCHECK_HOVER_SETTLE", 500*time.Millisecond),
		ViewSettle:       envDurationOr("MAPCHECK_VIEW_SETTLE", 1500*time.Millisecond),
		ModeSettle:       envDurationOr("MAPCHECK_MODE_SETTLE", 2*time.Second),
		ServeDir:         os.Getenv("MAPCHECK_SERVE_DIR"),
		ServePort:        envOr("MAPCHECK_SERVE_PORT", DefaultServePort),
		SuitePath:        os.Getenv("MAPCHECK_SUITE"),
		ArtifactDir:      envOr("MAPCHECK_ARTIFACT_DIR", "."),
		ReportPath:       os.Getenv("MAPCHECK_REPORT"),
		HistoryPath:      os.Getenv("MAPCHECK_HISTORY"),
		LiveAddr:         os.Getenv("MAPCHECK_LIVE_ADDR"),
	}
	if v := os.Getenv("MAPCHECK_VIEWPORT"); v != "" {
		if w, h, err := ParseViewport(v); err == nil {
			cfg.ViewportWidth, cfg.ViewportHeight = w, h
		} else {
			slog.Warn("ignoring MAPCHECK_VIEWPORT", "err", err)
		}
	}

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		return cfg
	}

	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		slog.Warn("ignoring malformed config file", "path", ConfigPath(), "err", err)
		return cfg
	}
	applyFile(cfg, fc)
	return cfg
}

func applyFile(cfg *RuntimeConfig, fc FileConfig) {
	if fc.BaseURL != "" && os.Getenv("TEST_URL") == "" {
		cfg.BaseURL = fc.BaseURL
		cfg.BaseURLSet = true
	}
	if fc.Headless != nil && os.Getenv("MAPCHECK_HEADLESS") == "" {
		cfg.Headless = *fc.Headless
	}
	if fc.NoSandbox != nil && os.Getenv("MAPCHECK_NO_SANDBOX") == "" {
		cfg.NoSandbox = *fc.NoSandbox
	}
	if fc.Viewport != "" && os.Getenv("MAPCHECK_VIEWPORT") == "" {
		if w, h, err := ParseViewport(fc.Viewport); err == nil {
			cfg.ViewportWidth, cfg.ViewportHeight = w, h
		}
	}
	if fc.ServeDir != "" && os.Getenv("MAPCHECK_SERVE_DIR") == "" {
		cfg.ServeDir = fc.ServeDir
	}
	if fc.ServePort != "" && os.Getenv("MAPCHECK_SERVE_PORT") == "" {
		cfg.ServePort = fc.ServePort
	}
	if fc.SuitePath != "" && os.Getenv("MAPCHECK_SUITE") == "" {
		cfg.SuitePath = fc.SuitePath
	}
	if fc.ArtifactDir != "" && os.Getenv("MAPCHECK_ARTIFACT_DIR") == "" {
		cfg.ArtifactDir = fc.ArtifactDir
	}
	if fc.HistoryPath != "" && os.Getenv("MAPCHECK_HISTORY") == "" {
		cfg.HistoryPath = fc.HistoryPath
	}
	if fc.NavigateSec > 0 && os.Getenv("MAPCHECK_NAV_TIMEOUT") == "" {
		cfg.NavigateTimeout = time.Duration(fc.NavigateSec) * time.Second
	}
	if fc.ReadySec > 0 && os.Getenv("MAPCHECK_READY_TIMEOUT") == "" {
		cfg.ReadyTimeout = time.Duration(fc.ReadySec) * time.Second
	}
	if fc.CheckSec > 0 && os.Getenv("MAPCHECK_CHECK_TIMEOUT") == "" {
		cfg.CheckTimeout = time.Duration(fc.CheckSec) * time.Second
	}
}

// ConfigPath is MAPCHECK_CONFIG or ~/.mapcheck/config.json.
func ConfigPath() string {
	return envOr("MAPCHECK_CONFIG", filepath.Join(homeDir(), ".mapcheck", "config.json"))
}

func DefaultFileConfig() FileConfig {
	h := true
	ns := true
	return FileConfig{
		BaseURL:     DefaultBaseURL,
		Headless:    &h,
		NoSandbox:   &ns,
		Viewport:    "1280x800",
		ServePort:   DefaultServePort,
		ArtifactDir: ".",
		NavigateSec: 60,
		ReadySec:    30,
		CheckSec:    90,
	}
}

// WriteDefault writes DefaultFileConfig to path. It refuses to replace an
// existing file unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(DefaultFileConfig(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *RuntimeConfig) Describe(w io.Writer) {
	serve := c.ServeDir
	if serve == "" {
		serve = "(disabled)"
	}
	suite := c.SuitePath
	if suite == "" {
		suite = "(built-in)"
	}
	fmt.Fprintln(w, "Current configuration:")
	fmt.Fprintf(w, "  Base URL:   %s\n", c.BaseURL)
	fmt.Fprintf(w, "  Headless:   %v\n", c.Headless)
	fmt.Fprintf(w, "  No sandbox: %v\n", c.NoSandbox)
	fmt.Fprintf(w, "  Viewport:   %dx%d\n", c.ViewportWidth, c.ViewportHeight)
	fmt.Fprintf(w, "  Serve dir:  %s (port %s)\n", serve, c.ServePort)
	fmt.Fprintf(w, "  Suite:      %s\n", suite)
	fmt.Fprintf(w, "  Artifacts:  %s\n", c.ArtifactDir)
	fmt.Fprintf(w, "  Timeouts:   navigate=%v ready=%v check=%v\n", c.NavigateTimeout, c.ReadyTimeout, c.CheckTimeout)
	fmt.Fprintf(w, "  Settle:     hover=%v view=%v mode=%v poll=%v\n", c.HoverSettle, c.ViewSettle, c.ModeSettle, c.PollInterval)
}
