package config

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"github.com/vango-dev/uisync/internal/errors"
	"github.com/vango-dev/uisync/pkg/server"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "uisync.json"

const (
	DefaultAddress = ":8080"
	DefaultPath    = "/json"
	DefaultLevel   = "info"
	DefaultFormat  = "text"
)

// Config is the content of uisync.json.
type Config struct {
	Server      ServerConfig      `json:"server"`
	Session     SessionConfig     `json:"session"`
	HTTPSession HTTPSessionConfig `json:"httpSession"`
	Log         LogConfig         `json:"log"`
	Static      StaticConfig      `json:"static"`
	Metrics     MetricsConfig     `json:"metrics"`
	Tracing     TracingConfig     `json:"tracing"`

	// configPath is the file the config was loaded from.
	configPath string
}

// ServerConfig configures the HTTP endpoints.
type ServerConfig struct {
	Address       string `json:"address,omitempty"`
	Path          string `json:"path,omitempty"`
	WebSocketPath string `json:"websocketPath,omitempty"`
	LogoutPath    string `json:"logoutPath,omitempty"`

	// MaxRequestSize limits one wire request in bytes.
	MaxRequestSize int64 `json:"maxRequestSize,omitempty"`

	ShutdownTimeout string `json:"shutdownTimeout,omitempty"`

	// Compress gzips JSON responses for clients that accept it.
	Compress bool `json:"compress,omitempty"`
}

// SessionConfig configures the UI session directory.
type SessionConfig struct {
	// IdleTimeout disposes sessions without requests for this long.
	// "0" disables idle eviction.
	IdleTimeout   string `json:"idleTimeout,omitempty"`
	SweepInterval string `json:"sweepInterval,omitempty"`

	// MaxSessions limits live sessions. Zero means unlimited.
	MaxSessions int `json:"maxSessions,omitempty"`
}

// HTTPSessionConfig configures the cookie-bound session containers.
type HTTPSessionConfig struct {
	CookieName      string `json:"cookieName,omitempty"`
	CookiePath      string `json:"cookiePath,omitempty"`
	Secure          bool   `json:"secure,omitempty"`
	SameSite        string `json:"sameSite,omitempty"`
	IdleTimeout     string `json:"idleTimeout,omitempty"`
	CleanupInterval string `json:"cleanupInterval,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `json:"level,omitempty"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty"`
}

// StaticConfig configures the static file collaborator serving GET
// requests.
type StaticConfig struct {
	// Dir is served below "/". Empty disables static files.
	Dir string `json:"dir,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled,omitempty"`
	Path      string `json:"path,omitempty"`
	Namespace string `json:"namespace,omitempty"`
}

// TracingConfig enables OpenTelemetry spans around wire requests.
type TracingConfig struct {
	Enabled bool `json:"enabled,omitempty"`
}

// New creates a Config with default values.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads uisync.json from dir.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads the configuration from path. The file may contain
// comments and trailing commas. Syntax errors point at the offending
// position in the file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.New("E100").
				WithDetail("No " + ConfigFileName + " found at " + path + ".").
				WithSuggestion("Run without --config to use the defaults, or create the file.").
				Wrap(err)
		}
		return nil, errors.New("E100").Wrap(err)
	}

	// Comments and trailing commas become whitespace, so offsets in
	// decode errors still point into the original file.
	cfg := &Config{}
	if err := decode(jsonc.ToJSON(data), cfg); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var trailing *trailingDataError
		switch {
		case stderrors.As(err, &syntaxErr):
			return nil, errors.New("E101").WithOffset(path, data, syntaxErr.Offset).Wrap(err)
		case stderrors.As(err, &typeErr):
			return nil, errors.New("E101").WithOffset(path, data, typeErr.Offset).
				WithSuggestion("Field " + typeErr.Field + " must be a " + typeErr.Type.String() + ".").
				Wrap(err)
		case stderrors.As(err, &trailing):
			return nil, errors.New("E101").WithOffset(path, data, trailing.offset).Wrap(err)
		}
		return nil, errors.New("E101").Wrap(err)
	}

	cfg.configPath = path
	cfg.applyDefaults()
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	if dec.More() {
		return &trailingDataError{offset: dec.InputOffset()}
	}
	return nil
}

type trailingDataError struct {
	offset int64
}

func (e *trailingDataError) Error() string {
	return "unexpected data after the top-level object"
}

// Path returns the file the config was loaded from, if any.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.configPath == "" {
		return ""
	}
	return filepath.Dir(c.configPath)
}

// Exists reports whether dir contains a config file.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.Path == "" {
		c.Server.Path = DefaultPath
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "30s"
	}
	if c.Session.IdleTimeout == "" {
		c.Session.IdleTimeout = "30m"
	}
	if c.Session.SweepInterval == "" {
		c.Session.SweepInterval = "1m"
	}
	if c.HTTPSession.SameSite == "" {
		c.HTTPSession.SameSite = "lax"
	}
	if c.HTTPSession.IdleTimeout == "" {
		c.HTTPSession.IdleTimeout = "30m"
	}
	if c.HTTPSession.CleanupInterval == "" {
		c.HTTPSession.CleanupInterval = "1m"
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultFormat
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	for _, d := range c.durations() {
		if _, err := parseDuration(d.name, *d.value); err != nil {
			return err
		}
	}

	paths := map[string]string{"server.path": c.Server.Path}
	if c.Server.WebSocketPath != "" {
		paths["server.websocketPath"] = c.Server.WebSocketPath
	}
	if c.Server.LogoutPath != "" {
		paths["server.logoutPath"] = c.Server.LogoutPath
	}
	if c.Metrics.Enabled {
		paths["metrics.path"] = c.Metrics.Path
	}
	seen := make(map[string]string, len(paths))
	for name, p := range paths {
		if !strings.HasPrefix(p, "/") {
			return errors.New("E103").
				WithDetail(name + " is " + quote(p) + ", paths must start with \"/\".")
		}
		if other, ok := seen[p]; ok {
			return errors.New("E103").
				WithDetail(name + " and " + other + " are both " + quote(p) + ".")
		}
		seen[p] = name
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return errors.New("E104").WithSuggestion(`Set log.format to "text" or "json".`)
	}

	if c.Server.MaxRequestSize < 0 || c.Session.MaxSessions < 0 {
		return errors.New("E106")
	}
	if _, err := parseSameSite(c.HTTPSession.SameSite); err != nil {
		return err
	}

	if c.Static.Dir != "" {
		info, err := os.Stat(c.StaticDir())
		if err != nil || !info.IsDir() {
			return errors.New("E105").
				WithDetail(quote(c.StaticDir()) + " does not exist or is not a directory.")
		}
	}
	return nil
}

// StaticDir returns the static directory, resolved relative to the config
// file.
func (c *Config) StaticDir() string {
	if c.Static.Dir == "" || filepath.IsAbs(c.Static.Dir) {
		return c.Static.Dir
	}
	return filepath.Join(c.Dir(), c.Static.Dir)
}

// Level returns the configured log level.
func (c *Config) Level() (slog.Level, error) {
	return parseLevel(c.Log.Level)
}

// Logger builds the slog logger described by the log section. Its level
// is read from the returned LevelVar, so it can be changed while running.
func (c *Config) Logger(w io.Writer) (*slog.Logger, *slog.LevelVar, error) {
	level, err := c.Level()
	if err != nil {
		return nil, nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(level)
	opts := &slog.HandlerOptions{Level: lv}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), lv, nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), lv, nil
}

// ServerConfig converts the file settings to a server configuration.
// The root factory, static handler, metrics, tracing and logger are left
// for the caller.
func (c *Config) ServerConfig() (*server.ServerConfig, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	// Validate has checked every duration and the SameSite mode.
	d := func(name, v string) time.Duration {
		dur, _ := parseDuration(name, v)
		return dur
	}
	sameSite, _ := parseSameSite(c.HTTPSession.SameSite)

	sc := server.DefaultServerConfig()
	sc.Address = c.Server.Address
	sc.Path = c.Server.Path
	sc.WebSocketPath = c.Server.WebSocketPath
	sc.LogoutPath = c.Server.LogoutPath
	sc.MetricsPath = c.Metrics.Path
	if c.Server.MaxRequestSize > 0 {
		sc.MaxRequestSize = c.Server.MaxRequestSize
	}
	sc.ShutdownTimeout = d("server.shutdownTimeout", c.Server.ShutdownTimeout)
	sc.Compress = c.Server.Compress

	sc.Directory.IdleTimeout = d("session.idleTimeout", c.Session.IdleTimeout)
	sc.Directory.SweepInterval = d("session.sweepInterval", c.Session.SweepInterval)
	sc.Directory.MaxSessions = c.Session.MaxSessions

	if c.HTTPSession.CookieName != "" {
		sc.HTTPSession.CookieName = c.HTTPSession.CookieName
	}
	if c.HTTPSession.CookiePath != "" {
		sc.HTTPSession.CookiePath = c.HTTPSession.CookiePath
	}
	sc.HTTPSession.Secure = c.HTTPSession.Secure
	sc.HTTPSession.SameSite = sameSite
	sc.HTTPSession.IdleTimeout = d("httpSession.idleTimeout", c.HTTPSession.IdleTimeout)
	sc.HTTPSession.CleanupInterval = d("httpSession.cleanupInterval", c.HTTPSession.CleanupInterval)
	return sc, nil
}

type durationField struct {
	name  string
	value *string
}

func (c *Config) durations() []durationField {
	return []durationField{
		{"server.shutdownTimeout", &c.Server.ShutdownTimeout},
		{"session.idleTimeout", &c.Session.IdleTimeout},
		{"session.sweepInterval", &c.Session.SweepInterval},
		{"httpSession.idleTimeout", &c.HTTPSession.IdleTimeout},
		{"httpSession.cleanupInterval", &c.HTTPSession.CleanupInterval},
	}
}

func parseDuration(name, v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.New("E102").
			WithDetail(name + " is " + quote(v) + ".").
			WithSuggestion(`Durations use Go syntax, e.g. "30m" or "90s".`).
			Wrap(err)
	}
	if d < 0 {
		return 0, errors.New("E102").WithDetail(name + " must not be negative.")
	}
	return d, nil
}

func parseLevel(v string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return 0, errors.New("E104").
			WithDetail("log.level is " + quote(v) + ".").
			WithSuggestion(`Set log.level to "debug", "info", "warn" or "error".`)
	}
	return level, nil
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(v) {
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	}
	return 0, errors.New("E107").WithDetail("httpSession.sameSite is " + quote(v) + ".")
}

func quote(s string) string {
	return `"` + s + `"`
}
