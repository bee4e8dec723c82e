package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	envDataDir    = "PANWATCH_DATA_DIR"
	envDBPath     = "PANWATCH_DB_PATH"
	envConfigPath = "PANWATCH_CONFIG"

	envAIBaseURL     = "AI_BASE_URL"
	envAIAPIKey      = "AI_API_KEY"
	envAIModel       = "AI_MODEL"
	envAIMaxAttempts = "AI_MAX_ATTEMPTS"
	envHTTPProxy     = "HTTP_PROXY_URL"

	defaultDBName       = "panwatch.db"
	settingsFileName    = "panwatch.yaml"
	defaultTimezoneName = "Asia/Shanghai"
)

var runtimeDataDir string
var runtimePort = 8000

func IsMacOS() bool {
	return runtime.GOOS == "darwin"
}

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

func SetRuntimeDataDir(dir string) {
	runtimeDataDir = dir
}

func SetRuntimePort(port int) {
	if port > 0 {
		runtimePort = port
	}
}

func GetRuntimePort() int {
	return runtimePort
}

// AI is the fallback AI endpoint used when no model is configured in the
// database, plus the request policy applied to every provider.
type AI struct {
	BaseURL           string `yaml:"base_url"`
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	TimeoutSeconds    int    `yaml:"timeout_seconds"`
	MaxTokens         int    `yaml:"max_tokens"`
	MaxAttempts       int    `yaml:"max_attempts"` // 1 disables retry
	BackoffBaseMs     int    `yaml:"backoff_base_ms"`
	BackoffMaxMs      int    `yaml:"backoff_max_ms"`
	RequestsPerMinute int    `yaml:"requests_per_minute"` // 0 disables limiting
}

type Scheduler struct {
	DrainTimeoutSeconds int `yaml:"drain_timeout_seconds"`
}

type Quotes struct {
	CacheTTLSeconds   int `yaml:"cache_ttl_seconds"`
	FailThreshold     int `yaml:"fail_threshold"`
	FailWindowSeconds int `yaml:"fail_window_seconds"`
	CooldownSeconds   int `yaml:"cooldown_seconds"`
	TimeoutSeconds    int `yaml:"timeout_seconds"`
}

type Notify struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Market lists non-trading dates (YYYY-MM-DD) for one market code.
type Market struct {
	Holidays []string `yaml:"holidays"`
}

// Settings is the process configuration read from panwatch.yaml.
type Settings struct {
	DataDir   string            `yaml:"data_dir"`
	DBName    string            `yaml:"db_name"`
	Timezone  string            `yaml:"timezone"`
	HTTPProxy string            `yaml:"http_proxy"`
	LogLevel  string            `yaml:"log_level"`
	SeedDemo  bool              `yaml:"seed_demo_stocks"`
	AI        AI                `yaml:"ai"`
	Scheduler Scheduler         `yaml:"scheduler"`
	Quotes    Quotes            `yaml:"quotes"`
	Notify    Notify            `yaml:"notify"`
	Markets   map[string]Market `yaml:"markets"`
}

// Load reads settings from path. An empty path resolves PANWATCH_CONFIG and
// then panwatch.yaml in the app config dir; a missing file yields defaults.
// Environment overrides are applied last.
func Load(path string) (Settings, error) {
	var s Settings
	if path == "" {
		path = defaultSettingsPath()
	}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return s, fmt.Errorf("read settings: %w", err)
		default:
			if err := yaml.Unmarshal(b, &s); err != nil {
				return s, fmt.Errorf("parse settings %s: %w", path, err)
			}
		}
	}
	applyEnv(&s)
	applyDefaults(&s)
	if _, err := s.Location(); err != nil {
		return s, err
	}
	return s, nil
}

func defaultSettingsPath() string {
	if p := os.Getenv(envConfigPath); p != "" {
		return p
	}
	dir, err := appConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, settingsFileName)
}

func applyEnv(s *Settings) {
	if v := strings.TrimSpace(os.Getenv(envAIBaseURL)); v != "" {
		s.AI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(envAIAPIKey)); v != "" {
		s.AI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(envAIModel)); v != "" {
		s.AI.Model = v
	}
	if v := strings.TrimSpace(os.Getenv(envHTTPProxy)); v != "" {
		s.HTTPProxy = v
	}
	if v := strings.TrimSpace(os.Getenv(envAIMaxAttempts)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			s.AI.MaxAttempts = n
		}
	}
}

func applyDefaults(s *Settings) {
	if s.DBName == "" {
		s.DBName = defaultDBName
	}
	if s.Timezone == "" {
		s.Timezone = defaultTimezoneName
	}
	if s.AI.BaseURL == "" {
		s.AI.BaseURL = "https://api.openai.com/v1"
	}
	if s.AI.Model == "" {
		s.AI.Model = "gpt-4o-mini"
	}
	if s.AI.TimeoutSeconds == 0 {
		s.AI.TimeoutSeconds = 120
	}
	if s.AI.MaxTokens == 0 {
		s.AI.MaxTokens = 4096
	}
	if s.AI.MaxAttempts <= 0 {
		s.AI.MaxAttempts = 1
	}
	if s.AI.BackoffBaseMs == 0 {
		s.AI.BackoffBaseMs = 500
	}
	if s.AI.BackoffMaxMs == 0 {
		s.AI.BackoffMaxMs = 8000
	}
	if s.Scheduler.DrainTimeoutSeconds == 0 {
		s.Scheduler.DrainTimeoutSeconds = 30
	}
	if s.Quotes.CacheTTLSeconds == 0 {
		s.Quotes.CacheTTLSeconds = 30
	}
	if s.Quotes.FailThreshold == 0 {
		s.Quotes.FailThreshold = 3
	}
	if s.Quotes.FailWindowSeconds == 0 {
		s.Quotes.FailWindowSeconds = 60
	}
	if s.Quotes.CooldownSeconds == 0 {
		s.Quotes.CooldownSeconds = 120
	}
	if s.Quotes.TimeoutSeconds == 0 {
		s.Quotes.TimeoutSeconds = 10
	}
	if s.Notify.TimeoutSeconds == 0 {
		s.Notify.TimeoutSeconds = 15
	}
}

// Location resolves the configured timezone.
func (s Settings) Location() (*time.Location, error) {
	name := s.Timezone
	if name == "" {
		name = defaultTimezoneName
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// DrainTimeout bounds how long shutdown waits for in-flight runs.
func (s Settings) DrainTimeout() time.Duration {
	return time.Duration(s.Scheduler.DrainTimeoutSeconds) * time.Second
}

// Holidays returns the configured non-trading dates per market code.
func (s Settings) Holidays() map[string][]string {
	out := make(map[string][]string, len(s.Markets))
	for code, m := range s.Markets {
		out[strings.ToUpper(code)] = m.Holidays
	}
	return out
}

func userHomeDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

func appConfigDir() (string, error) {
	if IsMacOS() {
		home, err := userHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Application Support", "PanWatch"), nil
	}
	if IsWindows() {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := userHomeDir()
			if err != nil {
				return "", err
			}
			appData = home
		}
		return filepath.Join(appData, "PanWatch"), nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		home, err := userHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, ".config", "panwatch"), nil
	}
	return filepath.Join(configDir, "panwatch"), nil
}

// GetDataDir resolves the data directory: flag, then PANWATCH_DATA_DIR, then
// settings, then the OS config dir. The directory is created if missing.
func GetDataDir(s Settings) (string, error) {
	dir := runtimeDataDir
	if dir == "" {
		dir = os.Getenv(envDataDir)
	}
	if dir == "" {
		dir = s.DataDir
	}
	if dir == "" {
		d, err := appConfigDir()
		if err != nil {
			return "", err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// GetDBPath resolves the SQLite database path.
func GetDBPath(s Settings) (string, error) {
	if envPath := os.Getenv(envDBPath); envPath != "" {
		return envPath, nil
	}
	dataDir, err := GetDataDir(s)
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(s.DBName)
	if name == "" {
		name = defaultDBName
	}
	return filepath.Join(dataDir, name), nil
}
