package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables that override endpoint and secret settings.
const (
	EnvRoutingURL  = "MILEAGE_ROUTING_URL"
	EnvGeocoderURL = "MILEAGE_GEOCODER_URL"
	EnvAPIKey      = "MILEAGE_API_KEY"
)

// Config holds application configuration.
type Config struct {
	// MaxAccuracyMeters rejects samples whose horizontal accuracy radius is larger.
	MaxAccuracyMeters float64 `json:"max_accuracy_m"`

	// MaxSpeedMPS rejects samples whose implied speed from the previous
	// accepted sample exceeds this bound (GPS jump rejection).
	MaxSpeedMPS float64 `json:"max_speed_mps"`

	// SnapshotIntervalSec is the wall-clock cadence for snapshot writes while tracking.
	SnapshotIntervalSec int `json:"snapshot_interval_sec"`

	// SnapshotEveryPoints schedules an extra snapshot after this many accepted samples.
	SnapshotEveryPoints int `json:"snapshot_every_points"`

	// StaleAfterHours marks a recovery snapshot as stale in the recovery prompt.
	StaleAfterHours int `json:"stale_after_hours"`

	// LocationTimeoutSec bounds a single location capture.
	LocationTimeoutSec int `json:"location_timeout_sec"`

	// Tier settings for the annual deduction.
	TierLimitKm float64 `json:"tier_limit_km"`
	Tier1Rate   float64 `json:"tier1_rate"`
	Tier2Rate   float64 `json:"tier2_rate"`

	// RoutingURL is the base URL of an OSRM-compatible routing service.
	RoutingURL string `json:"routing_url,omitempty"`

	// GeocoderURL is the base URL of a Nominatim-compatible geocoding service.
	GeocoderURL string `json:"geocoder_url,omitempty"`

	// APIKey is sent to routing and geocoding services when set.
	// Prefer MILEAGE_API_KEY in ~/.mileage/.env over storing it here.
	APIKey string `json:"api_key,omitempty"`

	// RoutingTimeoutSec bounds each routing/geocoding HTTP request.
	RoutingTimeoutSec int `json:"routing_timeout_sec"`

	// WebPort starts the HTTP status server alongside the MCP server when > 0.
	WebPort int `json:"web_port,omitempty"`

	// WebCORSOrigins lists browser origins allowed to call the HTTP API.
	// Empty means same-origin only.
	WebCORSOrigins []string `json:"web_cors_origins,omitempty"`

	// AllowedPaths is an allowlist of directories for export operations.
	// Paths outside ~/.mileage/exports require either being in this list or AllowUnsafePaths=true.
	// Paths should be absolute (relative paths are ignored).
	AllowedPaths []string `json:"allowed_paths,omitempty"`

	// AllowUnsafePaths disables directory restrictions for export.
	AllowUnsafePaths bool `json:"allow_unsafe_paths,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
// Tier defaults are the CRA 2024 automobile allowance rates.
func DefaultConfig() *Config {
	return &Config{
		MaxAccuracyMeters:   50,
		MaxSpeedMPS:         70,
		SnapshotIntervalSec: 30,
		SnapshotEveryPoints: 10,
		StaleAfterHours:     24,
		LocationTimeoutSec:  15,
		TierLimitKm:         5000,
		Tier1Rate:           0.70,
		Tier2Rate:           0.64,
		RoutingURL:          "https://router.project-osrm.org",
		GeocoderURL:         "https://nominatim.openstreetmap.org",
		RoutingTimeoutSec:   10,
	}
}

// SnapshotInterval returns the snapshot cadence as a duration.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.SnapshotIntervalSec) * time.Second
}

// StaleAfter returns the snapshot staleness threshold as a duration.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterHours) * time.Hour
}

// LocationTimeout returns the single-capture timeout as a duration.
func (c *Config) LocationTimeout() time.Duration {
	return time.Duration(c.LocationTimeoutSec) * time.Second
}

// RoutingTimeout returns the HTTP timeout for routing and geocoding.
func (c *Config) RoutingTimeout() time.Duration {
	return time.Duration(c.RoutingTimeoutSec) * time.Second
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.mileage.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.mileage) and project (.mileage) directories.
// Project config is found by walking upward from startDir to find the nearest .mileage/config.json,
// which lets a separate vehicle or business keep its own tier rates.
// Project config takes precedence for scalar values; arrays are merged (deduplicated).
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .mileage/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".mileage", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadEnv loads baseDir/.env (if present) into the process environment and
// applies endpoint and secret overrides to cfg.
// Variables already set in the environment win over the file.
func LoadEnv(baseDir string, cfg *Config) error {
	envPath := filepath.Join(baseDir, ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	ApplyEnv(cfg)
	return nil
}

// ApplyEnv copies MILEAGE_* environment overrides into cfg.
func ApplyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvRoutingURL)); v != "" {
		cfg.RoutingURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvGeocoderURL)); v != "" {
		cfg.GeocoderURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIKey)); v != "" {
		cfg.APIKey = v
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.MaxAccuracyMeters = pickFloat(overlay.MaxAccuracyMeters, base.MaxAccuracyMeters)
	result.MaxSpeedMPS = pickFloat(overlay.MaxSpeedMPS, base.MaxSpeedMPS)
	result.SnapshotIntervalSec = pickInt(overlay.SnapshotIntervalSec, base.SnapshotIntervalSec)
	result.SnapshotEveryPoints = pickInt(overlay.SnapshotEveryPoints, base.SnapshotEveryPoints)
	result.StaleAfterHours = pickInt(overlay.StaleAfterHours, base.StaleAfterHours)
	result.LocationTimeoutSec = pickInt(overlay.LocationTimeoutSec, base.LocationTimeoutSec)
	result.TierLimitKm = pickFloat(overlay.TierLimitKm, base.TierLimitKm)
	result.Tier1Rate = pickFloat(overlay.Tier1Rate, base.Tier1Rate)
	result.Tier2Rate = pickFloat(overlay.Tier2Rate, base.Tier2Rate)
	result.RoutingURL = pickString(overlay.RoutingURL, base.RoutingURL)
	result.GeocoderURL = pickString(overlay.GeocoderURL, base.GeocoderURL)
	result.APIKey = pickString(overlay.APIKey, base.APIKey)
	result.RoutingTimeoutSec = pickInt(overlay.RoutingTimeoutSec, base.RoutingTimeoutSec)
	result.WebPort = pickInt(overlay.WebPort, base.WebPort)
	result.DBMaxOpenConns = pickInt(overlay.DBMaxOpenConns, base.DBMaxOpenConns)
	result.DBMaxIdleConns = pickInt(overlay.DBMaxIdleConns, base.DBMaxIdleConns)

	// Booleans: overlay wins if true, else base
	result.AllowUnsafePaths = base.AllowUnsafePaths || overlay.AllowUnsafePaths

	// Arrays: merge and deduplicate
	result.AllowedPaths = mergeStringSlice(base.AllowedPaths, overlay.AllowedPaths)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.WebCORSOrigins = mergeStringSlice(base.WebCORSOrigins, overlay.WebCORSOrigins)

	return result
}

func pickInt(overlay, base int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickFloat(overlay, base float64) float64 {
	if overlay != 0 {
		return overlay
	}
	return base
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
