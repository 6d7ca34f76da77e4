// Package app wires storage, location, tracking, recovery and capture into
// the service shared by the CLI, MCP and web surfaces.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/hpungsan/mileage/internal/capture"
	"github.com/hpungsan/mileage/internal/config"
	"github.com/hpungsan/mileage/internal/db"
	"github.com/hpungsan/mileage/internal/location"
	"github.com/hpungsan/mileage/internal/ops"
	"github.com/hpungsan/mileage/internal/recovery"
	"github.com/hpungsan/mileage/internal/routing"
	"github.com/hpungsan/mileage/internal/tracker"
)

// App is the composed service.
type App struct {
	DB     *sql.DB
	Config *config.Config

	// Feed receives pushed positions when the provider is the default feed.
	// It is nil when Options.Provider overrides it.
	Feed *location.Feed

	Snapshots *db.SnapshotStore
	Tracker   *tracker.Manager
	Recovery  *recovery.Recoverer
	P2P       *capture.PointToPoint
	Route     *capture.RouteBased
}

// Options customize New.
type Options struct {
	// Provider replaces the push feed, e.g. with a GPX replay.
	Provider tracker.LocationProvider

	// Router and Geocoder replace the HTTP clients built from config.
	Router   capture.Router
	Geocoder routing.Geocoder

	// LogOutput receives component logs (default os.Stderr).
	LogOutput io.Writer
}

// BaseDir returns ~/.mileage.
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".mileage"), nil
}

// LoadConfig reads global and project config, then applies baseDir/.env
// and MILEAGE_* overrides.
func LoadConfig(baseDir string) (*config.Config, error) {
	wd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, wd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.LoadEnv(baseDir, cfg); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return cfg, nil
}

// New composes the service over an initialized database.
func New(database *sql.DB, cfg *config.Config, opts Options) *App {
	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger := func(prefix string) *log.Logger {
		return log.New(out, "["+prefix+"] ", log.LstdFlags)
	}

	a := &App{DB: database, Config: cfg, Snapshots: db.NewSnapshotStore(database)}

	provider := opts.Provider
	if provider == nil {
		a.Feed = location.NewFeed()
		provider = a.Feed
	}

	a.Tracker = tracker.New(provider, a.Snapshots, tracker.Options{
		Accumulator:      ops.RouteConfig(cfg),
		SnapshotInterval: cfg.SnapshotInterval(),
		SnapshotEvery:    cfg.SnapshotEveryPoints,
		LocationTimeout:  cfg.LocationTimeout(),
		Logger:           logger("tracker"),
	})

	a.Recovery = recovery.New(a.Snapshots, a.Tracker, ops.Sink{DB: database}, recovery.Options{
		StaleAfter: cfg.StaleAfter(),
		Logger:     logger("recovery"),
	})

	a.P2P = capture.NewPointToPoint(a.Tracker, nil)

	router := opts.Router
	if router == nil && cfg.RoutingURL != "" {
		router = routing.NewOSRM(cfg.RoutingURL, cfg.APIKey, cfg.RoutingTimeout())
	}
	geocoder := opts.Geocoder
	if geocoder == nil && cfg.GeocoderURL != "" {
		geocoder = routing.NewNominatim(cfg.GeocoderURL, cfg.APIKey, cfg.RoutingTimeout())
	}
	resolver := &routing.Resolver{Geocoder: geocoder, Jobs: routing.DBJobs{DB: database}}

	a.Route = capture.NewRouteBased(a.Tracker, router, resolver)
	a.Route.Logger = logger("capture")
	return a
}

// Open initializes the database under baseDir and composes the service.
// The caller closes the returned database via Close.
func Open(baseDir string, cfg *config.Config, opts Options) (*App, error) {
	database, err := db.Init(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	db.ConfigurePool(database, cfg)
	return New(database, cfg, opts), nil
}

// Startup inspects for an interrupted trip. A non-nil inspection means
// new tracking is blocked until Recovery resolves it.
func (a *App) Startup(ctx context.Context) (*recovery.Inspection, error) {
	return a.Recovery.Inspect(ctx)
}

// Close closes the database. An active session is left as a snapshot for
// recovery on the next run.
func (a *App) Close() error {
	return a.DB.Close()
}
