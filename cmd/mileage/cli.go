package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/mileage/internal/app"
	"github.com/hpungsan/mileage/internal/capture"
	"github.com/hpungsan/mileage/internal/config"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/location"
	"github.com/hpungsan/mileage/internal/ops"
	"github.com/hpungsan/mileage/internal/tracker"
	"github.com/hpungsan/mileage/internal/web"
)

// defaultWebPort is used by serve when neither --port nor web_port is set.
const defaultWebPort = 8787

// environment carries what commands need to open the service.
type environment struct {
	baseDir   string
	cfg       *config.Config
	logOutput io.Writer
}

// open composes the service. Commands own the returned app and close it.
func (e *environment) open(opts app.Options) (*app.App, error) {
	if opts.LogOutput == nil {
		opts.LogOutput = e.logOutput
	}
	return app.Open(e.baseDir, e.cfg, opts)
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(env *environment) *cli.App {
	a := &cli.App{
		Name:    "mileage",
		Usage:   "Business mileage log with crash-safe GPS tracking",
		Version: Version,
		Commands: []*cli.Command{
			trackCmd(env),
			recoverCmd(env),
			manualCmd(env),
			p2pCmd(env),
			routeCmd(env),
			listCmd(env),
			fetchCmd(env),
			deleteCmd(env),
			summaryCmd(env),
			exportCmd(env),
			importCmd(env),
			jobCmd(env),
			serveCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	a.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return a
}

// detailFlags are the descriptive fields shared by capture commands.
func detailFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "date", Aliases: []string{"d"}, Usage: "Trip date YYYY-MM-DD (default: today)"},
		&cli.BoolFlag{Name: "round-trip", Aliases: []string{"r"}, Usage: "Count the distance twice"},
		&cli.StringFlag{Name: "start-name", Usage: "Start location label"},
		&cli.StringFlag{Name: "purpose", Aliases: []string{"p"}, Usage: "Business purpose"},
		&cli.StringFlag{Name: "notes", Usage: "Free-form notes (markdown)"},
		&cli.StringFlag{Name: "client", Usage: "Client billed for the trip"},
	}
}

// destinationFlags locate a destination by name, coordinate, address or job.
func destinationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "to", Usage: "Destination coordinate \"lat,lon\""},
		&cli.StringFlag{Name: "dest-name", Usage: "Destination label"},
		&cli.StringFlag{Name: "address", Usage: "Destination street address (geocoded)"},
		&cli.StringFlag{Name: "job", Aliases: []string{"j"}, Usage: "Job ID or name"},
	}
}

func flags(groups ...[]cli.Flag) []cli.Flag {
	var all []cli.Flag
	for _, g := range groups {
		all = append(all, g...)
	}
	return all
}

// trackCmd creates the track command.
func trackCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "track",
		Usage: "Track a trip by replaying a recorded GPX log through the live tracker",
		Flags: flags([]cli.Flag{
			&cli.StringFlag{Name: "gpx", Required: true, Usage: "GPX file to replay"},
			&cli.Float64Flag{Name: "speedup", Usage: "Replay speed multiplier (0 = as fast as possible)"},
			&cli.StringFlag{Name: "purpose", Aliases: []string{"p"}, Usage: "Business purpose"},
			&cli.StringFlag{Name: "start-name", Usage: "Start location label"},
		}, destinationFlags()),
		Action: func(c *cli.Context) error {
			replay, err := location.NewReplayFromGPX(c.String("gpx"))
			if err != nil {
				return outputError(errors.NewInvalidRequest(err.Error()))
			}
			if replay.Len() == 0 {
				return outputError(errors.NewInvalidRequest("GPX file has no timestamped track points"))
			}
			replay.Speedup = c.Float64("speedup")

			a, err := env.open(app.Options{Provider: replay})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer a.Close()

			if _, err := a.Startup(c.Context); err != nil {
				return outputError(err)
			}

			ref, err := destinationRef(c)
			if err != nil {
				return outputError(err)
			}
			dest, err := a.ResolveDestination(c.Context, ref)
			if err != nil {
				return outputError(err)
			}

			if _, err := a.StartTrip(c.Context, tracker.StartInput{
				Purpose:           c.String("purpose"),
				Destination:       dest,
				StartLocationName: c.String("start-name"),
			}); err != nil {
				return outputError(err)
			}

			select {
			case <-replay.Done():
			case <-c.Context.Done():
				// Leave the session persisted; the next run offers recovery.
				st := a.Tracker.Status()
				fmt.Fprintf(c.App.ErrWriter, "session %s left after %d points; run 'mileage recover inspect'\n",
					st.SessionID, st.Points)
				return outputError(errors.NewCancelled("tracking"))
			}

			out, res, err := a.StopTrip(context.WithoutCancel(c.Context))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, map[string]any{
				"trip":         out,
				"points":       len(res.Route),
				"duration_sec": res.Duration.Seconds(),
			})
		},
	}
}

// recoverCmd creates the recover command.
func recoverCmd(env *environment) *cli.Command {
	resolve := func(action app.Resolution, usage string) *cli.Command {
		return &cli.Command{
			Name:  string(action),
			Usage: usage,
			Action: func(c *cli.Context) error {
				a, err := env.open(app.Options{})
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				defer a.Close()

				insp, err := a.Inspect(c.Context)
				if err != nil {
					return outputError(err)
				}
				if insp == nil {
					return outputError(errors.NewNotFound("interrupted trip"))
				}
				out, err := a.ResolveRecovery(c.Context, action)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(c, out)
			},
		}
	}

	return &cli.Command{
		Name:  "recover",
		Usage: "Inspect or resolve a trip interrupted by a crash or restart",
		Subcommands: []*cli.Command{
			{
				Name:  "inspect",
				Usage: "Show the interrupted trip, if any",
				Action: func(c *cli.Context) error {
					a, err := env.open(app.Options{})
					if err != nil {
						return outputError(errors.NewInternal(err))
					}
					defer a.Close()

					insp, err := a.Inspect(c.Context)
					if err != nil {
						return outputError(err)
					}
					if insp == nil {
						return outputJSON(c, map[string]any{"pending": false})
					}
					return outputJSON(c, map[string]any{"pending": true, "inspection": insp})
				},
			},
			resolve(app.ResolveFinalize, "Save the interrupted trip from its logged points"),
			resolve(app.ResolveDiscard, "Drop the interrupted trip"),
		},
	}
}

// manualCmd creates the manual command.
func manualCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "manual",
		Usage: "Record a trip from an entered distance",
		Flags: flags([]cli.Flag{
			&cli.Float64Flag{Name: "km", Required: true, Usage: "One-way distance in kilometers"},
			&cli.StringFlag{Name: "end-name", Usage: "Destination label"},
			&cli.StringFlag{Name: "job", Aliases: []string{"j"}, Usage: "Job ID"},
		}, detailFlags()),
		Action: func(c *cli.Context) error {
			date, err := parseDate(c.String("date"))
			if err != nil {
				return outputError(err)
			}

			a, err := env.open(app.Options{})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer a.Close()

			out, err := a.ManualTrip(c.Context, capture.ManualInput{
				Date:           date,
				DistanceMeters: c.Float64("km") * 1000,
				RoundTrip:      c.Bool("round-trip"),
				StartName:      c.String("start-name"),
				EndName:        c.String("end-name"),
				Purpose:        c.String("purpose"),
				Notes:          c.String("notes"),
				JobID:          c.String("job"),
				ClientName:     c.String("client"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// p2pCmd creates the p2p command.
func p2pCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "p2p",
		Usage: "Record a straight-line trip between two captured positions",
		Flags: flags([]cli.Flag{
			&cli.StringFlag{Name: "from", Required: true, Usage: "Start coordinate \"lat,lon\""},
			&cli.StringFlag{Name: "to", Required: true, Usage: "End coordinate \"lat,lon\""},
			&cli.StringFlag{Name: "end-name", Usage: "Destination label"},
			&cli.StringFlag{Name: "job", Aliases: []string{"j"}, Usage: "Job ID"},
		}, detailFlags()),
		Action: func(c *cli.Context) error {
			from, err := parseCoordinate(c.String("from"))
			if err != nil {
				return outputError(err)
			}
			to, err := parseCoordinate(c.String("to"))
			if err != nil {
				return outputError(err)
			}
			date, err := parseDate(c.String("date"))
			if err != nil {
				return outputError(err)
			}

			a, err := env.open(app.Options{Provider: location.NewSequence(from, to)})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer a.Close()

			if _, err := a.P2P.CaptureStart(c.Context); err != nil {
				return outputError(err)
			}
			out, err := a.FinishP2P(c.Context, capture.Details{
				Date:       date,
				RoundTrip:  c.Bool("round-trip"),
				StartName:  c.String("start-name"),
				EndName:    c.String("end-name"),
				Purpose:    c.String("purpose"),
				Notes:      c.String("notes"),
				JobID:      c.String("job"),
				ClientName: c.String("client"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// routeCmd creates the route command.
func routeCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "route",
		Usage: "Record a trip using the routing service's driving distance",
		Flags: flags([]cli.Flag{
			&cli.StringFlag{Name: "from", Required: true, Usage: "Start coordinate \"lat,lon\""},
		}, destinationFlags(), detailFlags()),
		Action: func(c *cli.Context) error {
			from, err := parseCoordinate(c.String("from"))
			if err != nil {
				return outputError(err)
			}
			ref, err := destinationRef(c)
			if err != nil {
				return outputError(err)
			}
			date, err := parseDate(c.String("date"))
			if err != nil {
				return outputError(err)
			}

			a, err := env.open(app.Options{})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer a.Close()

			out, err := a.RouteTrip(c.Context, capture.RouteInput{
				Destination: ref,
				Start:       &from,
				Date:        date,
				RoundTrip:   c.Bool("round-trip"),
				StartName:   c.String("start-name"),
				Purpose:     c.String("purpose"),
				Notes:       c.String("notes"),
				ClientName:  c.String("client"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// listCmd creates the list command.
func listCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List trips, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "year", Aliases: []string{"y"}, Usage: "Filter by year"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "Filter by tracking mode"},
			&cli.StringFlag{Name: "job", Aliases: []string{"j"}, Usage: "Filter by job ID"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: ops.DefaultListLimit, Usage: "Maximum items to return"},
			&cli.IntFlag{Name: "offset", Aliases: []string{"o"}, Value: 0, Usage: "Items to skip"},
		},
		Action: func(c *cli.Context) error {
			a, err := env.open(app.Options{})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer a.Close()

			out, err := ops.List(c.Context, a.DB, ops.ListInput{
				Year:   c.Int("year"),
				Mode:   c.String("mode"),
				JobID:  c.String("job"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// fetchCmd creates the fetch command.
func fetchCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:      "fetch",
		Usage:     "Fetch a trip by ID",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-route", Usage: "Exclude the route point log"},
		},
		Action: func(c *cli.Context) error {
			input := ops.FetchInput{ID: c.Args().First()}
			if c.Bool("no-route") {
				includeRoute := false
				input.IncludeRoute = &includeRoute
			}

			a, err := env.open(app.Options{})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer a.Close()

			out, err := ops.Fetch(c.Context, a.DB, input)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// deleteCmd creates the delete command.
func deleteCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a trip",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			a, err := env.open(app.Options{})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer a.Close()

			out, err := ops.Delete(c.Context, a.DB, ops.DeleteInput{ID: c.Args().First()})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// summaryCmd creates the summary command.
func summaryCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Show the tiered deduction for a year",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "year", Aliases: []string{"y"}, Usage: "Tax year (default: current year)"},
		},
		Action: func(c *cli.Context) error {
			a, err := env.open(app.Options{})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer a.Close()

			out, err := ops.Summary(c.Context, a.DB, a.Config, ops.SummaryInput{Year: c.Int("year")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// exportCmd creates the export command.
func exportCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export trip geometry to GPX or GeoJSON",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Usage: "Export file path (default: ~/.mileage/exports/trips-<scope>-<timestamp>.<ext>)"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Value: ops.FormatGPX, Usage: "gpx|geojson"},
			&cli.StringFlag{Name: "id", Usage: "Export a single trip"},
			&cli.IntFlag{Name: "year", Aliases: []string{"y"}, Usage: "Export one year"},
		},
		Action: func(c *cli.Context) error {
			a, err := env.open(app.Options{})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer a.Close()

			out, err := ops.Export(c.Context, a.DB, a.Config, ops.ExportInput{
				Path:   c.String("path"),
				Format: c.String("format"),
				ID:     c.String("id"),
				Year:   c.Int("year"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// importCmd creates the import command.
func importCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Save a continuous trip from a GPX track file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Required: true, Usage: "GPX file path"},
			&cli.BoolFlag{Name: "round-trip", Aliases: []string{"r"}, Usage: "Count the distance twice"},
			&cli.StringFlag{Name: "start-name", Usage: "Start location label"},
			&cli.StringFlag{Name: "end-name", Usage: "Destination label (default: track name)"},
			&cli.StringFlag{Name: "purpose", Aliases: []string{"p"}, Usage: "Business purpose"},
			&cli.StringFlag{Name: "notes", Usage: "Free-form notes (markdown)"},
			&cli.StringFlag{Name: "job", Aliases: []string{"j"}, Usage: "Job ID"},
			&cli.StringFlag{Name: "client", Usage: "Client billed for the trip"},
		},
		Action: func(c *cli.Context) error {
			a, err := env.open(app.Options{})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer a.Close()

			out, err := ops.ImportGPX(c.Context, a.DB, a.Config, ops.ImportGPXInput{
				Path:       c.String("path"),
				RoundTrip:  c.Bool("round-trip"),
				StartName:  c.String("start-name"),
				EndName:    c.String("end-name"),
				Purpose:    c.String("purpose"),
				Notes:      c.String("notes"),
				JobID:      c.String("job"),
				ClientName: c.String("client"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// jobCmd creates the job command.
func jobCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "job",
		Usage: "Manage saved job sites",
		Subcommands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Save a job site",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Required: true, Usage: "Job name"},
					&cli.StringFlag{Name: "address", Usage: "Street address"},
					&cli.StringFlag{Name: "at", Usage: "Coordinate \"lat,lon\""},
					&cli.StringFlag{Name: "client", Usage: "Client name"},
				},
				Action: func(c *cli.Context) error {
					input := ops.AddJobInput{
						Name:       c.String("name"),
						Address:    c.String("address"),
						ClientName: c.String("client"),
					}
					if at := c.String("at"); at != "" {
						coord, err := parseCoordinate(at)
						if err != nil {
							return outputError(err)
						}
						input.Lat, input.Lon = &coord.Lat, &coord.Lon
					}

					a, err := env.open(app.Options{})
					if err != nil {
						return outputError(errors.NewInternal(err))
					}
					defer a.Close()

					out, err := ops.AddJob(c.Context, a.DB, input)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:  "list",
				Usage: "List job sites",
				Action: func(c *cli.Context) error {
					a, err := env.open(app.Options{})
					if err != nil {
						return outputError(errors.NewInternal(err))
					}
					defer a.Close()

					out, err := ops.ListJobs(c.Context, a.DB)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *environment) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the web UI and device location API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Usage: "Port (default: web_port from config, else 8787)"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port == 0 {
				port = env.cfg.WebPort
			}
			if port == 0 {
				port = defaultWebPort
			}

			a, err := env.open(app.Options{})
			if err != nil {
				return outputError(errors.NewInternal(err))
			}
			defer a.Close()

			if insp, err := a.Startup(c.Context); err != nil {
				return outputError(err)
			} else if insp != nil {
				fmt.Fprintf(c.App.ErrWriter, "interrupted trip %s pending; run 'mileage recover inspect'\n", insp.Snapshot.SessionID)
			}

			return web.Run(c.Context, web.NewServer(a, Version, c.String("bind"), port))
		},
	}
}

// Helper functions

// outputJSON writes result as indented JSON to the app's writer.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var me *errors.MileageError
	if stderrors.As(err, &me) {
		return cli.Exit(fmt.Sprintf("[%s] %s", me.Code, me.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// parseDate parses an optional YYYY-MM-DD flag.
func parseDate(s string) (time.Time, error) {
	t, err := ops.ParseDate(s)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequest("date must be YYYY-MM-DD")
	}
	return t, nil
}

// parseCoordinate parses "lat,lon".
func parseCoordinate(s string) (geo.Coordinate, error) {
	latStr, lonStr, ok := strings.Cut(s, ",")
	if !ok {
		return geo.Coordinate{}, errors.NewInvalidRequest(fmt.Sprintf("coordinate %q must be \"lat,lon\"", s))
	}
	lat, err1 := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	lon, err2 := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err1 != nil || err2 != nil {
		return geo.Coordinate{}, errors.NewInvalidRequest(fmt.Sprintf("coordinate %q is not numeric", s))
	}
	c := geo.Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() {
		return geo.Coordinate{}, errors.NewInvalidRequest(fmt.Sprintf("coordinate %q out of range", s))
	}
	return c, nil
}

// destinationRef builds a destination reference from destination flags.
func destinationRef(c *cli.Context) (capture.DestinationRef, error) {
	ref := capture.DestinationRef{
		Name:    c.String("dest-name"),
		Address: c.String("address"),
		JobID:   c.String("job"),
	}
	if to := c.String("to"); to != "" {
		coord, err := parseCoordinate(to)
		if err != nil {
			return ref, err
		}
		ref.Coordinate = &coord
	}
	return ref, nil
}
