package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/mileage/internal/app"
	"github.com/hpungsan/mileage/internal/capture"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/geo"
	"github.com/hpungsan/mileage/internal/ops"
	"github.com/hpungsan/mileage/internal/recovery"
	"github.com/hpungsan/mileage/internal/tracker"
	"github.com/hpungsan/mileage/internal/trip"
)

// pushTimeout bounds how long location_push waits for the tracker to take
// a sample.
const pushTimeout = 5 * time.Second

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	app *app.App
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(a *app.App) *Handlers {
	return &Handlers{app: a}
}

// Request types for each tool

// DestinationArgs locate a trip destination.
type DestinationArgs struct {
	DestinationName    string   `json:"destination_name,omitempty"`
	DestinationLat     *float64 `json:"destination_lat,omitempty"`
	DestinationLon     *float64 `json:"destination_lon,omitempty"`
	DestinationAddress string   `json:"destination_address,omitempty"`
	JobID              string   `json:"job_id,omitempty"`
}

func (d DestinationArgs) ref() (capture.DestinationRef, error) {
	c, err := optionalCoordinate(d.DestinationLat, d.DestinationLon, "destination")
	if err != nil {
		return capture.DestinationRef{}, err
	}
	return capture.DestinationRef{
		Name:       d.DestinationName,
		Coordinate: c,
		Address:    d.DestinationAddress,
		JobID:      d.JobID,
	}, nil
}

// DetailArgs are the descriptive fields shared by capture tools.
type DetailArgs struct {
	Date       string `json:"date,omitempty"`
	RoundTrip  bool   `json:"round_trip,omitempty"`
	StartName  string `json:"start_name,omitempty"`
	Purpose    string `json:"purpose,omitempty"`
	Notes      string `json:"notes,omitempty"`
	ClientName string `json:"client_name,omitempty"`
}

// TripStartRequest represents the arguments for trip_start.
type TripStartRequest struct {
	DestinationArgs
	Purpose   string `json:"purpose,omitempty"`
	StartName string `json:"start_name,omitempty"`
}

// LocationPushRequest represents the arguments for location_push.
type LocationPushRequest struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Accuracy  float64  `json:"accuracy,omitempty"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Course    *float64 `json:"course,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// RecoveryResolveRequest represents the arguments for recovery_resolve.
type RecoveryResolveRequest struct {
	Action string `json:"action"`
}

// TripManualRequest represents the arguments for trip_manual.
type TripManualRequest struct {
	DetailArgs
	DistanceKm float64 `json:"distance_km"`
	EndName    string  `json:"end_name,omitempty"`
	JobID      string  `json:"job_id,omitempty"`
}

// TripP2PFinishRequest represents the arguments for trip_p2p_finish.
type TripP2PFinishRequest struct {
	DetailArgs
	EndName string `json:"end_name,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

// TripRouteRequest represents the arguments for trip_route.
type TripRouteRequest struct {
	DestinationArgs
	DetailArgs
	StartLat *float64 `json:"start_lat,omitempty"`
	StartLon *float64 `json:"start_lon,omitempty"`
}

// TripListRequest represents the arguments for trip_list.
type TripListRequest struct {
	Year   int    `json:"year,omitempty"`
	Mode   string `json:"mode,omitempty"`
	JobID  string `json:"job_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// TripFetchRequest represents the arguments for trip_fetch.
type TripFetchRequest struct {
	ID           string `json:"id"`
	IncludeRoute *bool  `json:"include_route,omitempty"`
}

// TripDeleteRequest represents the arguments for trip_delete.
type TripDeleteRequest struct {
	ID string `json:"id"`
}

// DeductionSummaryRequest represents the arguments for deduction_summary.
type DeductionSummaryRequest struct {
	Year int `json:"year,omitempty"`
}

// TripExportRequest represents the arguments for trip_export.
type TripExportRequest struct {
	Path   string `json:"path,omitempty"`
	Format string `json:"format,omitempty"`
	ID     string `json:"id,omitempty"`
	Year   int    `json:"year,omitempty"`
}

// TripImportGPXRequest represents the arguments for trip_import_gpx.
type TripImportGPXRequest struct {
	Path       string `json:"path"`
	RoundTrip  bool   `json:"round_trip,omitempty"`
	StartName  string `json:"start_name,omitempty"`
	EndName    string `json:"end_name,omitempty"`
	Purpose    string `json:"purpose,omitempty"`
	Notes      string `json:"notes,omitempty"`
	JobID      string `json:"job_id,omitempty"`
	ClientName string `json:"client_name,omitempty"`
}

// JobAddRequest represents the arguments for job_add.
type JobAddRequest struct {
	Name       string   `json:"name"`
	Address    string   `json:"address,omitempty"`
	Lat        *float64 `json:"lat,omitempty"`
	Lon        *float64 `json:"lon,omitempty"`
	ClientName string   `json:"client_name,omitempty"`
}

// Response types

// TripStatusResponse combines tracking and point-to-point state.
type TripStatusResponse struct {
	Tracking tracker.Status   `json:"tracking"`
	P2P      capture.P2PState `json:"point_to_point"`
}

// TripStopResponse is the saved trip plus the session that produced it.
type TripStopResponse struct {
	*ops.SaveOutput
	SessionID   string  `json:"session_id"`
	Points      int     `json:"points"`
	DurationSec float64 `json:"duration_sec"`
}

// RecoveryInspectResponse reports whether an interrupted trip is pending.
type RecoveryInspectResponse struct {
	Pending bool `json:"pending"`
	*recovery.Inspection
}

// LocationPushResponse reports whether the active session took the sample.
// Totals are left to trip_status: the session may not have applied the
// sample yet when Push returns.
type LocationPushResponse struct {
	Delivered bool          `json:"delivered"`
	Tracking  tracker.State `json:"tracking_state"`
}

// Handler implementations

// HandleTripStart handles the trip_start tool call.
func (h *Handlers) HandleTripStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TripStartRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	ref, err := input.ref()
	if err != nil {
		return errorResult(err), nil
	}
	dest, err := h.app.ResolveDestination(ctx, ref)
	if err != nil {
		return errorResult(err), nil
	}

	st, err := h.app.StartTrip(ctx, tracker.StartInput{
		Purpose:           input.Purpose,
		Destination:       dest,
		StartLocationName: input.StartName,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(st)
}

// HandleTripStop handles the trip_stop tool call.
func (h *Handlers) HandleTripStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, res, err := h.app.StopTrip(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(TripStopResponse{
		SaveOutput:  out,
		SessionID:   res.SessionID,
		Points:      len(res.Route),
		DurationSec: res.Duration.Seconds(),
	})
}

// HandleTripDiscard handles the trip_discard tool call.
func (h *Handlers) HandleTripDiscard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := h.app.Tracker.Discard(ctx); err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"discarded": true})
}

// HandleTripStatus handles the trip_status tool call.
func (h *Handlers) HandleTripStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(TripStatusResponse{
		Tracking: h.app.Tracker.Status(),
		P2P:      h.app.P2P.State(),
	})
}

// HandleLocationPush handles the location_push tool call.
func (h *Handlers) HandleLocationPush(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[LocationPushRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	if h.app.Feed == nil {
		return errorResult(errors.NewInvalidRequest("this server does not accept pushed locations")), nil
	}

	s := trip.GeoSample{
		Lat:      input.Lat,
		Lon:      input.Lon,
		Accuracy: input.Accuracy,
		Altitude: input.Altitude,
		Speed:    input.Speed,
		Course:   input.Course,
	}
	if !s.Coordinate().Valid() {
		return errorResult(errors.NewInvalidRequest("coordinate out of range")), nil
	}
	if input.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, input.Timestamp)
		if err != nil {
			return errorResult(errors.NewInvalidRequest("timestamp must be RFC 3339")), nil
		}
		s.Timestamp = ts
	}

	pctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()
	delivered := h.app.Feed.Push(pctx, s)

	return successResult(LocationPushResponse{
		Delivered: delivered,
		Tracking:  h.app.Tracker.State(),
	})
}

// HandleRecoveryInspect handles the recovery_inspect tool call.
func (h *Handlers) HandleRecoveryInspect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	insp, err := h.app.Inspect(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(RecoveryInspectResponse{Pending: insp != nil, Inspection: insp})
}

// HandleRecoveryResolve handles the recovery_resolve tool call.
func (h *Handlers) HandleRecoveryResolve(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RecoveryResolveRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	out, err := h.app.ResolveRecovery(ctx, app.Resolution(input.Action))
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleTripManual handles the trip_manual tool call.
func (h *Handlers) HandleTripManual(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TripManualRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	date, err := parseDate(input.Date)
	if err != nil {
		return errorResult(err), nil
	}

	out, err := h.app.ManualTrip(ctx, capture.ManualInput{
		Date:           date,
		DistanceMeters: input.DistanceKm * 1000,
		RoundTrip:      input.RoundTrip,
		StartName:      input.StartName,
		EndName:        input.EndName,
		Purpose:        input.Purpose,
		Notes:          input.Notes,
		JobID:          input.JobID,
		ClientName:     input.ClientName,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleTripP2PStart handles the trip_p2p_start tool call.
func (h *Handlers) HandleTripP2PStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := h.app.P2P.CaptureStart(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(map[string]any{"start": c})
}

// HandleTripP2PFinish handles the trip_p2p_finish tool call.
func (h *Handlers) HandleTripP2PFinish(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TripP2PFinishRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	date, err := parseDate(input.Date)
	if err != nil {
		return errorResult(err), nil
	}

	out, err := h.app.FinishP2P(ctx, capture.Details{
		Date:       date,
		RoundTrip:  input.RoundTrip,
		StartName:  input.StartName,
		EndName:    input.EndName,
		Purpose:    input.Purpose,
		Notes:      input.Notes,
		JobID:      input.JobID,
		ClientName: input.ClientName,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleTripRoute handles the trip_route tool call.
func (h *Handlers) HandleTripRoute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TripRouteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	ref, err := input.ref()
	if err != nil {
		return errorResult(err), nil
	}
	start, err := optionalCoordinate(input.StartLat, input.StartLon, "start")
	if err != nil {
		return errorResult(err), nil
	}
	date, err := parseDate(input.Date)
	if err != nil {
		return errorResult(err), nil
	}

	out, err := h.app.RouteTrip(ctx, capture.RouteInput{
		Destination: ref,
		Start:       start,
		Date:        date,
		RoundTrip:   input.RoundTrip,
		StartName:   input.StartName,
		Purpose:     input.Purpose,
		Notes:       input.Notes,
		ClientName:  input.ClientName,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleTripList handles the trip_list tool call.
func (h *Handlers) HandleTripList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TripListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	out, err := ops.List(ctx, h.app.DB, ops.ListInput{
		Year:   input.Year,
		Mode:   input.Mode,
		JobID:  input.JobID,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleTripFetch handles the trip_fetch tool call.
func (h *Handlers) HandleTripFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TripFetchRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	out, err := ops.Fetch(ctx, h.app.DB, ops.FetchInput{ID: input.ID, IncludeRoute: input.IncludeRoute})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleTripDelete handles the trip_delete tool call.
func (h *Handlers) HandleTripDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TripDeleteRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	out, err := ops.Delete(ctx, h.app.DB, ops.DeleteInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleDeductionSummary handles the deduction_summary tool call.
func (h *Handlers) HandleDeductionSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[DeductionSummaryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	out, err := ops.Summary(ctx, h.app.DB, h.app.Config, ops.SummaryInput{Year: input.Year})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleTripExport handles the trip_export tool call.
func (h *Handlers) HandleTripExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TripExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	out, err := ops.Export(ctx, h.app.DB, h.app.Config, ops.ExportInput{
		Path:   input.Path,
		Format: input.Format,
		ID:     input.ID,
		Year:   input.Year,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleTripImportGPX handles the trip_import_gpx tool call.
func (h *Handlers) HandleTripImportGPX(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[TripImportGPXRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	out, err := ops.ImportGPX(ctx, h.app.DB, h.app.Config, ops.ImportGPXInput{
		Path:       input.Path,
		RoundTrip:  input.RoundTrip,
		StartName:  input.StartName,
		EndName:    input.EndName,
		Purpose:    input.Purpose,
		Notes:      input.Notes,
		JobID:      input.JobID,
		ClientName: input.ClientName,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleJobAdd handles the job_add tool call.
func (h *Handlers) HandleJobAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[JobAddRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}
	out, err := ops.AddJob(ctx, h.app.DB, ops.AddJobInput{
		Name:       input.Name,
		Address:    input.Address,
		Lat:        input.Lat,
		Lon:        input.Lon,
		ClientName: input.ClientName,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// HandleJobList handles the job_list tool call.
func (h *Handlers) HandleJobList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	out, err := ops.ListJobs(ctx, h.app.DB)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(out)
}

// Argument helpers

func parseDate(s string) (time.Time, error) {
	t, err := ops.ParseDate(s)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequest("date must be YYYY-MM-DD")
	}
	return t, nil
}

func optionalCoordinate(lat, lon *float64, what string) (*geo.Coordinate, error) {
	if lat == nil && lon == nil {
		return nil, nil
	}
	if lat == nil || lon == nil {
		return nil, errors.NewInvalidRequest(what + " latitude and longitude must be given together")
	}
	c := geo.Coordinate{Lat: *lat, Lon: *lon}
	if !c.Valid() {
		return nil, errors.NewInvalidRequest(what + " coordinate out of range")
	}
	return &c, nil
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Internal error details are withheld so paths and SQL never reach the client.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	var me *errors.MileageError
	if stderrors.As(err, &me) {
		errorObj := map[string]any{
			"code":    me.Code,
			"message": me.Message,
			"status":  me.Status,
		}
		if me.Code == errors.ErrInternal {
			errorObj["message"] = "an internal error occurred"
		} else if me.Details != nil {
			errorObj["details"] = me.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
