package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hpungsan/mileage/internal/app"
	"github.com/hpungsan/mileage/internal/capture"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/ops"
	"github.com/hpungsan/mileage/internal/tracker"
	"github.com/hpungsan/mileage/internal/trip"
)

// pushTimeout bounds how long a location post waits for the tracker.
const pushTimeout = 5 * time.Second

// maxPushBody caps a location post body.
const maxPushBody = 4 << 10

var listModes = []trip.TrackingMode{
	trip.ModeContinuous, trip.ModePointToPoint, trip.ModeRouteBased, trip.ModeManual,
}

// Handlers contains HTTP route handlers for the web UI and device API.
type Handlers struct {
	app      *app.App
	renderer *Renderer
}

// HandleList handles GET /trips.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	input := ops.ListInput{
		Year:   parseIntParam(r, "year", 0),
		Mode:   r.URL.Query().Get("mode"),
		JobID:  r.URL.Query().Get("job_id"),
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	}

	result, err := ops.List(r.Context(), h.app.DB, input)
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	h.renderer.renderPage(w, r, "list", ListPageData{
		PageData:   h.renderer.page("Trips", "trips"),
		Items:      result.Items,
		Pagination: result.Pagination,
		Year:       input.Year,
		Mode:       input.Mode,
		Modes:      listModes,
	})
}

// HandleDetail handles GET /trips/{id}.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	out, ok := h.fetch(w, r)
	if !ok {
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, out)
		return
	}

	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData:      h.renderer.page(tripTitle(&out.Record), "trips"),
		Trip:          out,
		RenderedNotes: renderMarkdown(out.Notes),
		HasGeometry:   ops.RecordLine(&out.Record) != nil,
	})
}

// HandleGeoJSON handles GET /trips/{id}/geojson.
func (h *Handlers) HandleGeoJSON(w http.ResponseWriter, r *http.Request) {
	out, ok := h.fetch(w, r)
	if !ok {
		return
	}

	f := ops.RecordFeature(&out.Record)
	if f == nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("trip has no geometry"))
		return
	}
	data, err := f.MarshalJSON()
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HandleDelete handles DELETE /trips/{id}.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := ops.Delete(r.Context(), h.app.DB, ops.DeleteInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	// HTMX request: redirect via HX-Redirect header
	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/trips")
		w.WriteHeader(http.StatusOK)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, result)
		return
	}

	http.Redirect(w, r, "/trips", http.StatusFound)
}

// HandleSummary handles GET /summary and GET /summary/{year}.
func (h *Handlers) HandleSummary(w http.ResponseWriter, r *http.Request) {
	year := 0
	if s := chi.URLParam(r, "year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil {
			h.renderer.renderError(w, r, errors.NewInvalidRequest("year must be a number"))
			return
		}
		year = y
	}

	sum, err := ops.Summary(r.Context(), h.app.DB, h.app.Config, ops.SummaryInput{Year: year})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	if wantsJSON(r) {
		renderJSON(w, http.StatusOK, sum)
		return
	}

	h.renderer.renderPage(w, r, "summary", SummaryPageData{
		PageData: h.renderer.page("Deduction "+strconv.Itoa(sum.Year), "summary"),
		Summary:  sum,
	})
}

// StatusResponse is the device-facing view of the service.
type StatusResponse struct {
	Tracking tracker.Status   `json:"tracking"`
	P2P      capture.P2PState `json:"point_to_point"`
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, StatusResponse{
		Tracking: h.app.Tracker.Status(),
		P2P:      h.app.P2P.State(),
	})
}

// LocationRequest is a position report from a device.
type LocationRequest struct {
	Lat       float64    `json:"lat"`
	Lon       float64    `json:"lon"`
	Accuracy  float64    `json:"accuracy"`
	Altitude  *float64   `json:"altitude,omitempty"`
	Speed     *float64   `json:"speed,omitempty"`
	Course    *float64   `json:"course,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// LocationResponse reports whether the active session took the sample.
type LocationResponse struct {
	Delivered bool          `json:"delivered"`
	State     tracker.State `json:"tracking_state"`
}

// HandlePushLocation handles POST /api/location.
func (h *Handlers) HandlePushLocation(w http.ResponseWriter, r *http.Request) {
	if h.app.Feed == nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("this server does not accept pushed locations"))
		return
	}

	var req LocationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPushBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("invalid location body: "+err.Error()))
		return
	}

	s := trip.GeoSample{
		Lat:      req.Lat,
		Lon:      req.Lon,
		Accuracy: req.Accuracy,
		Altitude: req.Altitude,
		Speed:    req.Speed,
		Course:   req.Course,
	}
	if req.Timestamp != nil {
		s.Timestamp = *req.Timestamp
	}
	if !s.Coordinate().Valid() {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("coordinate out of range"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), pushTimeout)
	defer cancel()
	delivered := h.app.Feed.Push(ctx, s)

	renderJSON(w, http.StatusOK, LocationResponse{
		Delivered: delivered,
		State:     h.app.Tracker.Status().State,
	})
}

// fetch loads the trip named by the {id} route parameter, rendering the
// error itself on failure.
func (h *Handlers) fetch(w http.ResponseWriter, r *http.Request) (*ops.FetchOutput, bool) {
	id := chi.URLParam(r, "id")
	out, err := ops.Fetch(r.Context(), h.app.DB, ops.FetchInput{ID: id})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return nil, false
	}
	return out, true
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// tripTitle labels a trip by destination, else by date.
func tripTitle(rec *trip.Record) string {
	if rec.EndName != "" {
		return rec.EndName
	}
	return "Trip on " + rec.Date.Format(ops.DateLayout)
}
