package app

import (
	"context"
	"fmt"
	"time"

	"github.com/hpungsan/mileage/internal/capture"
	"github.com/hpungsan/mileage/internal/errors"
	"github.com/hpungsan/mileage/internal/ops"
	"github.com/hpungsan/mileage/internal/recovery"
	"github.com/hpungsan/mileage/internal/tracker"
	"github.com/hpungsan/mileage/internal/trip"
)

// StopTrip stops the active session and saves it as a continuous record.
// The session is already finalized when saving fails; the result is
// returned alongside the error so callers can report what was lost.
func (a *App) StopTrip(ctx context.Context) (*ops.SaveOutput, *trip.Result, error) {
	res, err := a.Tracker.Stop(ctx)
	if err != nil {
		return nil, nil, err
	}
	out, err := ops.Save(ctx, a.DB, trip.FromResult(res))
	if err != nil {
		return nil, res, err
	}
	return out, res, nil
}

// StartTrip begins continuous tracking.
func (a *App) StartTrip(ctx context.Context, in tracker.StartInput) (*tracker.Status, error) {
	return a.Tracker.Start(ctx, in)
}

// ResolveDestination resolves an optional tracking destination. A ref with
// only a name is kept as a label without a coordinate; an empty ref yields
// nil.
func (a *App) ResolveDestination(ctx context.Context, ref capture.DestinationRef) (*trip.Destination, error) {
	if ref.InferSource() == "" {
		if ref.Name == "" {
			return nil, nil
		}
		return &trip.Destination{Name: ref.Name}, nil
	}
	return a.Route.Resolver.Resolve(ctx, ref)
}

// ManualTrip saves a user-entered trip.
func (a *App) ManualTrip(ctx context.Context, in capture.ManualInput) (*ops.SaveOutput, error) {
	rec, err := capture.Manual(in, time.Now())
	if err != nil {
		return nil, err
	}
	return ops.Save(ctx, a.DB, rec)
}

// FinishP2P captures the end position and saves the point-to-point trip.
func (a *App) FinishP2P(ctx context.Context, d capture.Details) (*ops.SaveOutput, error) {
	if _, err := a.P2P.CaptureEnd(ctx); err != nil {
		return nil, err
	}
	rec, err := a.P2P.Record(d)
	if err != nil {
		return nil, err
	}
	return ops.Save(ctx, a.DB, rec)
}

// RouteTrip estimates and saves a route-based trip.
func (a *App) RouteTrip(ctx context.Context, in capture.RouteInput) (*ops.SaveOutput, error) {
	rec, err := a.Route.Capture(ctx, in)
	if err != nil {
		return nil, err
	}
	return ops.Save(ctx, a.DB, rec)
}

// Resolution is a recovery decision.
type Resolution string

const (
	ResolveResume   Resolution = "resume"
	ResolveFinalize Resolution = "finalize"
	ResolveDiscard  Resolution = "discard"
)

// ResolveOutput reports the outcome of a recovery decision.
type ResolveOutput struct {
	Action Resolution      `json:"action"`
	Status *tracker.Status `json:"status,omitempty"`
	Trip   *ops.SaveOutput `json:"trip,omitempty"`
}

// ResolveRecovery applies a decision to the pending interrupted trip.
// A live session is never an interrupted one, so every action is refused
// while tracking.
func (a *App) ResolveRecovery(ctx context.Context, action Resolution) (*ResolveOutput, error) {
	if st := a.Tracker.Status(); st.State == tracker.StateTracking {
		return nil, errors.NewAlreadyTracking(st.SessionID)
	}
	out := &ResolveOutput{Action: action}
	switch action {
	case ResolveResume:
		st, err := a.Recovery.Resume(ctx)
		if err != nil {
			return nil, err
		}
		out.Status = st
	case ResolveFinalize:
		rec, err := a.Recovery.Finalize(ctx)
		if err != nil {
			return nil, err
		}
		out.Trip = saveOutput(rec)
	case ResolveDiscard:
		if err := a.Recovery.Discard(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, invalidResolution(action)
	}
	return out, nil
}

// Inspect reports the pending interrupted trip, if any. While a session is
// tracking, the stored snapshot is that session's own and nothing is pending.
func (a *App) Inspect(ctx context.Context) (*recovery.Inspection, error) {
	if a.Tracker.Status().State == tracker.StateTracking {
		return nil, nil
	}
	return a.Recovery.Inspect(ctx)
}

func saveOutput(rec *trip.Record) *ops.SaveOutput {
	return &ops.SaveOutput{
		ID:                      rec.ID,
		Date:                    rec.Date.Format(ops.DateLayout),
		Mode:                    rec.Mode,
		DistanceMeters:          rec.DistanceMeters,
		EffectiveDistanceMeters: rec.EffectiveDistanceMeters(),
		WasRouteCalculated:      rec.WasRouteCalculated,
		Recovered:               rec.Recovered,
	}
}

func invalidResolution(action Resolution) error {
	return errors.NewInvalidRequest(fmt.Sprintf("unknown recovery action %q (want resume, finalize or discard)", action))
}
