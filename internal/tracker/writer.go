package tracker

import (
	"context"
	"time"

	"github.com/hpungsan/mileage/internal/trip"
)

// snapshotWriter persists one session's snapshot and point log. It runs in
// a single goroutine, so writes to the snapshot slot never overlap.
type snapshotWriter struct {
	m    *Manager
	sess *session

	// persisted counts points already in the point log.
	persisted int

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newSnapshotWriter(m *Manager, sess *session, persisted int) *snapshotWriter {
	return &snapshotWriter{
		m:         m,
		sess:      sess,
		persisted: persisted,
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// trigger schedules a flush. Requests made while one is pending coalesce.
func (w *snapshotWriter) trigger() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *snapshotWriter) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.m.opts.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-w.kick:
			w.flush()
		case <-ticker.C:
			w.flush()
		}
	}
}

// close stops the writer and waits for an in-flight flush to finish.
func (w *snapshotWriter) close() {
	close(w.stop)
	<-w.done
}

// flush appends unpersisted points, then saves the snapshot. On failure the
// cursor is left in place and the next tick retries.
func (w *snapshotWriter) flush() {
	m := w.m

	m.mu.Lock()
	points := m.acc.Since(w.persisted)
	count := w.persisted + len(points)
	distance := m.acc.Distance()
	first, hasFirst := m.acc.First()
	now := m.opts.Now()
	m.mu.Unlock()

	snap := &trip.Snapshot{
		SessionID:         w.sess.id,
		StartedAt:         w.sess.startedAt,
		Mode:              w.sess.mode,
		PointCount:        count,
		DistanceMeters:    distance,
		Purpose:           w.sess.purpose,
		StartLocationName: w.sess.startName,
		StartCoordinate:   w.sess.startCoord,
		LastSavedAt:       now,
	}
	snap.SetDestination(w.sess.destination)
	if hasFirst {
		c := first.Coordinate()
		snap.StartCoordinate = &c
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.WriteTimeout)
	defer cancel()

	if err := m.store.AppendPoints(ctx, w.sess.id, w.persisted, points); err != nil {
		m.log.Printf("snapshot point log write failed for session %s: %v", w.sess.id, err)
		return
	}
	w.persisted = count

	if err := m.store.Save(ctx, snap); err != nil {
		m.log.Printf("snapshot write failed for session %s: %v", w.sess.id, err)
		return
	}

	m.mu.Lock()
	if m.sess == w.sess {
		m.lastSnapshotAt = &now
	}
	m.mu.Unlock()
}
