package location

import (
	"context"
	"sync"
	"time"

	"github.com/hpungsan/mileage/internal/gpx"
	"github.com/hpungsan/mileage/internal/trip"
)

// Replay plays back recorded samples, typically from a GPX file, as if a
// device were reporting them live.
type Replay struct {
	Authorizer

	// Speedup divides the recorded gaps between samples. Zero delivers
	// samples as fast as the subscriber consumes them.
	Speedup float64

	samples []trip.GeoSample
	done    chan struct{}
	once    sync.Once
}

// NewReplay creates a replay over samples in order.
func NewReplay(samples []trip.GeoSample) *Replay {
	return &Replay{samples: samples, done: make(chan struct{})}
}

// NewReplayFromGPX loads a GPX file for replay.
func NewReplayFromGPX(path string) (*Replay, error) {
	doc, err := gpx.ParseFile(path)
	if err != nil {
		return nil, err
	}
	return NewReplay(doc.Samples()), nil
}

// Len returns the number of samples to replay.
func (r *Replay) Len() int {
	return len(r.samples)
}

// Done is closed once every sample has been handed to the subscriber or the
// subscription ended.
func (r *Replay) Done() <-chan struct{} {
	return r.done
}

// CurrentSample returns the first recorded sample.
func (r *Replay) CurrentSample(ctx context.Context) (trip.GeoSample, error) {
	if err := ctx.Err(); err != nil {
		return trip.GeoSample{}, err
	}
	if len(r.samples) == 0 {
		return trip.GeoSample{}, ErrUnavailable
	}
	return r.samples[0], nil
}

// Subscribe streams the samples and closes the channel at the end.
func (r *Replay) Subscribe(ctx context.Context) (<-chan trip.GeoSample, error) {
	ch := make(chan trip.GeoSample)
	go func() {
		defer r.once.Do(func() { close(r.done) })
		defer close(ch)

		for i, s := range r.samples {
			if i > 0 && r.Speedup > 0 {
				gap := s.Timestamp.Sub(r.samples[i-1].Timestamp)
				if gap > 0 {
					timer := time.NewTimer(time.Duration(float64(gap) / r.Speedup))
					select {
					case <-timer.C:
					case <-ctx.Done():
						timer.Stop()
						return
					}
				}
			}
			select {
			case ch <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}
