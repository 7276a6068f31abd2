package events

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/buildrunner/internal/logfields"
	"git.home.luguber.info/inful/buildrunner/internal/metrics"
)

// DefaultPublishTimeout bounds a single publication.
const DefaultPublishTimeout = 2 * time.Second

// Delivery is the outcome of one best-effort publication.
type Delivery struct {
	Event    Type
	Err      error
	Duration time.Duration
}

// OK reports whether the transport accepted the event.
func (d Delivery) OK() bool { return d.Err == nil }

// BestEffort swallows and logs publication failures so callers never branch on
// them. Each publication is bounded by a timeout.
type BestEffort struct {
	pub      Publisher
	timeout  time.Duration
	recorder metrics.Recorder
}

// BestEffortOption configures a BestEffort publisher.
type BestEffortOption func(*BestEffort)

// WithTimeout overrides DefaultPublishTimeout.
func WithTimeout(d time.Duration) BestEffortOption {
	return func(b *BestEffort) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithRecorder counts deliveries and failures.
func WithRecorder(r metrics.Recorder) BestEffortOption {
	return func(b *BestEffort) {
		if r != nil {
			b.recorder = r
		}
	}
}

// NewBestEffort wraps pub. A nil pub discards every event.
func NewBestEffort(pub Publisher, opts ...BestEffortOption) *BestEffort {
	if pub == nil {
		pub = Discard
	}
	b := &BestEffort{pub: pub, timeout: DefaultPublishTimeout, recorder: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish hands evt to the transport. It never fails; the returned Delivery
// is informational.
func (b *BestEffort) Publish(ctx context.Context, evt Event) Delivery {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	err := b.pub.Publish(ctx, evt)
	d := Delivery{Event: evt.Type, Err: err, Duration: time.Since(start)}

	b.recorder.IncEventPublished(string(evt.Type), d.OK())
	if err != nil {
		slog.Warn("Failed to publish build event",
			logfields.BuildID(evt.BuildID),
			logfields.Event(string(evt.Type)),
			logfields.Error(err))
	}
	return d
}
