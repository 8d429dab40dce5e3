package audit

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/elevate/internal/infrastructure/logging"
	"github.com/nerrad567/elevate/internal/session"
)

// DefaultQueueSize is the Recorder buffer used when none is given.
// Entries beyond it are dropped rather than applying back-pressure.
const DefaultQueueSize = 256

// shutdownDrainTimeout bounds each write while draining after Run stops.
const shutdownDrainTimeout = 5 * time.Second

// Entity types.
const (
	EntitySession    = "session"
	EntityUser       = "user"
	EntityCredential = "credential"
)

// ErrQueueFull is returned by Notify when an entry had to be dropped.
var ErrQueueFull = errors.New("audit queue full")

// Recorder writes audit entries asynchronously.
type Recorder struct {
	repo   Repository
	ch     chan *Entry
	logger *logging.Logger
}

// NewRecorder creates a Recorder. Call Run to start writing.
func NewRecorder(repo Repository, queueSize int, logger *logging.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Recorder{
		repo:   repo,
		ch:     make(chan *Entry, queueSize),
		logger: logger.Component("audit"),
	}
}

// Record enqueues entry. Returns false if the queue was full and the
// entry was dropped.
func (r *Recorder) Record(entry *Entry) bool {
	if entry.Source == "" {
		entry.Source = "api"
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case r.ch <- entry:
		return true
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"action", entry.Action,
			"entity_type", entry.EntityType,
		)
		return false
	}
}

// Notify records a session event as action "session.<type>".
func (r *Recorder) Notify(_ context.Context, ev session.Event) error {
	details := map[string]any{}
	if ev.PeerDeviceID != "" {
		details["peer_device_id"] = ev.PeerDeviceID
	}
	if !ev.EndTime.IsZero() {
		details["end_time"] = ev.EndTime.UnixMilli()
	}

	ok := r.Record(&Entry{
		Action:     "session." + string(ev.Type),
		EntityType: EntitySession,
		EntityID:   ev.Identity,
		DeviceID:   ev.DeviceID,
		Source:     "session",
		Details:    details,
		CreatedAt:  ev.At,
	})
	if !ok {
		return ErrQueueFull
	}
	return nil
}

// Run writes queued entries serially until ctx is cancelled, then drains
// whatever is still buffered.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case entry := <-r.ch:
			r.write(context.WithoutCancel(ctx), entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.ch:
					drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownDrainTimeout)
					r.write(drainCtx, entry)
					cancel()
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(ctx context.Context, entry *Entry) {
	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("audit log write failed",
			"action", entry.Action,
			"entity_type", entry.EntityType,
			"error", err,
		)
	}
}
