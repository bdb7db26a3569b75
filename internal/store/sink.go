package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/tapdial-bridge/internal/logic"
)

const (
	writeTimeout = 2 * time.Second

	// touchInterval bounds last_seen writes per device. Dial steps arrive
	// several times a second while turning.
	touchInterval = time.Minute
)

// Writer is the part of DeviceRepository the Recorder needs.
type Writer interface {
	UpdateMetadata(ctx context.Context, deviceID string, field logic.MetadataField, value any, at time.Time) error
	Touch(ctx context.Context, deviceID string, at time.Time) error
}

// Recorder persists metadata updates as they are produced and keeps
// last_seen roughly current. Write failures are logged and dropped.
type Recorder struct {
	repo   Writer
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	touched map[string]time.Time
}

// NewRecorder creates a Recorder. A nil now uses time.Now.
func NewRecorder(repo Writer, logger *slog.Logger, now func() time.Time) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Recorder{
		repo:    repo,
		logger:  logger.With("component", "store"),
		now:     now,
		touched: make(map[string]time.Time),
	}
}

// due reports whether last_seen for deviceID is older than touchInterval.
func (r *Recorder) due(deviceID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.touched[deviceID]
	return !ok || at.Sub(last) >= touchInterval
}

func (r *Recorder) markTouched(deviceID string, at time.Time) {
	r.mu.Lock()
	r.touched[deviceID] = at
	r.mu.Unlock()
}

func (r *Recorder) touch(deviceID string) {
	at := r.now()
	if !r.due(deviceID, at) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.Touch(ctx, deviceID, at); err != nil {
		r.logger.Warn("touch failed", "device", deviceID, "error", err)
		return
	}
	r.markTouched(deviceID, at)
}

func (r *Recorder) OnButtonEvent(deviceID string, _ logic.ButtonEvent)     { r.touch(deviceID) }
func (r *Recorder) OnDialEvent(deviceID string, _ logic.DialEvent)         { r.touch(deviceID) }
func (r *Recorder) OnCombinedEvent(deviceID string, _ logic.CombinedEvent) { r.touch(deviceID) }

// OnMetadataUpdate writes the value and last_seen together.
func (r *Recorder) OnMetadataUpdate(deviceID string, field logic.MetadataField, value any) {
	at := r.now()
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := r.repo.UpdateMetadata(ctx, deviceID, field, value, at); err != nil {
		r.logger.Warn("persist metadata failed", "device", deviceID, "field", field, "error", err)
		return
	}
	r.markTouched(deviceID, at)
}
