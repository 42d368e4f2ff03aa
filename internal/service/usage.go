package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/maildesk/internal/identifier"
	"github.com/nhle/maildesk/internal/store"
)

// flushTimeout is the maximum time allowed for writing one batch.
const flushTimeout = 10 * time.Second

type touch struct {
	token string
	at    time.Time
}

// UsageRecorder writes account last-used times to the store in the
// background so session operations never wait on the database. Touches for
// the same token within one interval are coalesced.
type UsageRecorder struct {
	store    store.Store
	interval time.Duration
	log      *zap.Logger

	touchCh chan touch
	flushCh chan chan struct{}

	mu      sync.Mutex
	running bool

	// stopCh and doneCh belong to the current run. Start replaces them
	// under mu so a stopped recorder can run again.
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewUsageRecorder creates a recorder flushing to s every interval.
func NewUsageRecorder(s store.Store, interval time.Duration, log *zap.Logger) *UsageRecorder {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UsageRecorder{
		store:    s,
		interval: interval,
		log:      log.Named("usage"),
		touchCh:  make(chan touch, 256),
		flushCh:  make(chan chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the background writer. Calling it while running is a
// no-op; a stopped recorder may be started again.
func (r *UsageRecorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.run(r.stopCh, r.doneCh)
}

// Stop writes pending touches and halts the writer.
func (r *UsageRecorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
}

// Touch records that token was used at. It never blocks; when the queue
// is full the touch is dropped.
func (r *UsageRecorder) Touch(token string, at time.Time) {
	select {
	case r.touchCh <- touch{token: token, at: at}:
	default:
		r.log.Debug("usage queue full, dropping touch", zap.String("id", identifier.Short(token)))
	}
}

// Flush writes everything queued so far and returns once it is stored.
func (r *UsageRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	stopped := r.doneCh
	r.mu.Unlock()

	done := make(chan struct{})
	select {
	case r.flushCh <- done:
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *UsageRecorder) run(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	pending := make(map[string]time.Time)

	for {
		select {
		case t := <-r.touchCh:
			if t.at.After(pending[t.token]) {
				pending[t.token] = t.at
			}
		case <-ticker.C:
			r.write(pending)
		case done := <-r.flushCh:
			r.drain(pending)
			r.write(pending)
			close(done)
		case <-stopCh:
			r.drain(pending)
			r.write(pending)
			return
		}
	}
}

// drain moves every queued touch into pending without blocking.
func (r *UsageRecorder) drain(pending map[string]time.Time) {
	for {
		select {
		case t := <-r.touchCh:
			if t.at.After(pending[t.token]) {
				pending[t.token] = t.at
			}
		default:
			return
		}
	}
}

func (r *UsageRecorder) write(pending map[string]time.Time) {
	if len(pending) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for token, at := range pending {
		if err := r.store.TouchAccount(ctx, token, at); err != nil {
			r.log.Warn("recording account use failed",
				zap.String("id", identifier.Short(token)),
				zap.Error(err),
			)
			continue
		}
		delete(pending, token)
	}
}
