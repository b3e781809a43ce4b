// Package progress delivers run progress without ever blocking the caller.
package progress

import (
	"sync"

	"github.com/SystemsGenetics/ACE-sub002/pkg/metrics"
	"go.uber.org/zap"
)

// Update is one progress report.
type Update struct {
	Analytic string
	Done     int
	Total    int
	Message  string
}

// Percent returns completion in [0, 100].
func (u Update) Percent() float64 {
	if u.Total <= 0 {
		return 100
	}
	p := float64(u.Done) * 100 / float64(u.Total)
	if p > 100 {
		p = 100
	}
	return p
}

// Handler receives updates on the reporter goroutine.
type Handler func(Update)

// Reporter forwards updates to a background goroutine through a single
// slot. A pending update is replaced by a newer one, so Report never
// blocks.
type Reporter struct {
	mu      sync.RWMutex
	closed  bool
	ch      chan Update
	done    chan struct{}
	log     *zap.Logger
	handler Handler
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithHandler adds a handler called for every delivered update.
func WithHandler(h Handler) Option {
	return func(r *Reporter) { r.handler = h }
}

// NewReporter starts the reporter goroutine.
func NewReporter(log *zap.Logger, opts ...Option) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Reporter{
		ch:   make(chan Update, 1),
		done: make(chan struct{}),
		log:  log,
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

func (r *Reporter) loop() {
	defer close(r.done)
	for u := range r.ch {
		metrics.ProgressPercent.WithLabelValues(u.Analytic).Set(u.Percent())
		r.log.Info("progress",
			zap.String("analytic", u.Analytic),
			zap.Int("done", u.Done),
			zap.Int("total", u.Total),
			zap.Float64("percent", u.Percent()),
			zap.String("message", u.Message))
		if r.handler != nil {
			r.handler(u)
		}
	}
}

// Report queues u, replacing any update not yet delivered. It is safe to
// call from any goroutine and after Close, where it does nothing. A nil
// Reporter discards updates.
func (r *Reporter) Report(u Update) {
	if r == nil {
		return
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	for {
		select {
		case r.ch <- u:
			return
		default:
		}
		select {
		case <-r.ch:
		default:
		}
	}
}

// Close stops accepting updates and waits until the pending one has been
// delivered.
func (r *Reporter) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	<-r.done
}
