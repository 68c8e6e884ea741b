package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recorder counts relay outcomes. Outcome is one of "ok", "error" or "dropped".
type Recorder interface {
	Forwarded(outcome string)
}

// Options configures a Relay.
type Options struct {
	URL       string
	HTTPProxy string
	Timeout   time.Duration
	QueueSize int
	Workers   int
}

// Relay posts accepted telemetry payloads to a downstream collector on a
// fixed pool of workers. Delivery is best effort: payloads that do not fit
// the queue are dropped and failures are only logged.
type Relay struct {
	url      string
	client   *http.Client
	timeout  time.Duration
	workers  int
	jobs     chan []byte
	log      *zap.Logger
	recorder Recorder
	wg       sync.WaitGroup
}

// New creates a relay. It returns nil when no URL is configured; a nil
// *Relay accepts and discards everything.
func New(opts Options, log *zap.Logger, recorder Recorder) *Relay {
	if opts.URL == "" {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("forward")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.HTTPProxy != "" {
		proxyURL, err := url.Parse(opts.HTTPProxy)
		if err != nil {
			log.Warn("invalid proxy url, forwarding without proxy",
				zap.String("proxy", opts.HTTPProxy), zap.Error(err))
		} else {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}

	return &Relay{
		url:      opts.URL,
		client:   &http.Client{Transport: transport, Timeout: opts.Timeout},
		timeout:  opts.Timeout,
		workers:  opts.Workers,
		jobs:     make(chan []byte, opts.QueueSize),
		log:      log,
		recorder: recorder,
	}
}

// Start launches the workers. They exit when ctx is cancelled.
func (r *Relay) Start(ctx context.Context) {
	if r == nil {
		return
	}
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx, i)
	}
}

// Wait blocks until every worker has returned.
func (r *Relay) Wait() {
	if r == nil {
		return
	}
	r.wg.Wait()
}

// Enqueue hands a payload to the workers without blocking. It reports
// false when the payload was dropped because the queue is full.
func (r *Relay) Enqueue(payload []byte) bool {
	if r == nil {
		return true
	}
	select {
	case r.jobs <- payload:
		return true
	default:
		r.record("dropped")
		return false
	}
}

func (r *Relay) worker(ctx context.Context, id int) {
	defer r.wg.Done()
	r.log.Debug("forward worker started", zap.Int("worker", id))
	for {
		select {
		case payload := <-r.jobs:
			if err := r.send(ctx, payload); err != nil {
				r.log.Warn("telemetry forward failed", zap.Int("worker", id), zap.Error(err))
				r.record("error")
				continue
			}
			r.record("ok")
		case <-ctx.Done():
			r.log.Debug("forward worker shutting down", zap.Int("worker", id))
			return
		}
	}
}

func (r *Relay) send(ctx context.Context, payload []byte) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post telemetry: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("downstream returned status %d", resp.StatusCode)
	}
	return nil
}

func (r *Relay) record(outcome string) {
	if r.recorder != nil {
		r.recorder.Forwarded(outcome)
	}
}
