package health

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/angeloszaimis/edge-proxy/internal/endpoint"
)

// Target is one endpoint the Prober checks.
type Target struct {
	Key endpoint.Key
	URL *url.URL
}

type probe struct {
	url    string
	cancel context.CancelFunc
}

// Prober periodically checks every target by sending HTTP GET requests to
// its probe URL and reports the outcome to the Manager.
type Prober struct {
	manager  *Manager
	client   *http.Client
	interval time.Duration
	logger   *slog.Logger

	mutex   sync.Mutex
	ctx     context.Context
	targets map[endpoint.Key]Target
	probes  map[endpoint.Key]probe
	wg      sync.WaitGroup
}

func NewProber(manager *Manager, interval, timeout time.Duration, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Prober{
		manager:  manager,
		client:   &http.Client{Timeout: timeout},
		interval: interval,
		logger:   logger,
		targets:  make(map[endpoint.Key]Target),
		probes:   make(map[endpoint.Key]probe),
	}
}

// Update replaces the probed targets. New targets start probing, removed ones
// stop, and targets whose URL changed restart.
func (p *Prober) Update(targets []Target) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	next := make(map[endpoint.Key]Target, len(targets))
	for _, t := range targets {
		next[t.Key] = t
	}

	for key, running := range p.probes {
		t, keep := next[key]
		if !keep || t.URL.String() != running.url {
			running.cancel()
			delete(p.probes, key)
		}
	}

	p.targets = next
	if p.ctx != nil {
		p.startMissing()
	}
}

// Run starts probing and blocks until ctx is done.
func (p *Prober) Run(ctx context.Context) error {
	p.mutex.Lock()
	p.ctx = ctx
	p.startMissing()
	p.mutex.Unlock()

	<-ctx.Done()

	p.mutex.Lock()
	for key, running := range p.probes {
		running.cancel()
		delete(p.probes, key)
	}
	p.ctx = nil
	p.mutex.Unlock()

	p.wg.Wait()
	return nil
}

// startMissing must be called with the mutex held.
func (p *Prober) startMissing() {
	for key, t := range p.targets {
		if _, ok := p.probes[key]; ok {
			continue
		}

		ctx, cancel := context.WithCancel(p.ctx)
		p.probes[key] = probe{url: t.URL.String(), cancel: cancel}

		p.wg.Add(1)
		go func(t Target) {
			defer p.wg.Done()
			p.loop(ctx, t)
		}(t)
	}
}

func (p *Prober) loop(ctx context.Context, t Target) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Check(ctx, t)

		select {
		case <-ctx.Done():
			p.logger.Debug("Health check stopped",
				slog.String("server", t.Key.String()))
			return
		case <-ticker.C:
		}
	}
}

// Check probes t once and reports the outcome. It returns the probe error,
// if any.
func (p *Prober) Check(ctx context.Context, t Target) error {
	err := p.do(ctx, t.URL)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err != nil {
		p.logger.Debug("Health check failed",
			slog.String("server", t.Key.String()),
			slog.String("error", err.Error()))
		p.manager.ReportFailure(t.Key, err)
		return err
	}

	p.manager.ReportSuccess(t.Key)
	return nil
}

func (p *Prober) do(ctx context.Context, u *url.URL) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", u, err)
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 64<<10))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("probe %s: unexpected status %d", u, res.StatusCode)
	}
	return nil
}

// Close releases idle probe connections.
func (p *Prober) Close() {
	p.client.CloseIdleConnections()
}
