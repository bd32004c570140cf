package querycache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/smartqueue-portal/internal/observability/metrics"
	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

// FetchFunc loads one view's data.
type FetchFunc func(ctx context.Context) (any, error)

// PollerOptions configures a Poller.
type PollerOptions struct {
	// IdleTimeout stops a poll after its view has not been rendered for
	// this long.
	IdleTimeout  time.Duration
	FetchTimeout time.Duration
	Logger       *logging.Logger
	Metrics      *metrics.PortalMetrics
	Now          func() time.Time
}

type poll struct {
	view     string
	interval time.Duration
	lastSeen time.Time
	cancel   context.CancelFunc
}

// Poller refetches rendered views on a fixed interval and writes the
// results into a Cache.
type Poller struct {
	cache        *Cache
	idle         time.Duration
	fetchTimeout time.Duration
	logger       *logging.Logger
	metrics      *metrics.PortalMetrics
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	polls map[string]*poll
}

func NewPoller(cache *Cache, opts PollerOptions) *Poller {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 2 * time.Minute
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		cache:        cache,
		idle:         opts.IdleTimeout,
		fetchTimeout: opts.FetchTimeout,
		logger:       opts.Logger.Component("poller"),
		metrics:      opts.Metrics,
		now:          opts.Now,
		ctx:          ctx,
		cancel:       cancel,
		polls:        make(map[string]*poll),
	}
}

// Ensure keeps key refreshed every interval while the view keeps being
// rendered. Calling it again for a running key only marks it as seen.
func (p *Poller) Ensure(key, view string, interval time.Duration, fetch FetchFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.polls[key]; ok {
		existing.lastSeen = p.now()
		return
	}
	if p.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(p.ctx)
	pl := &poll{view: view, interval: interval, lastSeen: p.now(), cancel: cancel}
	p.polls[key] = pl

	p.wg.Add(1)
	go p.run(ctx, key, pl, fetch)
}

// Active reports whether key is being polled.
func (p *Poller) Active(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.polls[key]
	return ok
}

// Stop ends the poll for key.
func (p *Poller) Stop(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pl, ok := p.polls[key]; ok {
		pl.cancel()
		delete(p.polls, key)
	}
}

// StopPrefix ends every poll whose key starts with prefix.
func (p *Poller) StopPrefix(prefix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, pl := range p.polls {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			pl.cancel()
			delete(p.polls, key)
		}
	}
}

// Close stops every poll and waits for in-flight fetches.
func (p *Poller) Close() {
	p.cancel()
	p.mu.Lock()
	p.polls = make(map[string]*poll)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Poller) run(ctx context.Context, key string, pl *poll, fetch FetchFunc) {
	defer p.wg.Done()
	ticker := time.NewTicker(pl.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.expired(key, pl) {
				p.logger.Debug("poll idle, stopping", "key", key, "view", pl.view)
				return
			}
			// Each tick fetches on its own goroutine so a slow response
			// never delays the next tick.
			p.wg.Add(1)
			go p.tick(ctx, key, pl, fetch)
		}
	}
}

func (p *Poller) expired(key string, pl *poll) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.now().Sub(pl.lastSeen) <= p.idle {
		return false
	}
	if current, ok := p.polls[key]; ok && current == pl {
		delete(p.polls, key)
	}
	pl.cancel()
	return true
}

func (p *Poller) tick(ctx context.Context, key string, pl *poll, fetch FetchFunc) {
	defer p.wg.Done()
	fetchCtx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	value, err := fetch(fetchCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.metrics.ObservePoll(pl.view, "error")
		if errors.Is(err, qmsapi.ErrSessionExpired) {
			p.logger.Info("session expired, stopping poll", "key", key)
			p.Stop(key)
			return
		}
		p.logger.Warn("poll fetch failed, keeping previous data", "key", key, "error", err)
		return
	}
	p.cache.Set(key, value)
	p.metrics.ObservePoll(pl.view, "ok")
}
