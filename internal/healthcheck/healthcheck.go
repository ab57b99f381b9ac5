// Package healthcheck provides active health-checking of instances
// registered for routing. It periodically probes each instance's health
// endpoint and reports the outcome to the breaker registry as an ordinary
// ResourceStat sample — an instance that fails enough health probes trips
// the same circuit breaker a run of failed RPCs would.
package healthcheck

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sneha4175/meshtraffic/internal/breaker"
	"github.com/sneha4175/meshtraffic/internal/registry"
	"github.com/sneha4175/meshtraffic/internal/resource"
	"github.com/sneha4175/meshtraffic/internal/router"
)

const (
	defaultCheckInterval = 10 * time.Second
	defaultTimeout        = 3 * time.Second
)

// target is the most recently registered instance list for one resource.
type target struct {
	res       resource.Resource
	instances []router.Instance
}

// Checker continuously polls registered instances and reports their health
// to a Registry. A Checker with no registered targets is idle.
type Checker struct {
	reg *registry.Registry

	mu      sync.Mutex
	targets map[string]target

	client   *http.Client
	interval time.Duration
	path     string
	log      *zap.SugaredLogger
	cancel   context.CancelFunc
}

// New creates and immediately starts a Checker that reports to reg.
func New(reg *registry.Registry, path string, log *zap.SugaredLogger) *Checker {
	if path == "" {
		path = "/health"
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Checker{
		reg:     reg,
		targets: make(map[string]target),
		client: &http.Client{
			Timeout: defaultTimeout,
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		interval: defaultCheckInterval,
		path:     path,
		log:      log,
		cancel:   cancel,
	}
	go c.run(ctx)
	return c
}

// Update replaces the instance list polled on behalf of res.
func (c *Checker) Update(res resource.Resource, instances []router.Instance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[res.Key()] = target{res: res, instances: instances}
}

// Stop cancels the background polling loop.
func (c *Checker) Stop() { c.cancel() }

func (c *Checker) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.checkAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkAll(ctx)
		}
	}
}

func (c *Checker) checkAll(ctx context.Context) {
	c.mu.Lock()
	snapshot := make([]target, 0, len(c.targets))
	for _, t := range c.targets {
		snapshot = append(snapshot, t)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, t := range snapshot {
		for _, inst := range t.instances {
			wg.Add(1)
			go func(res resource.Resource, inst router.Instance) {
				defer wg.Done()
				c.checkOne(ctx, res, inst)
			}(t.res, inst)
		}
	}
	wg.Wait()
}

func (c *Checker) checkOne(ctx context.Context, res resource.Resource, inst router.Instance) {
	url := fmt.Sprintf("http://%s:%d%s", inst.Host, inst.Port, c.path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.report(res, false)
		return
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if c.log != nil {
			c.log.Warnw("instance health probe failed", "url", url, "err", err)
		}
		c.report(res, false)
		return
	}
	resp.Body.Close()

	alive := resp.StatusCode < 500
	c.report(res, alive)
}

func (c *Checker) report(res resource.Resource, alive bool) {
	status := breaker.Fail
	if alive {
		status = breaker.Success
	}
	c.reg.Report(res, breaker.ResourceStat{ReturnStatus: status, Timestamp: time.Now()})
}
