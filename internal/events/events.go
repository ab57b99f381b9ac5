// Package events publishes circuit breaker state transitions to Redis
// pub/sub so other sidecars or a dashboard can observe breaker activity
// across the mesh without polling. Publishing is best-effort and never
// blocks the breaker's hot transition path: a slow or absent Redis must
// never slow down a transition.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sneha4175/meshtraffic/internal/breaker"
)

const defaultChannel = "meshtraffic:breaker"

// BreakerEvent is the JSON payload published on every transition.
type BreakerEvent struct {
	Resource  string    `json:"resource"`
	Rule      string     `json:"rule"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Timestamp time.Time  `json:"timestamp"`
}

// Publisher adapts a redis.Client to breaker.Observer. A nil *Publisher is
// a valid no-op, so wiring it in is optional.
type Publisher struct {
	client  *redis.Client
	channel string
	log     *zap.SugaredLogger
	queue   chan BreakerEvent
}

// NewPublisher starts a background goroutine that drains a small buffered
// queue and publishes to channel (defaultChannel if empty). The queue
// exists so OnTransition never blocks on a slow Redis; if the queue is
// full, the event is dropped and logged.
func NewPublisher(client *redis.Client, channel string, log *zap.SugaredLogger) *Publisher {
	if channel == "" {
		channel = defaultChannel
	}
	p := &Publisher{client: client, channel: channel, log: log, queue: make(chan BreakerEvent, 256)}
	go p.run()
	return p
}

func (p *Publisher) run() {
	for ev := range p.queue {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil && p.log != nil {
			p.log.Warnw("breaker event publish failed", "channel", p.channel, "err", err)
		}
		cancel()
	}
}

// OnTransition implements breaker.Observer.
func (p *Publisher) OnTransition(resourceKey, ruleName string, from, to breaker.State) {
	if p == nil {
		return
	}
	ev := BreakerEvent{Resource: resourceKey, Rule: ruleName, From: from.String(), To: to.String(), Timestamp: time.Now()}
	select {
	case p.queue <- ev:
	default:
		if p.log != nil {
			p.log.Warnw("breaker event queue full, dropping event", "resource", resourceKey)
		}
	}
}

// OnTriggerFired implements breaker.Observer; trigger fires are not
// broadcast, only committed state transitions.
func (p *Publisher) OnTriggerFired(string, string, string) {}

// Close stops the background publish loop.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	close(p.queue)
}
