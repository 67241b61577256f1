// Package redis mirrors applied ticks into Redis so dashboards and other
// processes can follow live quotes without holding a feed subscription:
// each update is SET as the latest quote, appended to a capped stream,
// and published on a per-key channel.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"finverse/internal/session"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// Stream trimming: roughly one trading day of second-level updates.
	streamMaxLen   = 25000
	latestTTL      = 30 * time.Minute
	pendingMaxSize = 10000
)

// Config configures the publisher's Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// quotePayload is the JSON body written for every applied tick.
type quotePayload struct {
	Key       string          `json:"key"`
	Symbol    string          `json:"symbol"`
	LTP       float64         `json:"ltp"`
	NetChange float64         `json:"netChange"`
	TS        int64           `json:"ts"`
	Candle    json.RawMessage `json:"candle,omitempty"`
}

// Publisher writes session updates to Redis behind a circuit breaker.
// While the breaker is open, updates are buffered locally and replayed
// once Redis answers again.
type Publisher struct {
	client  *goredis.Client
	breaker *Breaker

	mu      sync.Mutex
	pending []pendingPublish

	// Metrics hooks, optional.
	OnPublish      func(err error)
	OnBuffered     func()
	OnBreakerShift func(from, to BreakerState)
}

type pendingPublish struct {
	key  string
	data string
}

// New connects and pings Redis.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := &Publisher{
		client:  client,
		breaker: NewBreaker(5, 10*time.Second),
	}
	p.breaker.OnStateChange = func(from, to BreakerState) {
		log.Printf("[redis] breaker %s -> %s", from, to)
		if to == BreakerClosed {
			go p.flush(context.Background())
		}
		if p.OnBreakerShift != nil {
			p.OnBreakerShift(from, to)
		}
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return p, nil
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Breaker returns the publish-path breaker for metrics wiring.
func (p *Publisher) Breaker() *Breaker { return p.breaker }

// Run consumes session updates until ctx is cancelled or the channel
// closes.
func (p *Publisher) Run(ctx context.Context, updates <-chan session.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			p.publish(ctx, u)
		}
	}
}

// PendingCount returns the number of updates buffered while the breaker
// was open.
func (p *Publisher) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

func (p *Publisher) publish(ctx context.Context, u session.Update) {
	payload := quotePayload{
		Key:       u.Key,
		Symbol:    u.Quote.Symbol,
		LTP:       u.Quote.LastPrice,
		NetChange: u.Quote.NetChange,
		TS:        u.Tick.TS.UnixMilli(),
	}
	if !u.Candle.TS.IsZero() {
		payload.Candle = u.Candle.JSON()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	data := string(body)

	err = p.breaker.Do(func() error {
		return p.write(ctx, u.Key, data)
	})
	if err == ErrBreakerOpen {
		p.buffer(u.Key, data)
		return
	}
	if p.OnPublish != nil {
		p.OnPublish(err)
	}
	if err != nil {
		log.Printf("[redis] publish %s failed: %v", u.Key, err)
	}
}

// write performs the pipelined SET + XADD + PUBLISH for one update.
func (p *Publisher) write(ctx context.Context, key, data string) error {
	pipe := p.client.Pipeline()
	pipe.Set(ctx, "quote:latest:"+key, data, latestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "quote:stream:" + key,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	})
	pipe.Publish(ctx, "pub:quote:"+key, data)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Publisher) buffer(key, data string) {
	p.mu.Lock()
	if len(p.pending) >= pendingMaxSize {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, pendingPublish{key: key, data: data})
	p.mu.Unlock()

	if p.OnBuffered != nil {
		p.OnBuffered()
	}
}

// flush replays updates buffered while the breaker was open.
func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	if len(p.pending) == 0 {
		p.mu.Unlock()
		return
	}
	toFlush := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, pw := range toFlush {
		if err := p.write(ctx, pw.key, pw.data); err != nil {
			log.Printf("[redis] flush stopped after error: %v", err)
			return
		}
	}
	log.Printf("[redis] flushed %d buffered updates", len(toFlush))
}
