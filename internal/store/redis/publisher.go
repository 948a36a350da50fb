// Package redis publishes closed candles and signals to Redis for
// downstream dashboards. Write-only: the engine never reads its state
// back, so a Redis outage degrades fan-out without touching aggregation.
package redis

import (
	"context"
	"fmt"
	"log"
	"time"

	"cryptoscreener/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL = 30 * time.Minute
	// Stream trimming: roughly a day of 1m candles + buffer
	candleStreamMaxLen = 1500
	signalStreamMaxLen = 500
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes candles, signals, and latest prices to Redis.
type Publisher struct {
	client *goredis.Client

	// Optional hook, observes pipeline latency.
	OnWrite func(elapsed time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg PublisherConfig) (*Publisher, error) {
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

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client}, nil
}

// RunCandles reads closed candles from candleCh and writes them to Redis.
// Blocks until ctx is cancelled or candleCh is closed.
func (p *Publisher) RunCandles(ctx context.Context, candleCh <-chan model.Candle) {
	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candleCh:
			if !ok {
				return
			}
			p.writeCandle(ctx, candle)
		}
	}
}

// RunSignals reads fired signals from sigCh and writes them to Redis.
func (p *Publisher) RunSignals(ctx context.Context, sigCh <-chan model.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}
			p.writeSignal(ctx, sig)
		}
	}
}

// writeCandle performs pipelined writes for one closed candle.
func (p *Publisher) writeCandle(ctx context.Context, candle model.Candle) {
	latestKey := "candle:" + string(candle.Timeframe) + ":latest:" + candle.Symbol
	streamKey := "candle:" + string(candle.Timeframe) + ":" + candle.Symbol
	pubsubCh := "pub:candle:" + string(candle.Timeframe) + ":" + candle.Symbol
	jsonData := string(candle.JSON())

	start := time.Now()
	pipe := p.client.Pipeline()

	// SET latest candle with TTL
	pipe.Set(ctx, latestKey, jsonData, defaultLatestTTL)

	// XADD to stream with auto-trimming
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		MaxLen: candleStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": jsonData,
		},
	})

	// PUBLISH to pubsub channel
	pipe.Publish(ctx, pubsubCh, jsonData)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] candle pipeline error for %s: %v", candle.Key(), err)
		return
	}
	if p.OnWrite != nil {
		p.OnWrite(time.Since(start))
	}
}

// writeSignal performs pipelined writes for one fired signal.
func (p *Publisher) writeSignal(ctx context.Context, sig model.Signal) {
	jsonData := string(sig.JSON())

	start := time.Now()
	pipe := p.client.Pipeline()

	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: "signals",
		MaxLen: signalStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": jsonData,
		},
	})
	pipe.Publish(ctx, "pub:signals", jsonData)

	_, err := pipe.Exec(ctx)
	if err != nil {
		log.Printf("[redis] signal pipeline error for %s: %v", sig.Symbol, err)
		return
	}
	if p.OnWrite != nil {
		p.OnWrite(time.Since(start))
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
