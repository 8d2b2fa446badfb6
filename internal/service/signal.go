package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Bus carries wake-up signals for publish jobs whose status was changed by
// someone other than their driver
type Bus interface {
	Notify(ctx context.Context, jobID string) error
	// Subscribe returns a channel that receives after every Notify for jobID.
	// Signals are coalesced; the caller must invoke the cancel func.
	Subscribe(jobID string) (<-chan struct{}, func())
	Close() error
}

type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[chan struct{}]struct{})}
}

func (b *MemoryBus) Notify(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[jobID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(jobID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[chan struct{}]struct{})
	}
	b.subs[jobID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[jobID], ch)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
		})
	}
}

func (b *MemoryBus) Close() error {
	return nil
}

// RedisBus relays signals between processes over a redis pub/sub channel and
// fans them out locally
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
	local   *MemoryBus
	pubsub  *redis.PubSub
	done    chan struct{}
}

func NewRedisBus(ctx context.Context, client *redis.Client, channel string, logger *zap.Logger) (*RedisBus, error) {
	pubsub := client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	b := &RedisBus{
		client:  client,
		channel: channel,
		logger:  logger,
		local:   NewMemoryBus(),
		pubsub:  pubsub,
		done:    make(chan struct{}),
	}
	go b.relay()

	logger.Info("Subscribed to job signal channel", zap.String("channel", channel))
	return b, nil
}

func (b *RedisBus) relay() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		_ = b.local.Notify(context.Background(), msg.Payload)
	}
}

// Notify wakes local subscribers immediately and publishes for other processes
func (b *RedisBus) Notify(ctx context.Context, jobID string) error {
	_ = b.local.Notify(ctx, jobID)
	if err := b.client.Publish(ctx, b.channel, jobID).Err(); err != nil {
		b.logger.Warn("Failed to publish job signal", zap.String("job_id", jobID), zap.Error(err))
		return err
	}
	return nil
}

func (b *RedisBus) Subscribe(jobID string) (<-chan struct{}, func()) {
	return b.local.Subscribe(jobID)
}

func (b *RedisBus) Close() error {
	err := b.pubsub.Close()
	<-b.done
	return err
}
