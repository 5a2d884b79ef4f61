package middleware

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/token_engine/internal/logging"
)

// KeyInvalidationChannel carries tenant ids whose cached API keys are stale.
const KeyInvalidationChannel = "token_engine:apikey:invalidate"

// KeyPublisher announces API key invalidations to other gateway replicas.
type KeyPublisher interface {
	PublishInvalidation(ctx context.Context, tenantID string) error
}

// RedisKeyInvalidation shares API key cache invalidations over Redis pub/sub.
// It publishes local invalidations and applies those of other replicas to
// cache. It runs as a lifecycle service.
type RedisKeyInvalidation struct {
	client *redis.Client
	cache  *APIKeyMiddleware
	log    *logging.Logger

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

var _ KeyPublisher = (*RedisKeyInvalidation)(nil)

// NewRedisKeyInvalidation creates the shared invalidation service for cache.
func NewRedisKeyInvalidation(client *redis.Client, cache *APIKeyMiddleware, log *logging.Logger) *RedisKeyInvalidation {
	if log == nil {
		log = logging.NewDefault("apikey-invalidation")
	}
	return &RedisKeyInvalidation{client: client, cache: cache, log: log}
}

// Name identifies the service.
func (r *RedisKeyInvalidation) Name() string { return "apikey-invalidation" }

// PublishInvalidation implements KeyPublisher.
func (r *RedisKeyInvalidation) PublishInvalidation(ctx context.Context, tenantID string) error {
	return r.client.Publish(ctx, KeyInvalidationChannel, tenantID).Err()
}

// Start subscribes to the channel and returns once the subscription is live.
func (r *RedisKeyInvalidation) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pubsub != nil {
		return nil
	}

	ps := r.client.Subscribe(ctx, KeyInvalidationChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", KeyInvalidationChannel, err)
	}
	r.pubsub = ps
	r.done = make(chan struct{})
	go r.listen(ps.Channel(), r.done)

	r.log.WithField("channel", KeyInvalidationChannel).Info("sharing API key invalidations")
	return nil
}

func (r *RedisKeyInvalidation) listen(messages <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range messages {
		r.cache.drop(msg.Payload)
	}
}

// Stop closes the subscription and waits for the listener to exit.
func (r *RedisKeyInvalidation) Stop(ctx context.Context) error {
	r.mu.Lock()
	ps, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()
	if ps == nil {
		return nil
	}

	err := ps.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}
