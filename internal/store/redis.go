package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/chatwire/chatwire/internal/errs"
	"github.com/chatwire/chatwire/internal/model"
)

const (
	accountKeyPrefix = "account:"
	tokenKeyPrefix   = "verify:"
	historyKeyPrefix = "history:"
	channelPrefix    = "inbox:"
)

// Redis backs all three contracts with one Redis client: accounts as JSON
// values under account:<id> with a verify:<token> index, the bus as Redis
// pub/sub on inbox:<user>, and the log as RPUSH onto history:<recipient>.
type Redis struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedis wraps an already-configured Redis client.
func NewRedis(client *redis.Client, log *zap.Logger) *Redis {
	return &Redis{client: client, log: log}
}

var (
	_ IdentityStore = (*Redis)(nil)
	_ Bus           = (*Redis)(nil)
	_ MessageLog    = (*Redis)(nil)
)

func (r *Redis) Get(ctx context.Context, id string) (*model.Account, error) {
	raw, err := r.client.Get(ctx, accountKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	var acc model.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return nil, fmt.Errorf("decode account %q: %w", id, err)
	}
	return &acc, nil
}

// Put creates the account with SETNX so that concurrent sign-ups for the same
// id resolve to exactly one winner inside Redis itself.
func (r *Redis) Put(ctx context.Context, acc *model.Account) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("encode account %q: %w", acc.ID, err)
	}
	created, err := r.client.SetNX(ctx, accountKeyPrefix+acc.ID, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("put account: %w", err)
	}
	if !created {
		return errs.ErrConflict
	}
	if acc.Token != "" {
		if err := r.client.Set(ctx, tokenKeyPrefix+acc.Token, acc.ID, 0).Err(); err != nil {
			return fmt.Errorf("index verification token: %w", err)
		}
	}
	return nil
}

func (r *Redis) Update(ctx context.Context, acc *model.Account) error {
	raw, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("encode account %q: %w", acc.ID, err)
	}
	replaced, err := r.client.SetXX(ctx, accountKeyPrefix+acc.ID, raw, 0).Result()
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if !replaced {
		return errs.ErrNotFound
	}
	return nil
}

// GetByToken resolves the verify:<token> index and re-checks the account's
// current token, so a consumed or superseded token reads as not found even
// while the index entry lingers.
func (r *Redis) GetByToken(ctx context.Context, token string) (*model.Account, error) {
	id, err := r.client.Get(ctx, tokenKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve verification token: %w", err)
	}
	acc, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc.Verified || acc.Token != token {
		return nil, errs.ErrNotFound
	}
	return acc, nil
}

func (r *Redis) Publish(ctx context.Context, channel string, msg model.ChatMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.Publish(ctx, channelPrefix+channel, raw).Err(); err != nil {
		return fmt.Errorf("publish to %q: %w", channel, err)
	}
	return nil
}

// Subscribe opens a dedicated Redis subscription for the channel. Each call
// gets its own PubSub connection, so multiple sessions for one user each see
// every delivery.
func (r *Redis) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channelPrefix+channel)
	// Force the SUBSCRIBE round-trip so setup failures surface here rather
	// than on first read.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe to %q: %w", channel, err)
	}

	sub := &redisSubscription{pubsub: pubsub, out: make(chan model.ChatMessage, deliveryBuffer)}
	go sub.pump(r.log.With(zap.String("channel", channel)))
	return sub, nil
}

func (r *Redis) Append(ctx context.Context, msg model.ChatMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := r.client.RPush(ctx, historyKeyPrefix+msg.To, raw).Err(); err != nil {
		return fmt.Errorf("append history for %q: %w", msg.To, err)
	}
	return nil
}

const deliveryBuffer = 64

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan model.ChatMessage
}

// pump decodes raw pub/sub deliveries in arrival order until the underlying
// subscription is closed or its connection is lost.
func (s *redisSubscription) pump(log *zap.Logger) {
	defer close(s.out)
	for raw := range s.pubsub.Channel() {
		var msg model.ChatMessage
		if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
			log.Warn("discarding undecodable bus delivery", zap.Error(err))
			continue
		}
		select {
		case s.out <- msg:
		default:
			log.Warn("dropping bus delivery; subscriber stalled")
		}
	}
}

func (s *redisSubscription) Messages() <-chan model.ChatMessage {
	return s.out
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}
