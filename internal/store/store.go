// Package store defines the backing-service contracts the chatwire core
// depends on — identity records, the message distribution bus, and the durable
// message log — together with a Redis adapter and in-memory implementations
// for tests and single-process runs. The core only ever sees these interfaces;
// which backend sits behind them is a wiring decision made at process start.
package store

import (
	"context"

	"github.com/chatwire/chatwire/internal/model"
)

// IdentityStore is the key/value contract over account records and their
// verification tokens.
type IdentityStore interface {
	// Get returns the account for id, or errs.ErrNotFound.
	Get(ctx context.Context, id string) (*model.Account, error)

	// Put atomically creates the account if absent. Racing calls for the
	// same id resolve deterministically: exactly one succeeds, the rest
	// return errs.ErrConflict. Implementations must not emulate this with
	// read-then-write.
	Put(ctx context.Context, acc *model.Account) error

	// Update replaces an existing account record, or returns
	// errs.ErrNotFound if it was never created.
	Update(ctx context.Context, acc *model.Account) error

	// GetByToken returns the account whose current pending verification
	// token equals token, or errs.ErrNotFound. A consumed token never
	// matches again.
	GetByToken(ctx context.Context, token string) (*model.Account, error)
}

// Subscription is one live attachment to a bus channel. Messages preserves
// the bus publish order for the channel and is closed by Close or by
// connection loss.
type Subscription interface {
	Messages() <-chan model.ChatMessage
	Close() error
}

// Bus is the publish/subscribe contract distributing messages between
// connections, possibly across processes. Channel identity is the recipient
// user id. Every subscriber to a channel receives every published message
// independently (broadcast, not competing-consumer).
type Bus interface {
	Publish(ctx context.Context, channel string, msg model.ChatMessage) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// MessageLog durably records messages independent of live delivery. The core
// only appends; history reads are a separate concern.
type MessageLog interface {
	Append(ctx context.Context, msg model.ChatMessage) error
}
