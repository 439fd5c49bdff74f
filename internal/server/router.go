// Package server routes messages between connections: inbound messages are
// validated, recorded, and published; the bus delivers them to whichever
// sessions hold a subscription for the recipient.
package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatwire/chatwire/internal/errs"
	"github.com/chatwire/chatwire/internal/model"
	"github.com/chatwire/chatwire/internal/store"
	"github.com/chatwire/chatwire/internal/validation"
)

// Router implements the per-connection message protocol against the
// distribution bus and the message log.
type Router struct {
	bus     store.Bus
	history store.MessageLog
	log     *zap.Logger
	now     func() time.Time
}

// NewRouter constructs a Router over the given bus and log.
func NewRouter(bus store.Bus, history store.MessageLog, log *zap.Logger) *Router {
	return &Router{bus: bus, history: history, log: log, now: time.Now}
}

// Open subscribes to the channel named by the authenticated user. The
// returned subscription delivers every message published to that user for as
// long as the session holds it.
func (r *Router) Open(ctx context.Context, owner string) (store.Subscription, error) {
	return r.bus.Subscribe(ctx, owner)
}

// HandleInbound processes one raw inbound frame from a session owned by
// owner: decode, validate, stamp, then record and publish concurrently. Both
// attempts are always made and awaited; a failure of either is reported as
// errs.ErrDeliveryUncertain without affecting the other. Decode and field
// failures come back as validation.Errors. Any returned error concerns this
// single message; the session stays active.
func (r *Router) HandleInbound(owner string, raw []byte) error {
	var in model.IncomingMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return validation.Malformed()
	}
	if verrs := validation.Message(in.To, in.Payload); len(verrs) > 0 {
		return verrs
	}

	msg := model.Stamp(owner, in, r.now())

	// Detached from the session lifetime: once dispatched, the pair runs
	// to completion even if the sender disconnects mid-flight.
	ctx := context.Background()

	var wg sync.WaitGroup
	var appendErr, publishErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		appendErr = r.history.Append(ctx, msg)
	}()
	go func() {
		defer wg.Done()
		publishErr = r.bus.Publish(ctx, msg.To, msg)
	}()
	wg.Wait()

	if appendErr != nil {
		r.log.Error("history append failed",
			zap.String("from", msg.From), zap.String("to", msg.To), zap.Error(appendErr))
	}
	if publishErr != nil {
		r.log.Error("bus publish failed",
			zap.String("from", msg.From), zap.String("to", msg.To), zap.Error(publishErr))
	}
	if appendErr != nil || publishErr != nil {
		return errs.ErrDeliveryUncertain
	}
	return nil
}
