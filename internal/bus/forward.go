package bus

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/muster-io/muster/internal/transport"
	"github.com/muster-io/muster/pkg/fleet"
)

// Cross-process forwarding
//
// The Forwarder runs inside each agent process: it subscribes to the
// reserved "coord." namespace on the agent's local bus and ships every
// matching event over the transport to the coordinator. The Inlet runs
// inside the coordinator: it drains the transport and re-publishes each
// event on the coordinator's bus with the origin preserved.

// Forwarder ships coordinator-bound local events across the transport.
type Forwarder struct {
	bus    *Bus
	tr     transport.Transport
	origin string

	// MaxRetries bounds how many times a failed send is retried before
	// the event is dropped and a diagnostic published in its place.
	MaxRetries uint64

	// RetryInterval seeds the exponential backoff between retries.
	RetryInterval time.Duration

	// SendTimeout caps each individual transport send attempt.
	SendTimeout time.Duration
}

// NewForwarder creates a forwarder that subscribes to coordinator-bound
// events on the given bus and forwards them as the named origin.
func NewForwarder(b *Bus, tr transport.Transport, origin string) *Forwarder {
	return &Forwarder{
		bus:           b,
		tr:            tr,
		origin:        origin,
		MaxRetries:    4,
		RetryInterval: 250 * time.Millisecond,
		SendTimeout:   5 * time.Second,
	}
}

// Run forwards events until the context is cancelled. A transport failure
// on one event never stops the loop: the event is retried with bounded
// backoff, then dropped with a local diagnostic event in its place.
func (f *Forwarder) Run(ctx context.Context) error {
	sub, err := f.bus.Subscribe(fleet.CoordPrefix + "*")
	if err != nil {
		return fmt.Errorf("failed to subscribe to coordinator-bound events: %w", err)
	}
	defer sub.Close()

	log.Printf("[Forwarder] Forwarding %q events for origin '%s'", sub.Pattern(), f.origin)

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Forwarder] Shutting down (%d events dropped by queue)", sub.Dropped())
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			f.forward(ctx, ev)
		}
	}
}

// forward ships one event, retrying transient transport failures.
func (f *Forwarder) forward(ctx context.Context, ev *fleet.Event) {
	payload, err := transport.EncodeEvent(ev)
	if err != nil {
		log.Printf("[Forwarder] Dropping unencodable event %s: %v", ev.ID, err)
		return
	}

	operation := func() error {
		sendCtx, cancel := context.WithTimeout(ctx, f.SendTimeout)
		defer cancel()
		return f.tr.Send(sendCtx, fleet.OriginCoordinator, payload)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.RetryInterval
	policy.MaxElapsedTime = 0

	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, f.MaxRetries), ctx))
	if err != nil {
		log.Printf("[Forwarder] Dropping event %s (tag=%s) after retries: %v", ev.ID, ev.Tag, err)
		f.bus.Publish(fleet.TagForwardFailed, map[string]any{
			"event_id": ev.ID,
			"tag":      ev.Tag,
			"error":    err.Error(),
		}, f.origin)
	}
}

// Inlet drains forwarded events off the transport into the coordinator's
// bus.
type Inlet struct {
	bus *Bus
	tr  transport.Transport
}

// NewInlet creates an inlet that re-publishes received events on the
// given bus.
func NewInlet(b *Bus, tr transport.Transport) *Inlet {
	return &Inlet{bus: b, tr: tr}
}

// Run receives until the context is cancelled or the transport closes.
// Malformed payloads are logged and skipped; they never poison the loop.
func (i *Inlet) Run(ctx context.Context) error {
	log.Printf("[Inlet] Receiving forwarded events")

	for {
		origin, payload, err := i.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("[Inlet] Shutting down")
				return ctx.Err()
			}
			return fmt.Errorf("transport receive failed: %w", err)
		}

		ev, err := transport.DecodeEvent(payload)
		if err != nil {
			log.Printf("[Inlet] Skipping malformed payload from '%s': %v", origin, err)
			continue
		}

		// Origin preserved: the event is re-published exactly as the
		// agent built it.
		i.bus.Forward(ev)
	}
}
