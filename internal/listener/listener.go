// Package listener is the change listener (C8): a builder-configured
// reactive subscriber over the relational store's LISTEN/NOTIFY
// channels. Its shape — a Builder that accumulates an on_event and an
// on_disconnect callback plus a channel list, and a spawned Listener
// whose Drop/Close signals shutdown — is carried over directly from
// the original Rust source's archive/src/database/listener.rs,
// translated to Go idioms (pointer-receiver builder methods that
// mutate and return the same *Builder instead of consuming it, an
// explicit Close instead of Drop).
package listener

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/ledgerwatch/log/v3"

	"github.com/gateway-fm/archive-node/internal/chain"
)

// Channel is a listenable channel tag. Only Blocks is currently
// defined, per spec.md section 4.8.
type Channel int

const (
	Blocks Channel = iota
)

// wireName is the Postgres channel name for a Channel tag. Pinned to
// "blocks_update" to resolve the ambiguity noted in spec.md section 9.
func (c Channel) wireName() string {
	switch c {
	case Blocks:
		return "blocks_update"
	default:
		return ""
	}
}

// EventHandler processes one decoded ChannelEvent using a connection
// reserved exclusively for handler bodies, mirroring the original's
// `&'a mut PgConnection` parameter.
type EventHandler func(ctx context.Context, conn *pgx.Conn, event chain.ChannelEvent) error

// DisconnectHandler is invoked when the subscription transport closes.
type DisconnectHandler func()

// Builder accumulates configuration before Spawn opens the two
// connections and starts the receive loop.
type Builder struct {
	url          string
	channels     []Channel
	onEvent      EventHandler
	onDisconnect DisconnectHandler
	logger       log.Logger
}

// NewBuilder starts a Builder for the relational store at url.
func NewBuilder(url string, logger log.Logger) *Builder {
	return &Builder{
		url:          url,
		onDisconnect: func() {},
		logger:       logger,
	}
}

// ListenOn adds a channel to subscribe to.
func (b *Builder) ListenOn(c Channel) *Builder {
	b.channels = append(b.channels, c)
	return b
}

// OnEvent sets the per-notification handler.
func (b *Builder) OnEvent(f EventHandler) *Builder {
	b.onEvent = f
	return b
}

// OnDisconnect sets the handler invoked when the subscription
// transport closes.
func (b *Builder) OnDisconnect(f DisconnectHandler) *Builder {
	b.onDisconnect = f
	return b
}

// Listener is a spawned, running subscription. Closing it signals
// shutdown to the receive loop, the Go analogue of dropping the
// original Rust Listener handle.
type Listener struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Close signals shutdown and waits for the receive loop to exit.
func (l *Listener) Close() {
	l.cancel()
	<-l.done
}

// Spawn opens a dedicated subscription connection plus a second
// exclusive connection reserved for handler bodies, subscribes to
// every configured channel, and starts the receive loop per spec.md
// section 4.8.
func (b *Builder) Spawn(ctx context.Context) (*Listener, error) {
	subConn, err := pgx.Connect(ctx, b.url)
	if err != nil {
		return nil, fmt.Errorf("%w: opening subscription connection: %v", chain.ErrTransientStore, err)
	}
	handlerConn, err := pgx.Connect(ctx, b.url)
	if err != nil {
		subConn.Close(ctx) //nolint:errcheck
		return nil, fmt.Errorf("%w: opening handler connection: %v", chain.ErrTransientStore, err)
	}

	for _, c := range b.channels {
		if _, err := subConn.Exec(ctx, "LISTEN \""+c.wireName()+"\""); err != nil {
			subConn.Close(ctx)     //nolint:errcheck
			handlerConn.Close(ctx) //nolint:errcheck
			return nil, fmt.Errorf("%w: subscribing to %s: %v", chain.ErrTransientStore, c.wireName(), err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	l := &Listener{cancel: cancel, done: make(chan struct{})}

	go b.run(runCtx, subConn, handlerConn, l.done)

	return l, nil
}

func (b *Builder) run(ctx context.Context, subConn, handlerConn *pgx.Conn, done chan struct{}) {
	defer close(done)
	defer subConn.Close(context.Background())     //nolint:errcheck
	defer handlerConn.Close(context.Background()) //nolint:errcheck

	for {
		notif, err := subConn.WaitForNotification(ctx)
		if ctx.Err() != nil {
			for _, c := range b.channels {
				_, _ = subConn.Exec(context.Background(), "UNLISTEN \""+c.wireName()+"\"")
			}
			return
		}
		if err != nil {
			b.logger.Error("listener transport error", "err", err)
			b.onDisconnect()
			return
		}
		if notif == nil {
			b.onDisconnect()
			return
		}
		event, err := DecodeEvent([]byte(notif.Payload))
		if err != nil {
			b.logger.Warn("dropping malformed notification payload", "err", err)
			continue
		}
		if b.onEvent != nil {
			if err := b.onEvent(ctx, handlerConn, *event); err != nil {
				b.logger.Error("event handler failed", "err", err)
			}
		}
	}
}

// DecodeEvent decodes a notification payload into a ChannelEvent.
// Additive fields are tolerated (encoding/json ignores unknown keys by
// default); both a structurally malformed payload and one missing a
// field this package requires are reported as an error so the caller
// can log-and-drop rather than crash or hand a handler a nil Block it
// didn't expect, per spec.md section 6's compatibility rule.
func DecodeEvent(payload []byte) (*chain.ChannelEvent, error) {
	var event chain.ChannelEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decoding channel event: %w", err)
	}
	if event.Table == "" || event.Action == "" {
		return nil, fmt.Errorf("decoding channel event: missing table or action field")
	}
	if event.Table == "blocks" && event.Block == nil {
		return nil, fmt.Errorf("decoding channel event: blocks event missing data field")
	}
	return &event, nil
}
