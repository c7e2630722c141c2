// Package relay carries mask settings and navigation events from the
// privileged side to the engines running against each tab.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dgnsrekt/moneymask/internal/settings"
)

// ErrNoAck is returned by Handshake when the tab never answered.
var ErrNoAck = errors.New("relay: tab did not acknowledge readiness")

// Port is the tab side of a connection.
type Port interface {
	// Deliver hands msg to the tab. It must not block on the tab's work.
	Deliver(msg Message)
	// Ready answers the contentScriptReady probe.
	Ready(ctx context.Context) bool
}

// Readier is probed by Handshake.
type Readier interface {
	Ready(ctx context.Context, tabID int) bool
}

// Background routes messages to connected tabs and mirrors every message
// to a Broker.
type Background struct {
	broker *Broker
	logger *slog.Logger

	mu    sync.RWMutex
	ports map[int]Port
}

// NewBackground returns a Background publishing to broker. A nil broker
// gets a private one.
func NewBackground(broker *Broker, logger *slog.Logger) *Background {
	if broker == nil {
		broker = NewBroker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Background{
		broker: broker,
		logger: logger,
		ports:  make(map[int]Port),
	}
}

// Broker returns the event broker.
func (b *Background) Broker() *Broker { return b.broker }

// Connect registers the port for tabID, replacing any previous one. The
// returned func removes it if it is still the registered port.
func (b *Background) Connect(tabID int, p Port) func() {
	b.mu.Lock()
	b.ports[tabID] = p
	b.mu.Unlock()
	b.logger.Debug("relay: tab connected", "tab", tabID)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.ports[tabID] == p {
			delete(b.ports, tabID)
			b.logger.Debug("relay: tab disconnected", "tab", tabID)
		}
	}
}

// Tabs lists connected tab ids.
func (b *Background) Tabs() []int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]int, 0, len(b.ports))
	for id := range b.ports {
		ids = append(ids, id)
	}
	return ids
}

func (b *Background) port(tabID int) Port {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ports[tabID]
}

// Ready sends the readiness probe to tabID. A tab with no port is not ready.
func (b *Background) Ready(ctx context.Context, tabID int) bool {
	p := b.port(tabID)
	if p == nil {
		return false
	}
	b.publish(tabID, ContentScriptReady())
	return p.Ready(ctx)
}

// SendToTab delivers msg to one tab. With no port connected the message is
// dropped with a warning and false is returned.
func (b *Background) SendToTab(tabID int, msg Message) bool {
	if err := msg.Validate(); err != nil {
		b.logger.Warn("relay: dropping invalid message", "tab", tabID, "error", err)
		return false
	}
	p := b.port(tabID)
	if p == nil {
		b.logger.Warn("relay: no port for tab, dropping message", "tab", tabID, "type", msg.Type)
		return false
	}
	p.Deliver(msg)
	b.publish(tabID, msg)
	return true
}

// Broadcast delivers msg to every connected tab.
func (b *Background) Broadcast(msg Message) {
	if err := msg.Validate(); err != nil {
		b.logger.Warn("relay: dropping invalid broadcast", "error", err)
		return
	}
	b.mu.RLock()
	ports := make([]Port, 0, len(b.ports))
	for _, p := range b.ports {
		ports = append(ports, p)
	}
	b.mu.RUnlock()
	for _, p := range ports {
		p.Deliver(msg)
	}
	b.publish(0, msg)
}

func (b *Background) publish(tabID int, msg Message) {
	evt, err := NewEvent(tabID, msg)
	if err != nil {
		b.logger.Warn("relay: event not published", "tab", tabID, "error", err)
		return
	}
	b.broker.Publish(evt)
}

// URLUpdate forwards a navigation in tabID as historyUpdate.
func (b *Background) URLUpdate(tabID int, url string) bool {
	return b.SendToTab(tabID, HistoryUpdate(url))
}

// Forward broadcasts every settings change until ctx is done.
func (b *Background) Forward(ctx context.Context, store settings.Store) error {
	changes, cancel := store.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-changes:
			if !ok {
				return nil
			}
			switch c.Key {
			case settings.KeyMaskValue:
				b.Broadcast(MaskUpdate(c.State.MaskValue))
			case settings.KeyMaskOn:
				b.Broadcast(IsMaskOn(c.State.IsMaskOn))
			}
		}
	}
}

// Handshake probes tabID until it acknowledges, waiting cfg.Interval
// between attempts.
func Handshake(ctx context.Context, r Readier, tabID int, cfg HandshakeConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	for attempt := 1; ; attempt++ {
		if r.Ready(ctx, tabID) {
			return nil
		}
		if attempt >= cfg.Attempts {
			return ErrNoAck
		}
		t := time.NewTimer(cfg.Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
