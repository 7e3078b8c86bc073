// Package driver ties the command class codec to a controller transport: it
// decodes inbound frames, caches their values and matches requests with
// their expected responses.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zwave-go-home/internal/cc"
	"zwave-go-home/internal/cc/classes"
	"zwave-go-home/internal/store"
	"zwave-go-home/internal/transport"
)

// DefaultRequestTimeout applies when Config.RequestTimeout is zero.
const DefaultRequestTimeout = 10 * time.Second

var (
	// ErrNoResponse is returned by Request for commands that have no
	// expected response.
	ErrNoResponse = errors.New("driver: command has no expected response")
	// ErrStopped is returned to callers still waiting when the driver stops.
	ErrStopped = errors.New("driver: stopped")
)

// Config holds driver configuration.
type Config struct {
	// Versions maps node ID to class ID to the negotiated version. Entries
	// here take precedence over versions remembered in the store.
	Versions         map[uint8]map[uint8]uint8
	RequestTimeout   time.Duration
	ControllerNodeID uint8
}

type pendingKey struct {
	node, class, cmd uint8
}

// Driver decodes inbound frames and sends encoded commands.
type Driver struct {
	transport transport.Transport
	registry  *cc.Registry
	store     store.Store
	events    *EventBus
	logger    *slog.Logger
	config    Config

	pendingMu sync.Mutex
	pending   map[pendingKey]map[uint64]chan cc.Command
	nextWait  uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a driver and subscribes it to inbound frames of tr.
func New(tr transport.Transport, registry *cc.Registry, st store.Store, events *EventBus, cfg Config, logger *slog.Logger) *Driver {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ControllerNodeID == 0 {
		cfg.ControllerNodeID = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		transport: tr,
		registry:  registry,
		store:     st,
		events:    events,
		logger:    logger,
		config:    cfg,
		pending:   make(map[pendingKey]map[uint64]chan cc.Command),
		ctx:       ctx,
		cancel:    cancel,
	}
	tr.OnFrame(d.HandleFrame)
	return d
}

// Context returns the driver's context, which is cancelled on Stop().
func (d *Driver) Context() context.Context {
	return d.ctx
}

// Stop releases every waiting request.
func (d *Driver) Stop() {
	d.cancel()
	d.pendingMu.Lock()
	for key, waiters := range d.pending {
		for _, ch := range waiters {
			close(ch)
		}
		delete(d.pending, key)
	}
	d.pendingMu.Unlock()
}

// Registry returns the command class registry.
func (d *Driver) Registry() *cc.Registry {
	return d.registry
}

// Store returns the value cache.
func (d *Driver) Store() store.Store {
	return d.store
}

// Events returns the event bus.
func (d *Driver) Events() *EventBus {
	return d.events
}

// Version returns the version used to talk to class on node: configured
// first, then remembered in the store, then 1. The result is clamped to what
// the class implements.
func (d *Driver) Version(node, class uint8) uint8 {
	var v uint8
	if byClass, ok := d.config.Versions[node]; ok {
		v = byClass[class]
	}
	if v == 0 {
		if n, err := d.store.GetNode(node); err == nil {
			v = n.Versions[class]
		}
	}
	return d.registry.ClampVersion(class, v)
}

// SetVersion remembers the negotiated version of class on node.
func (d *Driver) SetVersion(node, class, version uint8) error {
	err := d.store.UpdateNode(node, func(n *store.Node) error {
		if n.Versions == nil {
			n.Versions = make(map[uint8]uint8)
		}
		n.Versions[class] = version
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return d.store.SaveNode(&store.Node{ID: node, Versions: map[uint8]uint8{class: version}})
	}
	return err
}

// HandleFrame decodes an inbound frame, caches its values, emits events and
// completes any request waiting for it. Decode failures drop the frame.
func (d *Driver) HandleFrame(f transport.Frame) {
	v := d.Version(f.NodeID, f.ClassID)
	cmd, err := d.registry.Decode(f.ClassID, f.CommandID, f.Payload, v)
	if err != nil {
		d.handleDecodeError(f, err)
		return
	}

	now := time.Now()
	d.touchNode(f.NodeID, now, cmd)

	if valuer, ok := cmd.(cc.Valuer); ok {
		d.saveValues(f.NodeID, f.ClassID, valuer.Values(), now)
	}

	name := ""
	if _, def, err := d.registry.Lookup(f.ClassID, f.CommandID); err == nil {
		name = def.Name
	}
	d.logger.Debug("command received", "node", f.NodeID, "class", fmt.Sprintf("0x%02X", f.ClassID),
		"command", name, "version", v)

	if _, ok := cmd.(*classes.WakeUpNotification); ok {
		d.events.Emit(Event{Type: EventWakeUp, NodeID: f.NodeID, Data: WakeUpEvent{NodeID: f.NodeID, At: now}})
	}
	d.events.Emit(Event{Type: EventCommandReceived, NodeID: f.NodeID, Data: CommandEvent{
		NodeID:    f.NodeID,
		ClassID:   f.ClassID,
		CommandID: f.CommandID,
		Name:      name,
		Command:   cmd,
	}})

	d.resolve(pendingKey{f.NodeID, f.ClassID, f.CommandID}, cmd)
}

func (d *Driver) handleDecodeError(f transport.Frame, err error) {
	kind := "error"
	var de *cc.DecodeError
	if errors.As(err, &de) {
		kind = de.Kind.String()
	}
	d.logger.Warn("decode failed, dropping frame", "node", f.NodeID,
		"class", fmt.Sprintf("0x%02X", f.ClassID), "command", fmt.Sprintf("0x%02X", f.CommandID),
		"kind", kind, "err", err)
	d.events.Emit(Event{Type: EventDecodeError, NodeID: f.NodeID, Data: DecodeErrorEvent{
		NodeID:    f.NodeID,
		ClassID:   f.ClassID,
		CommandID: f.CommandID,
		Kind:      kind,
		Error:     err.Error(),
	}})
}

// touchNode records the node as seen and keeps wake-up bookkeeping current.
func (d *Driver) touchNode(node uint8, now time.Time, cmd cc.Command) {
	update := func(n *store.Node) error {
		n.LastSeen = now
		switch c := cmd.(type) {
		case *classes.WakeUpNotification:
			n.LastWakeUp = now
		case *classes.WakeUpIntervalReport:
			n.WakeUpInterval = c.Seconds
		}
		return nil
	}
	err := d.store.UpdateNode(node, update)
	if errors.Is(err, store.ErrNotFound) {
		n := &store.Node{ID: node}
		_ = update(n)
		err = d.store.SaveNode(n)
	}
	if err != nil {
		d.logger.Error("update node", "node", node, "err", err)
	}
}

func (d *Driver) saveValues(node, class uint8, values []cc.Value, now time.Time) {
	for _, v := range values {
		rec := store.ValueRecord{
			ValueID:   store.ValueID{ClassID: class, Property: v.Property, PropertyKey: v.PropertyKey},
			Value:     v.Value,
			Internal:  v.Visibility == cc.Internal,
			UpdatedAt: now,
		}
		if err := d.store.SaveValue(node, &rec); err != nil {
			d.logger.Error("save value", "node", node, "value", rec.ValueID.String(), "err", err)
			continue
		}
		if rec.Internal {
			continue
		}
		d.events.Emit(Event{Type: EventValueUpdated, NodeID: node, Data: ValueEvent{NodeID: node, ValueRecord: rec}})
	}
}

func (d *Driver) wait(key pendingKey) (uint64, chan cc.Command) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	id := d.nextWait
	d.nextWait++
	ch := make(chan cc.Command, 1)
	if d.pending[key] == nil {
		d.pending[key] = make(map[uint64]chan cc.Command)
	}
	d.pending[key][id] = ch
	return id, ch
}

func (d *Driver) unwait(key pendingKey, id uint64) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	delete(d.pending[key], id)
	if len(d.pending[key]) == 0 {
		delete(d.pending, key)
	}
}

func (d *Driver) resolve(key pendingKey, cmd cc.Command) {
	d.pendingMu.Lock()
	waiters := d.pending[key]
	delete(d.pending, key)
	d.pendingMu.Unlock()

	for _, ch := range waiters {
		ch <- cmd
	}
}

// Send encodes cmd at the node's version and hands it to the transport.
func (d *Driver) Send(ctx context.Context, node uint8, cmd cc.Command) error {
	v := d.Version(node, cmd.ClassID())
	payload, err := d.registry.Encode(cmd, v)
	if err != nil {
		return err
	}
	f := transport.Frame{NodeID: node, ClassID: cmd.ClassID(), CommandID: cmd.CommandID(), Payload: payload}
	if err := d.transport.Send(ctx, f); err != nil {
		return fmt.Errorf("send to node %d: %w", node, err)
	}
	d.logger.Debug("command sent", "node", node, "class", fmt.Sprintf("0x%02X", f.ClassID),
		"command", fmt.Sprintf("0x%02X", f.CommandID), "version", v, "payload", fmt.Sprintf("%X", payload))
	return nil
}

// Request sends cmd and waits for the response the registry declares for it.
func (d *Driver) Request(ctx context.Context, node uint8, cmd cc.Command) (cc.Command, error) {
	respID, ok := d.registry.ExpectedResponse(cmd.ClassID(), cmd.CommandID())
	if !ok {
		return nil, fmt.Errorf("0x%02X/0x%02X: %w", cmd.ClassID(), cmd.CommandID(), ErrNoResponse)
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.RequestTimeout)
	defer cancel()

	key := pendingKey{node, cmd.ClassID(), respID}
	id, ch := d.wait(key)
	defer d.unwait(key, id)

	if err := d.Send(ctx, node, cmd); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrStopped
		}
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("node %d: waiting for 0x%02X/0x%02X: %w", node, key.class, key.cmd, ctx.Err())
	case <-d.ctx.Done():
		return nil, ErrStopped
	}
}
