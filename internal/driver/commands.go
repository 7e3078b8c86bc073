package driver

import (
	"context"
	"errors"
	"fmt"

	"zwave-go-home/internal/cc"
	"zwave-go-home/internal/cc/classes"
	"zwave-go-home/internal/store"
)

// ErrResetUnsupported is returned by MeterReset for meters that reported
// they cannot be reset.
var ErrResetUnsupported = errors.New("driver: meter does not support reset")

func expect[T cc.Command](resp cc.Command, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	out, ok := resp.(T)
	if !ok {
		return zero, fmt.Errorf("driver: unexpected response %T", resp)
	}
	return out, nil
}

// Meter requests a reading. A nil scale or rate type is left out of the Get.
func (d *Driver) Meter(ctx context.Context, node uint8, scale *uint16, rate *classes.RateType) (*classes.MeterReport, error) {
	get := classes.NewMeterGet()
	get.Scale = scale
	get.RateType = rate
	return expect[*classes.MeterReport](d.Request(ctx, node, get))
}

// MeterSupported asks which scales and rate types a meter supports.
func (d *Driver) MeterSupported(ctx context.Context, node uint8) (*classes.MeterSupportedReport, error) {
	return expect[*classes.MeterSupportedReport](d.Request(ctx, node, classes.NewMeterSupportedGet()))
}

// MeterReset resets the node's accumulated readings. If the meter already
// told us it has no reset, the command is not sent.
func (d *Driver) MeterReset(ctx context.Context, node uint8) error {
	rec, err := d.store.InternalValue(node, store.ValueID{ClassID: classes.MeterID, Property: "supportsReset"})
	switch {
	case err == nil:
		if supported, ok := rec.Value.(bool); ok && !supported {
			return fmt.Errorf("node %d: %w", node, ErrResetUnsupported)
		}
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	return d.Send(ctx, node, classes.NewMeterReset())
}

// WakeUpInterval reads the node's wake-up interval.
func (d *Driver) WakeUpInterval(ctx context.Context, node uint8) (*classes.WakeUpIntervalReport, error) {
	return expect[*classes.WakeUpIntervalReport](d.Request(ctx, node, classes.NewWakeUpIntervalGet()))
}

// WakeUpCapabilities reads the allowed interval range (version 2 and later).
func (d *Driver) WakeUpCapabilities(ctx context.Context, node uint8) (*classes.WakeUpIntervalCapabilitiesReport, error) {
	return expect[*classes.WakeUpIntervalCapabilitiesReport](d.Request(ctx, node, classes.NewWakeUpIntervalCapabilitiesGet()))
}

// SetWakeUpInterval configures the interval and points notifications at this
// controller. The node does not answer; the interval is remembered locally.
func (d *Driver) SetWakeUpInterval(ctx context.Context, node uint8, seconds uint32) error {
	if err := d.Send(ctx, node, classes.NewWakeUpIntervalSet(seconds, d.config.ControllerNodeID)); err != nil {
		return err
	}
	err := d.store.UpdateNode(node, func(n *store.Node) error {
		n.WakeUpInterval = seconds
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return d.store.SaveNode(&store.Node{ID: node, WakeUpInterval: seconds})
	}
	return err
}

// NoMoreInformation lets a woken node go back to sleep.
func (d *Driver) NoMoreInformation(ctx context.Context, node uint8) error {
	return d.Send(ctx, node, classes.NewWakeUpNoMoreInformation())
}
