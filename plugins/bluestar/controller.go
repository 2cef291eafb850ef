package bluestar

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Controller is the public device-control facade. It owns the device
// catalog and per-device state cache; every mutation is marshaled onto
// a single ops goroutine so the foreground command path and the broker
// read loop never touch the cache concurrently.
type Controller struct {
	client *Client
	log    *zap.Logger
	now    func() time.Time

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the run goroutine.
	devices  map[string]Device
	states   map[string]DeviceState
	onUpdate func(deviceID string, state DeviceState)
}

func NewController(client *Client, log *zap.Logger) *Controller {
	c := &Controller{
		client:  client,
		log:     log,
		now:     time.Now,
		ops:     make(chan func(), 64),
		done:    make(chan struct{}),
		devices: make(map[string]Device),
		states:  make(map[string]DeviceState),
	}
	client.SetStateHandler(c.HandleReport)
	go c.run()
	return c
}

func (c *Controller) run() {
	for {
		select {
		case fn := <-c.ops:
			fn()
		case <-c.done:
			return
		}
	}
}

// dispatch runs fn on the ops goroutine and waits for it to finish.
func (c *Controller) dispatch(fn func()) {
	wait := make(chan struct{})
	select {
	case c.ops <- func() {
		fn()
		close(wait)
	}:
		<-wait
	case <-c.done:
	}
}

// SetUpdateHandler installs the state-change notification callback.
// It runs on the ops goroutine with a copy of the state and must not
// call back into the controller.
func (c *Controller) SetUpdateHandler(fn func(string, DeviceState)) {
	c.dispatch(func() {
		c.onUpdate = fn
	})
}

func (c *Controller) notifyLocked(deviceID string, state DeviceState) {
	if c.onUpdate != nil {
		c.onUpdate(deviceID, state)
	}
}

// Refresh pulls the device catalog, seeds state for new devices from
// the catalog's state snapshot, prunes devices that disappeared, and
// subscribes every listed device on the broker.
func (c *Controller) Refresh(ctx context.Context) error {
	devices, snapshot, err := c.client.ThingsSnapshot(ctx)
	if err != nil {
		return err
	}

	c.dispatch(func() {
		seen := make(map[string]struct{}, len(devices))
		for _, dev := range devices {
			seen[dev.ID] = struct{}{}
			c.devices[dev.ID] = dev
			if _, ok := c.states[dev.ID]; !ok {
				state := defaultDeviceState()
				if payload, ok := snapshot[dev.ID]; ok {
					mergeStatePayload(&state, payload)
				}
				c.states[dev.ID] = state
			}
		}
		for id := range c.devices {
			if _, ok := seen[id]; !ok {
				delete(c.devices, id)
				delete(c.states, id)
			}
		}
	})

	if broker := c.client.Broker(); broker != nil {
		for _, dev := range devices {
			if broker.Subscribe(dev.ID) {
				broker.RequestState(dev.ID)
			}
		}
	}
	return nil
}

// Devices returns the catalog sorted by display name.
func (c *Controller) Devices() []Device {
	var out []Device
	c.dispatch(func() {
		out = make([]Device, 0, len(c.devices))
		for _, dev := range c.devices {
			out = append(out, dev)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// State returns a copy of the cached state for one device.
func (c *Controller) State(deviceID string) (DeviceState, error) {
	var (
		state DeviceState
		ok    bool
	)
	c.dispatch(func() {
		state, ok = c.states[deviceID]
	})
	if !ok {
		return DeviceState{}, ErrUnknownDevice
	}
	return state, nil
}

// ApplyCommand publishes a shadow update for the device and merges the
// published fields into the cache optimistically. The returned state
// is the merged cache value, not a device acknowledgment.
func (c *Controller) ApplyCommand(ctx context.Context, deviceID string, cmd Command) (DeviceState, error) {
	var known bool
	c.dispatch(func() {
		state, ok := c.states[deviceID]
		known = ok
		if ok {
			c.completeModeCommand(&cmd, state)
		}
	})
	if !known {
		return DeviceState{}, ErrUnknownDevice
	}

	broker, err := c.client.EnsureBroker(ctx)
	if err != nil {
		return DeviceState{}, err
	}

	payload := cmd.wirePayload(c.now().UnixMilli())
	if !broker.Publish(deviceID, payload) {
		return DeviceState{}, ErrTransportUnavailable
	}

	var merged DeviceState
	c.dispatch(func() {
		state, ok := c.states[deviceID]
		if !ok {
			return
		}
		mergeStatePayload(&state, payload)
		c.states[deviceID] = state
		merged = state
		c.notifyLocked(deviceID, state)
	})
	return merged, nil
}

// completeModeCommand injects the cached target temperature into a
// mode change that needs one but did not carry one. Fan-only mode
// takes no temperature.
func (c *Controller) completeModeCommand(cmd *Command, state DeviceState) {
	if cmd.Mode == nil || !modeRequiresTemperature(cmd.Mode.Value) {
		return
	}
	if cmd.Mode.TargetTemperature != nil || cmd.TargetTemperature != nil {
		return
	}
	temp, err := parseTemp(state.TargetTemperature)
	if err != nil {
		c.log.Warn("cached target temperature unusable", zap.Error(err))
		return
	}
	cmd.Mode.TargetTemperature = &temp
}

// HandleReport merges an inbound broker report into the cache. Runs on
// the broker read loop, so the merge is enqueued rather than applied
// inline. Any inbound message counts as a liveness signal.
func (c *Controller) HandleReport(deviceID string, payload map[string]any) {
	op := func() {
		state, ok := c.states[deviceID]
		if !ok {
			c.log.Debug("report for unknown device dropped", zap.String("device_id", deviceID))
			return
		}
		mergeStatePayload(&state, payload)
		state.Connected = true
		c.states[deviceID] = state
		c.notifyLocked(deviceID, state)
	}
	select {
	case c.ops <- op:
	case <-c.done:
	}
}

// Close stops the ops goroutine and tears down the broker session.
// Idempotent.
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	c.client.Close()
}
