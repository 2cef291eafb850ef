package bluestar

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	topicShadowUpdate      = "$aws/things/%s/shadow/update"
	topicShadowGet         = "$aws/things/%s/shadow/get"
	topicShadowGetAccepted = "$aws/things/%s/shadow/get/accepted"
	topicStateReported     = "things/%s/state/reported"

	connectTimeout    = 15 * time.Second
	connectPoll       = 250 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
)

// ConnectionState is the broker connection lifecycle state.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Broker owns one signed WebSocket session to the IoT message gateway.
// It reconnects with capped exponential backoff and resubscribes the
// tracked device set after every successful reconnect.
type Broker struct {
	creds   Credentials
	region  string
	log     *zap.Logger
	onState func(deviceID string, payload map[string]any)

	newClient func(*mqtt.ClientOptions) mqtt.Client
	sleep     func(time.Duration)
	now       func() time.Time

	mu         sync.Mutex
	client     mqtt.Client
	subscribed map[string]struct{}
	failures   int
	closed     bool

	connected atomic.Bool
	state     atomic.Int32
}

func NewBroker(creds Credentials, log *zap.Logger, onState func(string, map[string]any)) *Broker {
	return &Broker{
		creds:      creds,
		region:     regionFromEndpoint(creds.Endpoint),
		log:        log,
		onState:    onState,
		newClient:  mqtt.NewClient,
		sleep:      time.Sleep,
		now:        time.Now,
		subscribed: make(map[string]struct{}),
	}
}

// regionFromEndpoint pulls the region out of an IoT endpoint host like
// a1b2c3.iot.ap-south-1.amazonaws.com.
func regionFromEndpoint(endpoint string) string {
	parts := strings.Split(endpoint, ".")
	for i, part := range parts {
		if part == "iot" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return "ap-south-1"
}

// Connect opens the broker session and blocks until the connect
// callback fires or the timeout elapses. Ordinary connection failure
// is logged and reported as false.
func (b *Broker) Connect() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectLocked()
}

func (b *Broker) connectLocked() bool {
	if b.closed {
		return false
	}
	b.setState(StateConnecting)

	signedURL, err := SignConnectionURL(b.creds.Endpoint, b.region, b.creds.AccessKey, b.creds.SecretKey, b.creds.SessionToken, b.now())
	if err != nil {
		b.log.Warn("sign broker url failed", zap.Error(err))
		b.setState(StateDisconnected)
		b.failures++
		return false
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(signedURL)
	opts.SetClientID("u-" + b.creds.SessionID)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetDefaultPublishHandler(b.handleMessage)
	opts.OnConnect = func(_ mqtt.Client) {
		b.connected.Store(true)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		b.connected.Store(false)
		b.setState(StateDisconnected)
		b.log.Warn("broker connection lost", zap.Error(err))
		go b.EnsureConnected()
	}

	client := b.newClient(opts)
	b.client = client
	token := client.Connect()

	for elapsed := time.Duration(0); elapsed < connectTimeout; elapsed += connectPoll {
		if b.connected.Load() {
			break
		}
		if token.WaitTimeout(0) && token.Error() != nil {
			b.log.Warn("broker connect failed", zap.Error(token.Error()))
			break
		}
		b.sleep(connectPoll)
	}

	if !b.connected.Load() {
		b.failures++
		b.setState(StateDisconnected)
		client.Disconnect(0)
		return false
	}

	b.failures = 0
	b.setState(StateConnected)
	for deviceID := range b.subscribed {
		b.subscribeLocked(deviceID)
	}
	return true
}

// EnsureConnected returns immediately when connected; otherwise it
// runs one reconnect attempt. Concurrent callers block on the in-flight
// attempt instead of opening a second session.
func (b *Broker) EnsureConnected() bool {
	if b.connected.Load() {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected.Load() {
		return true
	}
	if b.closed {
		return false
	}
	b.setState(StateReconnecting)
	b.sleep(reconnectDelay(b.failures))
	return b.connectLocked()
}

// reconnectDelay is the wait before the next attempt after the given
// number of consecutive failures: min(30s, 2^failures seconds).
func reconnectDelay(failures int) time.Duration {
	if failures > 5 {
		return maxReconnectDelay
	}
	d := time.Duration(1<<uint(failures)) * time.Second
	if d > maxReconnectDelay {
		d = maxReconnectDelay
	}
	return d
}

// Subscribe registers interest in a device's report topics. The id is
// tracked for resubscription after reconnect.
func (b *Broker) Subscribe(deviceID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed[deviceID] = struct{}{}
	if !b.connected.Load() || b.client == nil {
		return false
	}
	return b.subscribeLocked(deviceID)
}

func (b *Broker) subscribeLocked(deviceID string) bool {
	ok := true
	for _, topic := range []string{
		fmt.Sprintf(topicStateReported, deviceID),
		fmt.Sprintf(topicShadowGetAccepted, deviceID),
	} {
		if token := b.client.Subscribe(topic, 0, nil); token.Wait() && token.Error() != nil {
			b.log.Warn("broker subscribe failed", zap.String("topic", topic), zap.Error(token.Error()))
			ok = false
		}
	}
	return ok
}

// RequestState asks the broker to emit the device's current shadow.
func (b *Broker) RequestState(deviceID string) bool {
	return b.publish(fmt.Sprintf(topicShadowGet, deviceID), []byte{})
}

// Publish wraps the payload in a desired-state envelope and publishes
// it to the device's shadow-update topic at QoS 0.
func (b *Broker) Publish(deviceID string, payload map[string]any) bool {
	envelope := map[string]any{"state": map[string]any{"desired": payload}}
	data, err := json.Marshal(envelope)
	if err != nil {
		b.log.Warn("encode shadow update failed", zap.String("device_id", deviceID), zap.Error(err))
		return false
	}
	return b.publish(fmt.Sprintf(topicShadowUpdate, deviceID), data)
}

func (b *Broker) publish(topic string, payload []byte) bool {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil || !b.connected.Load() {
		return false
	}
	if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
		b.log.Warn("broker publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		return false
	}
	return true
}

// Disconnect closes the session and stops further reconnects.
// Idempotent.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.connected.Store(false)
	b.setState(StateDisconnected)
	if b.client != nil {
		b.client.Disconnect(250)
		b.client = nil
	}
}

func (b *Broker) State() ConnectionState {
	return ConnectionState(b.state.Load())
}

func (b *Broker) setState(s ConnectionState) {
	b.state.Store(int32(s))
}

// handleMessage runs on paho's read loop. Malformed payloads are
// logged and dropped so a bad message never takes down the connection.
func (b *Broker) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	deviceID, payload, ok := routeMessage(msg.Topic(), msg.Payload())
	if !ok {
		b.log.Debug("dropping unroutable broker message", zap.String("topic", msg.Topic()))
		return
	}
	if b.onState != nil {
		b.onState(deviceID, payload)
	}
}

// routeMessage maps an inbound topic/payload to a device id and a flat
// state payload. Shadow-get responses prefer desired over reported.
func routeMessage(topic string, raw []byte) (string, map[string]any, bool) {
	parts := strings.Split(topic, "/")
	switch {
	case len(parts) == 4 && parts[0] == "things" && parts[2] == "state" && parts[3] == "reported":
		var payload map[string]any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return "", nil, false
		}
		return parts[1], payload, true
	case len(parts) == 6 && parts[1] == "things" && parts[4] == "get" && parts[5] == "accepted":
		var envelope struct {
			State struct {
				Desired  map[string]any `json:"desired"`
				Reported map[string]any `json:"reported"`
			} `json:"state"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return "", nil, false
		}
		if envelope.State.Desired != nil {
			return parts[2], envelope.State.Desired, true
		}
		if envelope.State.Reported != nil {
			return parts[2], envelope.State.Reported, true
		}
		return "", nil, false
	}
	return "", nil, false
}
