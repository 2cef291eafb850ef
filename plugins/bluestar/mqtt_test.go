package bluestar

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeToken struct{ err error }

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishRecord struct {
	topic   string
	payload []byte
}

// fakeClient stands in for the paho client. Connect fires the
// configured OnConnect callback synchronously on success.
type fakeClient struct {
	mu           sync.Mutex
	opts         *mqtt.ClientOptions
	connectCalls int
	connectErr   error
	connected    bool
	published    []publishRecord
	subscribed   []string
}

func (f *fakeClient) factory(opts *mqtt.ClientOptions) mqtt.Client {
	f.mu.Lock()
	f.opts = opts
	f.mu.Unlock()
	return f
}

func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	f.connectCalls++
	err := f.connectErr
	opts := f.opts
	if err == nil {
		f.connected = true
	}
	f.mu.Unlock()

	if err != nil {
		return fakeToken{err: err}
	}
	if opts != nil && opts.OnConnect != nil {
		opts.OnConnect(f)
	}
	return fakeToken{}
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	data, _ := payload.([]byte)
	f.mu.Lock()
	f.published = append(f.published, publishRecord{topic: topic, payload: data})
	f.mu.Unlock()
	return fakeToken{}
}

func (f *fakeClient) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	f.subscribed = append(f.subscribed, topic)
	f.mu.Unlock()
	return fakeToken{}
}

func (f *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return fakeToken{}
}

func (f *fakeClient) Unsubscribe(...string) mqtt.Token        { return fakeToken{} }
func (f *fakeClient) AddRoute(string, mqtt.MessageHandler)    {}
func (f *fakeClient) IsConnectionOpen() bool                  { return f.IsConnected() }
func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) options() *mqtt.ClientOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opts
}

func (f *fakeClient) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

func (f *fakeClient) subscribedTopics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}

func (f *fakeClient) publishedRecords() []publishRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishRecord(nil), f.published...)
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func testCreds() Credentials {
	return Credentials{
		Endpoint:     "ep.iot.ap-south-1.amazonaws.com",
		AccessKey:    "AK",
		SecretKey:    "SK",
		SessionToken: "tok",
		SessionID:    "S1",
	}
}

func newTestBroker(t *testing.T, fake *fakeClient, onState func(string, map[string]any)) *Broker {
	t.Helper()
	b := NewBroker(testCreds(), zaptest.NewLogger(t), onState)
	b.newClient = fake.factory
	b.sleep = func(time.Duration) {}
	b.now = func() time.Time { return signTime }
	return b
}

func TestReconnectDelay(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, reconnectDelay(tc.failures), "failures=%d", tc.failures)
	}
}

func TestRegionFromEndpoint(t *testing.T) {
	assert.Equal(t, "ap-south-1", regionFromEndpoint("a1b2.iot.ap-south-1.amazonaws.com"))
	assert.Equal(t, "eu-west-1", regionFromEndpoint("x.iot.eu-west-1.amazonaws.com"))
	assert.Equal(t, "ap-south-1", regionFromEndpoint("weird-host"))
}

func TestBrokerConnect(t *testing.T) {
	fake := &fakeClient{}
	b := newTestBroker(t, fake, nil)

	require.True(t, b.Connect())
	assert.Equal(t, StateConnected, b.State())
	assert.Equal(t, 1, fake.connectCount())
}

func TestBrokerConnectFailure(t *testing.T) {
	fake := &fakeClient{connectErr: errors.New("dial refused")}
	b := newTestBroker(t, fake, nil)

	assert.False(t, b.Connect())
	assert.Equal(t, StateDisconnected, b.State())
	assert.Equal(t, 1, b.failures)
}

func TestEnsureConnectedSingleFlight(t *testing.T) {
	fake := &fakeClient{}
	b := newTestBroker(t, fake, nil)

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = b.EnsureConnected()
		}(i)
	}
	wg.Wait()

	assert.True(t, results[0])
	assert.True(t, results[1])
	assert.Equal(t, 1, fake.connectCount())
}

func TestEnsureConnectedSleepsBackoff(t *testing.T) {
	fake := &fakeClient{}
	b := newTestBroker(t, fake, nil)
	b.failures = 3

	var slept []time.Duration
	b.sleep = func(d time.Duration) { slept = append(slept, d) }

	require.True(t, b.EnsureConnected())
	require.NotEmpty(t, slept)
	assert.Equal(t, 8*time.Second, slept[0])
}

func TestSubscribeTopicsAndResubscribeAfterConnect(t *testing.T) {
	fake := &fakeClient{}
	b := newTestBroker(t, fake, nil)

	// Tracked while disconnected, subscribed on connect.
	assert.False(t, b.Subscribe("ac1"))
	require.True(t, b.Connect())

	assert.ElementsMatch(t, []string{
		"things/ac1/state/reported",
		"$aws/things/ac1/shadow/get/accepted",
	}, fake.subscribedTopics())
}

func TestReconnectResubscribes(t *testing.T) {
	fake := &fakeClient{}
	b := newTestBroker(t, fake, nil)
	require.True(t, b.Connect())
	require.True(t, b.Subscribe("ac1"))

	fake.options().OnConnectionLost(fake, errors.New("read: connection reset"))

	assert.Eventually(t, func() bool {
		return b.State() == StateConnected && fake.connectCount() == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, len(fake.subscribedTopics()), 4)
}

func TestPublishShadowEnvelope(t *testing.T) {
	fake := &fakeClient{}
	b := newTestBroker(t, fake, nil)
	require.True(t, b.Connect())

	require.True(t, b.Publish("ac1", map[string]any{"pow": 1, "src": "anmq", "ts": int64(5)}))

	records := fake.publishedRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "$aws/things/ac1/shadow/update", records[0].topic)

	var envelope map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(records[0].payload, &envelope))
	assert.Equal(t, float64(1), envelope["state"]["desired"]["pow"])
	assert.Equal(t, "anmq", envelope["state"]["desired"]["src"])
}

func TestRequestState(t *testing.T) {
	fake := &fakeClient{}
	b := newTestBroker(t, fake, nil)
	require.True(t, b.Connect())

	require.True(t, b.RequestState("ac1"))

	records := fake.publishedRecords()
	require.Len(t, records, 1)
	assert.Equal(t, "$aws/things/ac1/shadow/get", records[0].topic)
	assert.Empty(t, records[0].payload)
}

func TestPublishWhileDisconnected(t *testing.T) {
	fake := &fakeClient{}
	b := newTestBroker(t, fake, nil)

	assert.False(t, b.Publish("ac1", map[string]any{"pow": 1}))
	assert.Empty(t, fake.publishedRecords())
}

func TestDisconnectStopsReconnect(t *testing.T) {
	fake := &fakeClient{}
	b := newTestBroker(t, fake, nil)
	require.True(t, b.Connect())

	b.Disconnect()
	b.Disconnect()

	assert.Equal(t, StateDisconnected, b.State())
	assert.False(t, b.EnsureConnected())
	assert.Equal(t, 1, fake.connectCount())
}

func TestRouteMessageStateReported(t *testing.T) {
	deviceID, payload, ok := routeMessage("things/ac1/state/reported", []byte(`{"pow":1,"stemp":"24.0"}`))
	require.True(t, ok)
	assert.Equal(t, "ac1", deviceID)
	assert.Equal(t, "24.0", payload["stemp"])
}

func TestRouteMessageShadowGetAccepted(t *testing.T) {
	raw := []byte(`{"state":{"desired":{"pow":1},"reported":{"pow":0}}}`)
	deviceID, payload, ok := routeMessage("$aws/things/ac1/shadow/get/accepted", raw)
	require.True(t, ok)
	assert.Equal(t, "ac1", deviceID)
	assert.Equal(t, float64(1), payload["pow"], "desired wins over reported")

	raw = []byte(`{"state":{"reported":{"pow":0}}}`)
	_, payload, ok = routeMessage("$aws/things/ac1/shadow/get/accepted", raw)
	require.True(t, ok)
	assert.Equal(t, float64(0), payload["pow"])
}

func TestRouteMessageRejectsUnknownAndMalformed(t *testing.T) {
	_, _, ok := routeMessage("things/ac1/state/reported", []byte("{not json"))
	assert.False(t, ok)

	_, _, ok = routeMessage("$aws/things/ac1/shadow/get/accepted", []byte(`{"state":{}}`))
	assert.False(t, ok)

	_, _, ok = routeMessage("some/other/topic", []byte("{}"))
	assert.False(t, ok)
}

func TestHandleMessageRoutesToCallback(t *testing.T) {
	var (
		mu      sync.Mutex
		gotID   string
		payload map[string]any
	)
	fake := &fakeClient{}
	b := newTestBroker(t, fake, func(id string, p map[string]any) {
		mu.Lock()
		defer mu.Unlock()
		gotID = id
		payload = p
	})

	b.handleMessage(fake, fakeMessage{topic: "things/ac1/state/reported", payload: []byte(`{"pow":1}`)})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "ac1", gotID)
	assert.Equal(t, float64(1), payload["pow"])
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	called := false
	fake := &fakeClient{}
	b := newTestBroker(t, fake, func(string, map[string]any) { called = true })

	b.handleMessage(fake, fakeMessage{topic: "things/ac1/state/reported", payload: []byte("garbage")})

	assert.False(t, called)
}
