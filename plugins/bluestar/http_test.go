package bluestar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestPluginMux(t *testing.T) (*http.ServeMux, *Controller) {
	t.Helper()
	stub := &vendorStub{things: oneDeviceCatalog}
	srv := httptest.NewServer(stub)
	t.Cleanup(srv.Close)

	client, _ := newTestClient(t, srv.URL, nil)
	ctrl := NewController(client, zaptest.NewLogger(t))
	t.Cleanup(ctrl.Close)
	require.NoError(t, client.Login(context.Background()))
	require.NoError(t, ctrl.Refresh(context.Background()))

	p := Plugin{client: client, controller: ctrl, log: zaptest.NewLogger(t)}
	mux := http.NewServeMux()
	p.RegisterHTTP(mux)
	return mux, ctrl
}

func TestHTTPDevices(t *testing.T) {
	mux, _ := newTestPluginMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, devicesEndpoint, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var devices []Device
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "ac1", devices[0].ID)
}

func TestHTTPState(t *testing.T) {
	mux, _ := newTestPluginMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, stateEndpoint+"?device_id=ac1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var state DeviceState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "23.0", state.TargetTemperature)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, stateEndpoint+"?device_id=nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPCommand(t *testing.T) {
	mux, ctrl := newTestPluginMux(t)

	body := strings.NewReader(`{"power":true,"mode":2,"target_temperature":22.5}`)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, commandEndpoint+"?device_id=ac1", body))

	require.Equal(t, http.StatusOK, rec.Code)
	var state DeviceState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.True(t, state.Power)
	assert.Equal(t, ModeCool, state.Mode)
	assert.Equal(t, "22.5", state.TargetTemperature)

	cached, err := ctrl.State("ac1")
	require.NoError(t, err)
	assert.Equal(t, state, cached)
}

func TestHTTPCommandRejectsBadInput(t *testing.T) {
	mux, _ := newTestPluginMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, commandEndpoint+"?device_id=ac1", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, commandEndpoint+"?device_id=ac1", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, commandEndpoint+"?device_id=ghost", strings.NewReader(`{"power":true}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
