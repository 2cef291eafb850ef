package bluestar

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector exposes cached device state as Prometheus gauges.
// It reads the controller cache only, never the network.
type MetricsCollector struct {
	controller *Controller

	brokerState *prometheus.GaugeVec

	power       *prometheus.GaugeVec
	mode        *prometheus.GaugeVec
	targetTemp  *prometheus.GaugeVec
	currentTemp *prometheus.GaugeVec
	fanSpeed    *prometheus.GaugeVec
	connected   *prometheus.GaugeVec
	rssi        *prometheus.GaugeVec
	errorCode   *prometheus.GaugeVec
	lastUpdate  *prometheus.GaugeVec
}

func NewMetricsCollector(controller *Controller) *MetricsCollector {
	labels := []string{"device_id", "device_name"}
	return &MetricsCollector{
		controller: controller,
		brokerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluestar_broker_connection_state",
			Help: "Broker connection state (label, 1=current)",
		}, []string{"state"}),
		power: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluestar_power_on",
			Help: "Whether the unit is powered on (1=yes, 0=no)",
		}, labels),
		mode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluestar_hvac_mode",
			Help: "HVAC mode wire value",
		}, labels),
		targetTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluestar_target_temperature_celsius",
			Help: "Target temperature (celsius)",
		}, labels),
		currentTemp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluestar_current_temperature_celsius",
			Help: "Reported room temperature (celsius)",
		}, labels),
		fanSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluestar_fan_speed",
			Help: "Fan speed wire value",
		}, labels),
		connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluestar_device_connected",
			Help: "Whether the device has reported recently (1=yes, 0=no)",
		}, labels),
		rssi: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluestar_signal_strength_dbm",
			Help: "Device WiFi signal strength (dBm)",
		}, labels),
		errorCode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluestar_error_code",
			Help: "Device error code (0=none)",
		}, labels),
		lastUpdate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bluestar_last_update_timestamp_seconds",
			Help: "Last state update timestamp (seconds since epoch)",
		}, labels),
	}
}

func (c *MetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	c.brokerState.Describe(ch)
	c.power.Describe(ch)
	c.mode.Describe(ch)
	c.targetTemp.Describe(ch)
	c.currentTemp.Describe(ch)
	c.fanSpeed.Describe(ch)
	c.connected.Describe(ch)
	c.rssi.Describe(ch)
	c.errorCode.Describe(ch)
	c.lastUpdate.Describe(ch)
}

func (c *MetricsCollector) Collect(ch chan<- prometheus.Metric) {
	c.brokerState.Reset()
	state := StateDisconnected
	if broker := c.controller.client.Broker(); broker != nil {
		state = broker.State()
	}
	c.brokerState.With(prometheus.Labels{"state": state.String()}).Set(1)

	c.power.Reset()
	c.mode.Reset()
	c.targetTemp.Reset()
	c.currentTemp.Reset()
	c.fanSpeed.Reset()
	c.connected.Reset()
	c.rssi.Reset()
	c.errorCode.Reset()
	c.lastUpdate.Reset()

	for _, dev := range c.controller.Devices() {
		st, err := c.controller.State(dev.ID)
		if err != nil {
			continue
		}
		labels := prometheus.Labels{"device_id": dev.ID, "device_name": dev.Name}
		c.power.With(labels).Set(float64(boolToInt(st.Power)))
		c.mode.With(labels).Set(float64(st.Mode))
		if v, err := parseTemp(st.TargetTemperature); err == nil {
			c.targetTemp.With(labels).Set(v)
		}
		if v, err := parseTemp(st.CurrentTemperature); err == nil {
			c.currentTemp.With(labels).Set(v)
		}
		c.fanSpeed.With(labels).Set(float64(st.FanSpeed))
		c.connected.With(labels).Set(float64(boolToInt(st.Connected)))
		c.rssi.With(labels).Set(float64(st.SignalStrength))
		c.errorCode.With(labels).Set(float64(st.ErrorCode))
		if st.LastUpdateMS > 0 {
			c.lastUpdate.With(labels).Set(float64(st.LastUpdateMS) / 1000)
		}
	}

	c.brokerState.Collect(ch)
	c.power.Collect(ch)
	c.mode.Collect(ch)
	c.targetTemp.Collect(ch)
	c.currentTemp.Collect(ch)
	c.fanSpeed.Collect(ch)
	c.connected.Collect(ch)
	c.rssi.Collect(ch)
	c.errorCode.Collect(ch)
	c.lastUpdate.Collect(ch)
}
