package bluestar

// HVAC mode wire values. These are firmware-dependent; the values below
// match current Bluesmart firmware builds.
const (
	ModeFan  = 0
	ModeCool = 2
	ModeDry  = 3
	ModeAuto = 4
)

// Fan speed wire values.
const (
	FanLow    = 2
	FanMedium = 3
	FanHigh   = 4
	FanTurbo  = 6
	FanAuto   = 7
)

// Device is one entry from the vendor device catalog.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DeviceState is the cached shadow state for one device. Mutations are
// serialized through the Controller; callers get copies.
type DeviceState struct {
	Power              bool   `json:"power"`
	Mode               int    `json:"mode"`
	TargetTemperature  string `json:"target_temperature"`
	CurrentTemperature string `json:"current_temperature"`
	FanSpeed           int    `json:"fan_speed"`
	VerticalSwing      int    `json:"vertical_swing"`
	HorizontalSwing    int    `json:"horizontal_swing"`
	DisplayOn          bool   `json:"display_on"`
	EnergySave         bool   `json:"energy_save"`
	Turbo              bool   `json:"turbo"`
	Sleep              bool   `json:"sleep"`
	Connected          bool   `json:"connected"`
	SignalStrength     int    `json:"signal_strength"`
	ErrorCode          int    `json:"error_code"`
	LastUpdateSource   string `json:"last_update_source"`
	LastUpdateMS       int64  `json:"last_update_ms"`
}

func defaultDeviceState() DeviceState {
	return DeviceState{
		Power:              false,
		Mode:               ModeCool,
		TargetTemperature:  "24",
		CurrentTemperature: "27.5",
		FanSpeed:           FanLow,
		VerticalSwing:      0,
		HorizontalSwing:    0,
		DisplayOn:          true,
		Connected:          false,
		SignalStrength:     -45,
	}
}

type loginRequest struct {
	AuthID   string `json:"auth_id"`
	AuthType int    `json:"auth_type"`
	Password string `json:"password"`
}

type loginResponse struct {
	Session string `json:"session"`
	MI      string `json:"mi"`
	User    struct {
		Name string `json:"name"`
	} `json:"user"`
}

type thingsResponse struct {
	Things []struct {
		ThingID    string `json:"thing_id"`
		UserConfig struct {
			Name string `json:"name"`
		} `json:"user_config"`
	} `json:"things"`
	States map[string]map[string]any `json:"states"`
}
