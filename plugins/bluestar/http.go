package bluestar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/KakatkarAkshay/bluestar-go/internal/core"
)

const (
	devicesEndpoint = "/bluestar/devices"
	stateEndpoint   = "/bluestar/state"
	commandEndpoint = "/bluestar/command"
)

var _ core.HTTPRegistrant = (*Plugin)(nil)

type commandRequest struct {
	Power             *bool    `json:"power"`
	Mode              *int     `json:"mode"`
	TargetTemperature *float64 `json:"target_temperature"`
	FanSpeed          *int     `json:"fan_speed"`
	VerticalSwing     *int     `json:"vertical_swing"`
	HorizontalSwing   *int     `json:"horizontal_swing"`
	Display           *bool    `json:"display"`
	EnergySave        *bool    `json:"energy_save"`
	Turbo             *bool    `json:"turbo"`
	Sleep             *bool    `json:"sleep"`
}

func (r commandRequest) toCommand() Command {
	cmd := Command{
		Power:             r.Power,
		TargetTemperature: r.TargetTemperature,
		FanSpeed:          r.FanSpeed,
		VerticalSwing:     r.VerticalSwing,
		HorizontalSwing:   r.HorizontalSwing,
		Display:           r.Display,
		EnergySave:        r.EnergySave,
		Turbo:             r.Turbo,
		Sleep:             r.Sleep,
	}
	if r.Mode != nil {
		cmd.Mode = &ModeCommand{Value: *r.Mode}
	}
	return cmd
}

func (p Plugin) RegisterHTTP(mux *http.ServeMux) {
	mux.HandleFunc(devicesEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if p.controller == nil {
			http.Error(w, "bluestar unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, p.controller.Devices())
	})

	mux.HandleFunc(stateEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if p.controller == nil {
			http.Error(w, "bluestar unavailable", http.StatusServiceUnavailable)
			return
		}
		deviceID := r.URL.Query().Get("device_id")
		state, err := p.controller.State(deviceID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, state)
	})

	mux.HandleFunc(commandEndpoint, func(w http.ResponseWriter, r *http.Request) {
		if p.controller == nil {
			http.Error(w, "bluestar unavailable", http.StatusServiceUnavailable)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		deviceID := r.URL.Query().Get("device_id")

		var req commandRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid command body", http.StatusBadRequest)
			return
		}
		cmd := req.toCommand()
		if cmd.IsZero() {
			http.Error(w, "empty command", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 45*time.Second)
		defer cancel()

		state, err := p.controller.ApplyCommand(ctx, deviceID, cmd)
		if err != nil {
			switch {
			case errors.Is(err, ErrUnknownDevice):
				http.Error(w, err.Error(), http.StatusNotFound)
			case errors.Is(err, ErrTransportUnavailable):
				http.Error(w, err.Error(), http.StatusBadGateway)
			default:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		writeJSON(w, state)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
