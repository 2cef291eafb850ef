package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const SchemaVersion = 1

var ErrStateNotFound = errors.New("session state not found")

// State is the persisted vendor session snapshot. Reusing the session
// token across restarts avoids re-login churn against the vendor API.
type State struct {
	SchemaVersion int    `json:"schema_version"`
	Phone         string `json:"phone"`
	SessionToken  string `json:"session_token"`
	BrokerBlob    string `json:"broker_blob,omitempty"`
	UpdatedAtMS   int64  `json:"updated_at_ms"`
}

// NewState builds a snapshot stamped with the current time.
func NewState(phone, token string) State {
	return State{
		SchemaVersion: SchemaVersion,
		Phone:         phone,
		SessionToken:  token,
		UpdatedAtMS:   time.Now().UnixMilli(),
	}
}

func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	return DecodeState(data)
}

func DecodeState(data []byte) (State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

func (s State) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %d", s.SchemaVersion)
	}
	if s.Phone == "" {
		return fmt.Errorf("state missing phone")
	}
	if s.SessionToken == "" {
		return fmt.Errorf("state missing session_token")
	}
	return nil
}

func WriteState(path string, state State) error {
	if state.SchemaVersion == 0 {
		state.SchemaVersion = SchemaVersion
	}
	if err := ensureParent(path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func ensureParent(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	return nil
}
