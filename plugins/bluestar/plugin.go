package bluestar

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/KakatkarAkshay/bluestar-go/internal/core"
	"github.com/KakatkarAkshay/bluestar-go/internal/session"
)

// Plugin wires the Bluestar controller into the daemon's plugin
// contract.
type Plugin struct {
	cfg        Config
	client     *Client
	controller *Controller
	log        *zap.Logger
}

func NewPlugin(cfg Config, log *zap.Logger, store session.Store) Plugin {
	client := NewClient(cfg, log, store)
	controller := NewController(client, log)
	return Plugin{cfg: cfg, client: client, controller: controller, log: log}
}

func (p Plugin) ID() string {
	return "bluestar"
}

func (p Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    "bluestar",
		DisplayName: "Bluestar Smart AC",
		Version:     "0.1.0",
		Endpoints:   []string{devicesEndpoint, stateEndpoint, commandEndpoint},
	}
}

func (p Plugin) Collectors() []prometheus.Collector {
	if p.controller == nil {
		return nil
	}
	return []prometheus.Collector{NewMetricsCollector(p.controller)}
}

func (p Plugin) Health() core.HealthStatus {
	if p.controller == nil {
		return core.HealthError
	}
	broker := p.client.Broker()
	if broker != nil && broker.State() == StateConnected {
		return core.HealthHealthy
	}
	return core.HealthDegraded
}

func (p Plugin) HealthMessage() string {
	if p.controller == nil {
		return "not configured"
	}
	broker := p.client.Broker()
	if broker == nil {
		return "broker session not established"
	}
	if state := broker.State(); state != StateConnected {
		return "broker " + state.String()
	}
	return ""
}

// Controller exposes the device facade for embedding hosts.
func (p Plugin) Controller() *Controller {
	return p.controller
}

// Run logs in, then refreshes the device catalog on an interval until
// the context is canceled. Unusable broker credentials leave the REST
// session alive with device control disabled.
func (p Plugin) Run(ctx context.Context) error {
	if err := p.client.Bootstrap(ctx); err != nil {
		if !errors.Is(err, ErrMalformedCredential) {
			return err
		}
		p.log.Warn("broker credentials unusable, device control disabled", zap.Error(err))
	}

	if err := p.controller.Refresh(ctx); err != nil {
		p.log.Warn("initial catalog refresh failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.controller.Refresh(ctx); err != nil {
				p.log.Warn("catalog refresh failed", zap.Error(err))
			}
		}
	}
}

// Close tears down the controller and broker session.
func (p Plugin) Close() {
	if p.controller != nil {
		p.controller.Close()
	}
}
