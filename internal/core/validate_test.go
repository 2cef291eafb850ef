package core

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

type stubPlugin struct {
	id       string
	manifest Manifest
}

func (p stubPlugin) ID() string                         { return p.id }
func (p stubPlugin) Manifest() Manifest                 { return p.manifest }
func (p stubPlugin) Collectors() []prometheus.Collector { return nil }
func (p stubPlugin) Health() HealthStatus               { return HealthHealthy }
func (p stubPlugin) HealthMessage() string              { return "" }

func TestValidatePlugins(t *testing.T) {
	good := stubPlugin{id: "bluestar", manifest: Manifest{PluginID: "bluestar"}}

	assert.NoError(t, ValidatePlugins([]Plugin{good}))

	assert.Error(t, ValidatePlugins([]Plugin{stubPlugin{}}), "empty id")
	assert.Error(t, ValidatePlugins([]Plugin{stubPlugin{id: "Bad-ID", manifest: Manifest{PluginID: "Bad-ID"}}}))
	assert.Error(t, ValidatePlugins([]Plugin{stubPlugin{id: "bluestar", manifest: Manifest{PluginID: "other"}}}))
	assert.Error(t, ValidatePlugins([]Plugin{good, good}), "duplicate id")
}
