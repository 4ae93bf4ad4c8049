package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	c := &Config{Project: "demo-project", Prefix: "gas"}
	c.applyDefaults()

	assert.Equal(t, "us-central1", c.Region)
	assert.Equal(t, "us-central1-a", c.Zone)
	assert.Equal(t, "e2-medium", c.MachineType)
	assert.Equal(t, "mesh1", c.MeshID)
	assert.Equal(t, "network1", c.ClusterNetwork)
	assert.Equal(t, "vm-network", c.VMNetwork)
	assert.Equal(t, "1.17.2", c.IstioVersion)
	assert.Equal(t, "test", c.WorkloadName)
	assert.Equal(t, "onprem", c.WorkloadNamespace)
	assert.Equal(t, 8080, c.WorkloadPort)
	assert.Equal(t, "workloads", c.WorkloadsDir)
	require.NoError(t, c.validate())
}

func TestConfigZoneDerivedFromRegion(t *testing.T) {
	c := &Config{Project: "demo-project", Prefix: "gas", Region: "europe-west6"}
	c.applyDefaults()

	assert.Equal(t, "europe-west6-a", c.Zone)
}

func TestConfigExplicitValuesKept(t *testing.T) {
	c := &Config{
		Project:           "demo-project",
		Prefix:            "gas",
		Zone:              "us-central1-f",
		WorkloadName:      "vmapp",
		WorkloadNamespace: "edge",
	}
	c.applyDefaults()

	assert.Equal(t, "us-central1-f", c.Zone)
	assert.Equal(t, "vmapp", c.WorkloadName)
	assert.Equal(t, "edge", c.WorkloadNamespace)
}

func TestConfigValidateRequiresProject(t *testing.T) {
	c := &Config{Prefix: "gas"}
	c.applyDefaults()

	err := c.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcp:project")
}

func TestConfigValidateRequiresPrefix(t *testing.T) {
	c := &Config{Project: "demo-project"}
	c.applyDefaults()

	err := c.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Prefix")
}

func TestConfigValidateRejectsLongPrefix(t *testing.T) {
	c := &Config{Project: "demo-project", Prefix: "toolong"}
	c.applyDefaults()

	err := c.validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "toolong")
}
