package infra

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundleFiles(t *testing.T) {
	assert.Equal(t, []string{"cluster.env", "istio-token", "mesh.yaml", "root-cert.pem", "hosts"}, bundleFiles)
}

func TestWorkloadDir(t *testing.T) {
	assert.Equal(t, filepath.Join("workloads", "test"), workloadDir("workloads", "test"))
}

func TestRenderWorkloadGroupDeterministic(t *testing.T) {
	first := renderWorkloadGroup("test", "onprem", "test", "vm-network")
	second := renderWorkloadGroup("test", "onprem", "test", "vm-network")
	assert.Equal(t, first, second)
}

func TestRenderWorkloadGroupFields(t *testing.T) {
	out := renderWorkloadGroup("test", "onprem", "test-sa", "vm-network")

	assert.Contains(t, out, "kind: WorkloadGroup")
	assert.Contains(t, out, "name: test\n")
	assert.Contains(t, out, "namespace: onprem")
	assert.Contains(t, out, "serviceAccount: test-sa")
	assert.Contains(t, out, "network: vm-network")
}

func TestRenderBundleCommand(t *testing.T) {
	cmd := renderBundleCommand("workloads/test/workloadgroup.yaml", "workloads/test", "gas-mesh-gke")

	assert.Contains(t, cmd, "istioctl x workload entry configure")
	assert.Contains(t, cmd, "-f workloads/test/workloadgroup.yaml")
	assert.Contains(t, cmd, "-o workloads/test")
	assert.Contains(t, cmd, "--clusterID gas-mesh-gke")
	assert.Contains(t, cmd, "--autoregister")
}

func TestRenderDockerInstallScriptIdempotent(t *testing.T) {
	script := renderDockerInstallScript()

	// The install must be a no-op when Docker is already present.
	assert.Contains(t, script, "command -v docker")
	assert.Contains(t, script, "get.docker.com")
	assert.Contains(t, script, "timeout 300")
}

func TestRenderWorkloadRunScriptReplacesExisting(t *testing.T) {
	script := renderWorkloadRunScript("test", "gcr.io/google-samples/hello-app:1.0", 8080)

	rm := strings.Index(script, "docker rm -f test")
	run := strings.Index(script, "docker run -d --name test")
	require.GreaterOrEqual(t, rm, 0)
	require.GreaterOrEqual(t, run, 0)
	assert.Less(t, rm, run, "existing container must be removed before launching the replacement")
	assert.Contains(t, script, "-p 8080:8080")
	assert.Contains(t, script, "gcr.io/google-samples/hello-app:1.0")
}

func TestRenderWorkloadStopScript(t *testing.T) {
	script := renderWorkloadStopScript("test")

	assert.Contains(t, script, "docker rm -f test")
	assert.Contains(t, script, "|| true")
}

func TestRenderSidecarSetupScriptPlacesBundle(t *testing.T) {
	script := renderSidecarSetupScript("1.17.2")

	assert.Contains(t, script, "releases/1.17.2/deb/istio-sidecar.deb")
	for _, file := range bundleFiles {
		assert.Contains(t, script, file, "sidecar setup must reference every bundle file")
	}
	assert.Contains(t, script, "/etc/certs/root-cert.pem")
	assert.Contains(t, script, "/var/run/secrets/tokens/istio-token")
	assert.Contains(t, script, "/var/lib/istio/envoy/cluster.env")
	assert.Contains(t, script, "/etc/istio/config/mesh")
	assert.Contains(t, script, "chown -R istio-proxy")
	assert.Contains(t, script, "systemctl start istio")
}

func TestRenderSidecarSetupScriptBoundsSlowSteps(t *testing.T) {
	script := renderSidecarSetupScript("1.17.2")

	// Both the download and the package install can hang (network, dpkg lock);
	// each runs under a time bound so the step fails instead of stalling forever.
	assert.Contains(t, script, "timeout 300 curl -fsLO")
	assert.Contains(t, script, "timeout 300 sudo dpkg -i istio-sidecar.deb")
}

func TestRenderSidecarSetupScriptHostsMergeIsRepeatable(t *testing.T) {
	script := renderSidecarSetupScript("1.17.2")

	// The marker block is deleted before re-appending so reruns do not duplicate entries.
	del := strings.Index(script, "sed -i")
	app := strings.Index(script, "tee -a /etc/hosts < hosts")
	require.GreaterOrEqual(t, del, 0)
	require.GreaterOrEqual(t, app, 0)
	assert.Less(t, del, app)
	assert.Contains(t, script, "# mesh hosts begin")
	assert.Contains(t, script, "# mesh hosts end")
}
