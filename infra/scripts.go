package infra

import (
	"fmt"
	"path/filepath"
)

// bundleFiles is the exact artifact set istioctl expands a WorkloadGroup into.
// Every file must exist locally before any remote copy runs.
var bundleFiles = []string{
	"cluster.env",
	"istio-token",
	"mesh.yaml",
	"root-cert.pem",
	"hosts",
}

const workloadGroupFileName = "workloadgroup.yaml"

// workloadDir returns the working directory owned by one workload's join workflow.
func workloadDir(base, name string) string {
	return filepath.Join(base, name)
}

// renderWorkloadGroup renders the mesh-side workload descriptor. istioctl expands
// it into the bootstrap bundle, so the bytes must be stable across runs.
func renderWorkloadGroup(name, namespace, serviceAccount, network string) string {
	return fmt.Sprintf(`apiVersion: networking.istio.io/v1alpha3
kind: WorkloadGroup
metadata:
  name: %s
  namespace: %s
spec:
  metadata:
    labels:
      app: %s
  template:
    serviceAccount: %s
    network: %s
`, name, namespace, name, serviceAccount, network)
}

// renderBundleCommand builds the istioctl invocation that expands the workload
// group file into the bootstrap bundle inside the working directory.
func renderBundleCommand(workloadGroupFile, outDir, clusterID string) string {
	return fmt.Sprintf("istioctl x workload entry configure -f %s -o %s --clusterID %s --autoregister",
		workloadGroupFile, outDir, clusterID)
}

// renderDockerInstallScript installs Docker on the VM. Safe to re-run: the install
// is skipped when the binary is already present.
func renderDockerInstallScript() string {
	return `set -e
if ! command -v docker >/dev/null 2>&1; then
  timeout 300 sh -c 'curl -fsSL https://get.docker.com | sudo sh'
fi
sudo systemctl enable --now docker
`
}

// renderWorkloadRunScript starts the demo workload container, replacing any
// previous instance of the same name.
func renderWorkloadRunScript(name, image string, port int) string {
	return fmt.Sprintf(`set -e
sudo docker rm -f %s >/dev/null 2>&1 || true
timeout 300 sudo docker run -d --name %s -p %d:%d %s
`, name, name, port, port, image)
}

// renderWorkloadStopScript removes the workload container on teardown.
func renderWorkloadStopScript(name string) string {
	return fmt.Sprintf("sudo docker rm -f %s >/dev/null 2>&1 || true\n", name)
}

// renderSidecarSetupScript installs the Istio sidecar package, places the bundle
// files where the proxy expects them, merges the mesh hosts into /etc/hosts
// (replacing any previous marker block), and starts the proxy.
func renderSidecarSetupScript(istioVersion string) string {
	return fmt.Sprintf(`set -e
cd "$HOME"
timeout 300 curl -fsLO https://storage.googleapis.com/istio-release/releases/%s/deb/istio-sidecar.deb
timeout 300 sudo dpkg -i istio-sidecar.deb
sudo mkdir -p /etc/certs /var/run/secrets/tokens /var/lib/istio/envoy /etc/istio/config /etc/istio/proxy
sudo cp root-cert.pem /etc/certs/root-cert.pem
sudo cp istio-token /var/run/secrets/tokens/istio-token
sudo cp cluster.env /var/lib/istio/envoy/cluster.env
sudo cp mesh.yaml /etc/istio/config/mesh
sudo sed -i '/^# mesh hosts begin$/,/^# mesh hosts end$/d' /etc/hosts
echo '# mesh hosts begin' | sudo tee -a /etc/hosts >/dev/null
sudo tee -a /etc/hosts < hosts >/dev/null
echo '# mesh hosts end' | sudo tee -a /etc/hosts >/dev/null
sudo chown -R istio-proxy /etc/certs /var/run/secrets/tokens /var/lib/istio /etc/istio
sudo systemctl start istio
`, istioVersion)
}
