package infra

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pulumi/pulumi-gcp/sdk/v6/go/gcp/compute"
	"github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgramFailsFastWithoutConfiguration(t *testing.T) {
	// No stack config at all: validation must fail before any resource is declared.
	err := pulumi.RunErr(Program, pulumi.WithMocks("istio-vm-mesh", "demo", mocks(0)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[CONFIGURATION]")
}

func TestProvisionDeclaresFullStack(t *testing.T) {
	tmp := t.TempDir()

	cfg := &Config{Project: "demo-project", Prefix: "gas"}
	cfg.applyDefaults()
	cfg.WorkloadsDir = tmp

	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		return Provision(ctx, cfg)
	}, pulumi.WithMocks("istio-vm-mesh", "demo", mocks(0)))
	require.NoError(t, err)

	// The workload workflow ran far enough to snapshot the resolved address.
	assert.Eventually(t, func() bool {
		_, err := os.Stat(filepath.Join(tmp, "test", "hostname"))
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestProvisionNetworkSecondaryRanges(t *testing.T) {
	cfg := &Config{Project: "demo-project", Prefix: "gas"}
	cfg.applyDefaults()

	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		net, err := provisionNetwork(ctx, cfg, &projectResources{})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(1)
		net.Subnetwork.SecondaryIpRanges.ApplyT(func(ranges []compute.SubnetworkSecondaryIpRange) int {
			defer wg.Done()
			require.Len(t, ranges, 2)
			assert.Equal(t, podsRangeName, ranges[0].RangeName)
			assert.Equal(t, servicesRangeName, ranges[1].RangeName)
			return 0
		})
		wg.Wait()
		return nil
	}, pulumi.WithMocks("istio-vm-mesh", "demo", mocks(0)))
	require.NoError(t, err)
}

func TestProvisionIstioMultiNetworkValues(t *testing.T) {
	cfg := &Config{Project: "demo-project", Prefix: "gas"}
	cfg.applyDefaults()

	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		provider, err := kubernetes.NewProvider(ctx, "test-k8s", &kubernetes.ProviderArgs{})
		require.NoError(t, err)

		mesh, err := provisionIstio(ctx, cfg, provider, "gas-mesh-gke")
		require.NoError(t, err)
		require.NotNil(t, mesh.EastWestGateway)
		require.NotNil(t, mesh.CrossNetworkGateway)

		var wg sync.WaitGroup
		wg.Add(2)

		mesh.Istiod.Values.ApplyT(func(values map[string]interface{}) int {
			defer wg.Done()
			global, ok := values["global"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, "mesh1", global["meshID"])
			assert.Equal(t, "network1", global["network"])
			return 0
		})

		mesh.EastWestGateway.Chart.ApplyT(func(chart string) int {
			defer wg.Done()
			assert.Equal(t, "gateway", chart)
			return 0
		})

		wg.Wait()
		return nil
	}, pulumi.WithMocks("istio-vm-mesh", "demo", mocks(0)))
	require.NoError(t, err)
}

func TestGenerateKubeconfig(t *testing.T) {
	err := pulumi.RunErr(func(ctx *pulumi.Context) error {
		kubeconfig := generateKubeconfig(
			pulumi.String("gas-mesh-gke"),
			pulumi.String("198.51.100.1"),
			pulumi.String("bW9jay1jYQ=="))

		var wg sync.WaitGroup
		wg.Add(1)
		kubeconfig.ApplyT(func(rendered string) int {
			defer wg.Done()
			assert.Contains(t, rendered, "server: https://198.51.100.1")
			assert.Contains(t, rendered, "certificate-authority-data: bW9jay1jYQ==")
			assert.Contains(t, rendered, "current-context: gas-mesh-gke")
			assert.Contains(t, rendered, "gke-gcloud-auth-plugin")
			return 0
		})
		wg.Wait()
		return nil
	}, pulumi.WithMocks("istio-vm-mesh", "demo", mocks(0)))
	require.NoError(t, err)
}
