package infra

import (
	"fmt"

	"github.com/pulumi/pulumi-command/sdk/go/command/local"
	"github.com/pulumi/pulumi-gcp/sdk/v6/go/gcp/container"
	"github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// KubeconfigPath is the fixed local path the generated kubeconfig is written to.
// The CLI driver exports it as KUBECONFIG so out-of-band tooling (istioctl) talks
// to the same cluster the stack created.
const KubeconfigPath = "kubeconfig"

type clusterResources struct {
	Name     string
	Cluster  *container.Cluster
	NodePool *container.NodePool
	Provider *kubernetes.Provider
	// KubeconfigCmd writes the kubeconfig to KubeconfigPath; resources that shell
	// out to local tooling depend on it.
	KubeconfigCmd pulumi.Resource
}

func provisionCluster(ctx *pulumi.Context, cfg *Config, project *projectResources, net *networkResources) (*clusterResources, error) {
	gkeClusterName := fmt.Sprintf("%s-mesh-gke", cfg.Prefix)

	// Create GKE Cluster. IP aliasing over the subnet's secondary ranges is required
	// for pod addresses the VM can route to directly.
	gcpGKECluster, err := container.NewCluster(ctx, gkeClusterName, &container.ClusterArgs{
		Project:               pulumi.String(cfg.Project),
		Name:                  pulumi.String(gkeClusterName),
		Network:               net.Network.ID(),
		Subnetwork:            net.Subnetwork.ID(),
		Location:              pulumi.String(cfg.Zone),
		RemoveDefaultNodePool: pulumi.Bool(true),
		InitialNodeCount:      pulumi.Int(1),
		IpAllocationPolicy: &container.ClusterIpAllocationPolicyArgs{
			ClusterSecondaryRangeName:  pulumi.String(podsRangeName),
			ServicesSecondaryRangeName: pulumi.String(servicesRangeName),
		},
		MasterAuthorizedNetworksConfig: &container.ClusterMasterAuthorizedNetworksConfigArgs{
			CidrBlocks: &container.ClusterMasterAuthorizedNetworksConfigCidrBlockArray{
				&container.ClusterMasterAuthorizedNetworksConfigCidrBlockArgs{
					CidrBlock:   pulumi.String("0.0.0.0/0"),
					DisplayName: pulumi.String("Global Public Access"),
				},
			},
		},
		WorkloadIdentityConfig: &container.ClusterWorkloadIdentityConfigArgs{
			WorkloadPool: pulumi.String(fmt.Sprintf("%s.svc.id.goog", cfg.Project)),
		},
	}, pulumi.DependsOn(project.Services))
	if err != nil {
		return nil, err
	}

	// Create GKE Node Pool
	resourceName := fmt.Sprintf("%s-mesh-gke-np-01", cfg.Prefix)
	gcpGKENodePool, err := container.NewNodePool(ctx, resourceName, &container.NodePoolArgs{
		Cluster:   gcpGKECluster.ID(),
		Name:      pulumi.String(resourceName),
		NodeCount: pulumi.Int(1),
		NodeConfig: &container.NodePoolNodeConfigArgs{
			Preemptible:    pulumi.Bool(false),
			MachineType:    pulumi.String("e2-standard-4"),
			ServiceAccount: project.ServiceAccount.Email,
			OauthScopes: pulumi.StringArray{
				pulumi.String("https://www.googleapis.com/auth/cloud-platform"),
			},
		},
		Autoscaling: &container.NodePoolAutoscalingArgs{
			LocationPolicy: pulumi.String("BALANCED"),
			MaxNodeCount:   pulumi.Int(5),
			MinNodeCount:   pulumi.Int(1),
		},
	})
	if err != nil {
		return nil, err
	}

	kubeconfig := generateKubeconfig(gcpGKECluster.Name, gcpGKECluster.Endpoint,
		gcpGKECluster.MasterAuth.ClusterCaCertificate().Elem())

	// Create the Kubernetes provider from the generated kubeconfig.
	resourceName = fmt.Sprintf("%s-kubeconfig", gkeClusterName)
	k8sProvider, err := kubernetes.NewProvider(ctx, resourceName, &kubernetes.ProviderArgs{
		Kubeconfig: kubeconfig,
	}, pulumi.DependsOn([]pulumi.Resource{gcpGKENodePool}))
	if err != nil {
		return nil, err
	}

	// Persist the kubeconfig for local tooling; removed again on destroy.
	resourceName = fmt.Sprintf("%s-local-cmd-write-kubeconfig", cfg.Prefix)
	kubeconfigCmd, err := local.NewCommand(ctx, resourceName, &local.CommandArgs{
		Create: pulumi.Sprintf("cat > %s && chmod 600 %s", KubeconfigPath, KubeconfigPath),
		Update: pulumi.Sprintf("cat > %s && chmod 600 %s", KubeconfigPath, KubeconfigPath),
		Delete: pulumi.Sprintf("rm -f %s", KubeconfigPath),
		Stdin:  kubeconfig,
	}, pulumi.DependsOn([]pulumi.Resource{gcpGKENodePool}))
	if err != nil {
		return nil, err
	}

	return &clusterResources{
		Name:          gkeClusterName,
		Cluster:       gcpGKECluster,
		NodePool:      gcpGKENodePool,
		Provider:      k8sProvider,
		KubeconfigCmd: kubeconfigCmd,
	}, nil
}

// generateKubeconfig renders a kubeconfig for the cluster that authenticates via
// the gke-gcloud-auth-plugin.
func generateKubeconfig(clusterName, clusterEndpoint, clusterCaCertificate pulumi.StringInput) pulumi.StringOutput {
	context := pulumi.Sprintf("%s", clusterName)

	return pulumi.Sprintf(`apiVersion: v1
clusters:
- cluster:
    certificate-authority-data: %s
    server: https://%s
  name: %s
contexts:
- context:
    cluster: %s
    user: %s
  name: %s
current-context: %s
kind: Config
preferences: {}
users:
- name: %s
  user:
    exec:
      apiVersion: client.authentication.k8s.io/v1beta1
      command: gke-gcloud-auth-plugin
      installHint: Install gke-gcloud-auth-plugin for use with kubectl by following
        https://cloud.google.com/blog/products/containers-kubernetes/kubectl-auth-changes-in-gke
      provideClusterInfo: true
`,
		clusterCaCertificate,
		clusterEndpoint, context, context, context, context, context, context)
}
