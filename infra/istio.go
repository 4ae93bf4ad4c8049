package infra

import (
	"fmt"

	"github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes"
	"github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/apiextensions"
	corev1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/core/v1"
	helm "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/helm/v3"
	metav1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/meta/v1"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const istioChartRepo = "https://istio-release.storage.googleapis.com/charts"

type istioResources struct {
	Namespace           *corev1.Namespace
	Base                *helm.Release
	Istiod              *helm.Release
	EastWestGateway     *helm.Release
	CrossNetworkGateway *apiextensions.CustomResource
}

func provisionIstio(ctx *pulumi.Context, cfg *Config, provider *kubernetes.Provider, clusterName string) (*istioResources, error) {
	// istio-system carries the network topology label; the east-west gateway and
	// istiod read it to place this cluster on the mesh's cluster-side network.
	resourceName := fmt.Sprintf("%s-k8s-ns-istio-system", cfg.Prefix)
	istioNamespace, err := corev1.NewNamespace(ctx, resourceName, &corev1.NamespaceArgs{
		Metadata: &metav1.ObjectMetaArgs{
			Name: pulumi.String("istio-system"),
			Labels: pulumi.StringMap{
				"topology.istio.io/network": pulumi.String(cfg.ClusterNetwork),
			},
		},
	}, pulumi.Provider(provider))
	if err != nil {
		return nil, err
	}

	// Install Istio Service Mesh Base
	resourceName = fmt.Sprintf("%s-istio-base", cfg.Prefix)
	helmIstioBase, err := helm.NewRelease(ctx, resourceName, &helm.ReleaseArgs{
		Description: pulumi.String("Istio Service Mesh - Install IstioBase"),
		RepositoryOpts: &helm.RepositoryOptsArgs{
			Repo: pulumi.String(istioChartRepo),
		},
		Chart:         pulumi.String("base"),
		Version:       pulumi.String(cfg.IstioVersion),
		Namespace:     istioNamespace.Metadata.Elem().Name(),
		CleanupOnFail: pulumi.Bool(true),
		Values: pulumi.Map{
			"defaultRevision": pulumi.String("default"),
		},
	}, pulumi.Provider(provider))
	if err != nil {
		return nil, err
	}

	// Install Istio Service Mesh Istiod. Workload entry auto-registration turns the
	// WorkloadGroup into a live WorkloadEntry when the VM's proxy connects.
	resourceName = fmt.Sprintf("%s-istio-istiod", cfg.Prefix)
	helmIstioD, err := helm.NewRelease(ctx, resourceName, &helm.ReleaseArgs{
		Description: pulumi.String("Istio Service Mesh - Install Istiod"),
		RepositoryOpts: &helm.RepositoryOptsArgs{
			Repo: pulumi.String(istioChartRepo),
		},
		Chart:         pulumi.String("istiod"),
		Version:       pulumi.String(cfg.IstioVersion),
		Namespace:     istioNamespace.Metadata.Elem().Name(),
		CleanupOnFail: pulumi.Bool(true),
		Values: pulumi.Map{
			"global": pulumi.Map{
				"meshID":  pulumi.String(cfg.MeshID),
				"network": pulumi.String(cfg.ClusterNetwork),
				"multiCluster": pulumi.Map{
					"clusterName": pulumi.String(clusterName),
				},
			},
			"pilot": pulumi.Map{
				"env": pulumi.Map{
					"PILOT_ENABLE_WORKLOAD_ENTRY_AUTOREGISTRATION": pulumi.String("true"),
					"PILOT_ENABLE_WORKLOAD_ENTRY_HEALTHCHECKS":     pulumi.String("true"),
				},
			},
		},
	}, pulumi.Provider(provider), pulumi.DependsOn([]pulumi.Resource{helmIstioBase}))
	if err != nil {
		return nil, err
	}

	// Deploy the east-west gateway fronting cross-network mesh traffic.
	resourceName = fmt.Sprintf("%s-istio-ewgw", cfg.Prefix)
	helmEastWest, err := helm.NewRelease(ctx, resourceName, &helm.ReleaseArgs{
		Name:        pulumi.String("istio-eastwestgateway"),
		Description: pulumi.String("Istio Service Mesh - Install East-West Gateway"),
		RepositoryOpts: &helm.RepositoryOptsArgs{
			Repo: pulumi.String(istioChartRepo),
		},
		Chart:         pulumi.String("gateway"),
		Version:       pulumi.String(cfg.IstioVersion),
		Namespace:     istioNamespace.Metadata.Elem().Name(),
		CleanupOnFail: pulumi.Bool(true),
		Values: pulumi.Map{
			"labels": pulumi.Map{
				"istio":                     pulumi.String("eastwestgateway"),
				"app":                       pulumi.String("istio-eastwestgateway"),
				"topology.istio.io/network": pulumi.String(cfg.ClusterNetwork),
			},
			"networkGateway": pulumi.String(cfg.ClusterNetwork),
			"service": pulumi.Map{
				"type": pulumi.String("LoadBalancer"),
				"ports": pulumi.Array{
					pulumi.Map{
						"name":       pulumi.String("status-port"),
						"port":       pulumi.Int(15021),
						"targetPort": pulumi.Int(15021),
					},
					pulumi.Map{
						"name":       pulumi.String("tls"),
						"port":       pulumi.Int(15443),
						"targetPort": pulumi.Int(15443),
					},
					pulumi.Map{
						"name":       pulumi.String("tls-istiod"),
						"port":       pulumi.Int(15012),
						"targetPort": pulumi.Int(15012),
					},
					pulumi.Map{
						"name":       pulumi.String("tls-webhook"),
						"port":       pulumi.Int(15017),
						"targetPort": pulumi.Int(15017),
					},
				},
			},
		},
	}, pulumi.Provider(provider), pulumi.DependsOn([]pulumi.Resource{helmIstioBase, helmIstioD}))
	if err != nil {
		return nil, err
	}

	// Expose every in-mesh service over the east-west gateway for workloads on the
	// other network; AUTO_PASSTHROUGH keeps mTLS end to end.
	resourceName = fmt.Sprintf("%s-istio-cross-network-gateway", cfg.Prefix)
	crossNetworkGateway, err := apiextensions.NewCustomResource(ctx, resourceName, &apiextensions.CustomResourceArgs{
		ApiVersion: pulumi.String("networking.istio.io/v1alpha3"),
		Kind:       pulumi.String("Gateway"),
		Metadata: &metav1.ObjectMetaArgs{
			Name:      pulumi.String("cross-network-gateway"),
			Namespace: istioNamespace.Metadata.Elem().Name(),
		},
		OtherFields: kubernetes.UntypedArgs{
			"spec": pulumi.Map{
				"selector": pulumi.Map{
					"istio": pulumi.String("eastwestgateway"),
				},
				"servers": pulumi.Array{
					pulumi.Map{
						"port": pulumi.Map{
							"number":   pulumi.Int(15443),
							"name":     pulumi.String("tls"),
							"protocol": pulumi.String("TLS"),
						},
						"tls": pulumi.Map{
							"mode": pulumi.String("AUTO_PASSTHROUGH"),
						},
						"hosts": pulumi.StringArray{
							pulumi.String("*.local"),
						},
					},
				},
			},
		},
	}, pulumi.Provider(provider), pulumi.DependsOn([]pulumi.Resource{helmEastWest}))
	if err != nil {
		return nil, err
	}

	return &istioResources{
		Namespace:           istioNamespace,
		Base:                helmIstioBase,
		Istiod:              helmIstioD,
		EastWestGateway:     helmEastWest,
		CrossNetworkGateway: crossNetworkGateway,
	}, nil
}
