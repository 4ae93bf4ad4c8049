// Package infra declares the demo mesh-expansion environment: a GKE cluster, the
// Istio control plane installed from pinned Helm charts, an east-west gateway for
// cross-network traffic, and a VM workload joined to the mesh through WorkloadGroup
// auto-registration and SSH provisioning.
package infra

import (
	"fmt"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// Program is the Pulumi program for the demo stack. The CLI driver hands it to the
// Automation API; the engine resolves declared dependencies and orders execution.
func Program(ctx *pulumi.Context) error {
	cfg, err := LoadConfig(ctx)
	if err != nil {
		return err
	}
	return Provision(ctx, cfg)
}

// Provision declares every resource in the stack. Data flows top-down here; at
// execution time the engine materializes leaves first and feeds resolved outputs
// to their dependents.
func Provision(ctx *pulumi.Context, cfg *Config) error {
	project, err := provisionProject(ctx, cfg)
	if err != nil {
		return err
	}

	net, err := provisionNetwork(ctx, cfg, project)
	if err != nil {
		return err
	}

	cluster, err := provisionCluster(ctx, cfg, project, net)
	if err != nil {
		return err
	}

	mesh, err := provisionIstio(ctx, cfg, cluster.Provider, cluster.Name)
	if err != nil {
		return err
	}

	fmt.Printf("[ INFORMATION ] - Workload: %s - PROCESSING\n", cfg.WorkloadName)
	vm, err := provisionWorkloadVM(ctx, &WorkloadArgs{
		Prefix:            cfg.Prefix,
		Name:              cfg.WorkloadName,
		Namespace:         cfg.WorkloadNamespace,
		Network:           net.Network.ID(),
		Subnetwork:        net.Subnetwork.ID(),
		ClusterName:       cluster.Name,
		VMNetwork:         cfg.VMNetwork,
		Istiod:            mesh.Istiod,
		KubeconfigCmd:     cluster.KubeconfigCmd,
		Provider:          cluster.Provider,
		Project:           cfg.Project,
		Zone:              cfg.Zone,
		MachineType:       cfg.MachineType,
		SSHUser:           cfg.SSHUser,
		Image:             cfg.WorkloadImage,
		Port:              cfg.WorkloadPort,
		IstioVersion:      cfg.IstioVersion,
		WorkloadsDir:      cfg.WorkloadsDir,
		DisableDebugFiles: cfg.DisableDebugFiles,
	})
	if err != nil {
		return err
	}

	ctx.Export("clusterName", pulumi.String(cluster.Name))
	ctx.Export("vmExternalIp", vm.ExternalIP)
	ctx.Export("workloadWorkingDir", pulumi.String(workloadDir(cfg.WorkloadsDir, cfg.WorkloadName)))
	return nil
}
