package infra

import (
	"fmt"

	"github.com/pulumi/pulumi-gcp/sdk/v6/go/gcp/projects"
	"github.com/pulumi/pulumi-gcp/sdk/v6/go/gcp/serviceaccount"
	gkehub "github.com/pulumi/pulumi-google-native/sdk/go/google/gkehub/v1alpha"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// Google API's required before any other resource can be created.
var gcpServices = []string{
	"compute.googleapis.com",
	"container.googleapis.com",
	"mesh.googleapis.com",
}

type projectResources struct {
	// Services gate every downstream resource: nothing is materialized before the
	// API's are enabled.
	Services       []pulumi.Resource
	ServiceAccount *serviceaccount.Account
}

func provisionProject(ctx *pulumi.Context, cfg *Config) (*projectResources, error) {
	out := &projectResources{}

	// Enable Google API's on the specified project.
	for _, service := range gcpServices {
		resourceName := fmt.Sprintf("%s-project-service-%s", cfg.Prefix, service)
		gcpService, err := projects.NewService(ctx, resourceName, &projects.ServiceArgs{
			DisableDependentServices: pulumi.Bool(true),
			Project:                  pulumi.String(cfg.Project),
			Service:                  pulumi.String(service),
			DisableOnDestroy:         pulumi.Bool(false),
		})
		if err != nil {
			return nil, err
		}
		out.Services = append(out.Services, gcpService)
	}

	// Admin service account used by the cluster node pool.
	resourceName := fmt.Sprintf("%s-service-account", cfg.Prefix)
	gcpServiceAccount, err := serviceaccount.NewAccount(ctx, resourceName, &serviceaccount.AccountArgs{
		Project:     pulumi.String(cfg.Project),
		AccountId:   pulumi.String(fmt.Sprintf("svc-%s-mesh-admin", cfg.Prefix)),
		DisplayName: pulumi.String("Istio VM Mesh - Admin Service Account"),
	})
	if err != nil {
		return nil, err
	}
	out.ServiceAccount = gcpServiceAccount

	// Optionally register the environment into a GKE Hub fleet so the demo cluster
	// shows up alongside other meshes in the fleet view.
	if cfg.RegisterFleet {
		resourceName = fmt.Sprintf("%s-gke-fleet", cfg.Prefix)
		_, err = gkehub.NewFleet(ctx, resourceName, &gkehub.FleetArgs{
			Project:     pulumi.String(cfg.Project),
			DisplayName: pulumi.String(fmt.Sprintf("%s-mesh-fleet", cfg.Prefix)),
			Location:    pulumi.String("global"),
		}, pulumi.DependsOn(out.Services))
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}
