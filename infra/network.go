package infra

import (
	"fmt"

	"github.com/pulumi/pulumi-gcp/sdk/v6/go/gcp/compute"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	// vmTag marks the mesh-joined VM so firewall rules can target it.
	vmTag = "mesh-vm"

	subnetCidr   = "10.128.50.0/24"
	podsCidr     = "10.64.0.0/14"
	servicesCidr = "10.68.0.0/20"

	podsRangeName     = "pods"
	servicesRangeName = "services"
)

type networkResources struct {
	Network    *compute.Network
	Subnetwork *compute.Subnetwork
}

func provisionNetwork(ctx *pulumi.Context, cfg *Config, project *projectResources) (*networkResources, error) {
	// Create Google Cloud VPC Network (Global Resource)
	resourceName := fmt.Sprintf("%s-vpc", cfg.Prefix)
	gcpNetwork, err := compute.NewNetwork(ctx, resourceName, &compute.NetworkArgs{
		Project:               pulumi.String(cfg.Project),
		Name:                  pulumi.String(resourceName),
		Description:           pulumi.String("Istio VM Mesh - VPC Network"),
		AutoCreateSubnetworks: pulumi.Bool(false),
	}, pulumi.DependsOn(project.Services))
	if err != nil {
		return nil, err
	}

	// Create VPC Subnet with secondary ranges for cluster pods and services.
	resourceName = fmt.Sprintf("%s-vpc-subnet-%s", cfg.Prefix, cfg.Region)
	gcpSubnetwork, err := compute.NewSubnetwork(ctx, resourceName, &compute.SubnetworkArgs{
		Project:               pulumi.String(cfg.Project),
		Name:                  pulumi.String(resourceName),
		Description:           pulumi.String(fmt.Sprintf("Istio VM Mesh - VPC Subnet - %s", cfg.Region)),
		IpCidrRange:           pulumi.String(subnetCidr),
		Region:                pulumi.String(cfg.Region),
		Network:               gcpNetwork.ID(),
		PrivateIpGoogleAccess: pulumi.Bool(true),
		SecondaryIpRanges: compute.SubnetworkSecondaryIpRangeArray{
			&compute.SubnetworkSecondaryIpRangeArgs{
				RangeName:   pulumi.String(podsRangeName),
				IpCidrRange: pulumi.String(podsCidr),
			},
			&compute.SubnetworkSecondaryIpRangeArgs{
				RangeName:   pulumi.String(servicesRangeName),
				IpCidrRange: pulumi.String(servicesCidr),
			},
		},
	})
	if err != nil {
		return nil, err
	}

	// Create Firewall Rules - SSH access for provisioning the VM workload.
	resourceName = fmt.Sprintf("%s-fw-in-allow-ssh-vm", cfg.Prefix)
	_, err = compute.NewFirewall(ctx, resourceName, &compute.FirewallArgs{
		Project:     pulumi.String(cfg.Project),
		Name:        pulumi.String(resourceName),
		Description: pulumi.String("Istio VM Mesh - FW - Allow - Ingress - SSH to mesh VM"),
		Network:     gcpNetwork.Name,
		Allows: compute.FirewallAllowArray{
			&compute.FirewallAllowArgs{
				Protocol: pulumi.String("tcp"),
				Ports: pulumi.StringArray{
					pulumi.String("22"),
				},
			},
		},
		SourceRanges: pulumi.StringArray{
			pulumi.String("0.0.0.0/0"),
		},
		TargetTags: pulumi.StringArray{
			pulumi.String(vmTag),
		},
	})
	if err != nil {
		return nil, err
	}

	// Create Firewall Rules - mesh traffic from cluster pods and nodes to the VM.
	resourceName = fmt.Sprintf("%s-fw-in-allow-mesh-vm", cfg.Prefix)
	_, err = compute.NewFirewall(ctx, resourceName, &compute.FirewallArgs{
		Project:     pulumi.String(cfg.Project),
		Name:        pulumi.String(resourceName),
		Description: pulumi.String("Istio VM Mesh - FW - Allow - Ingress - Cluster to mesh VM"),
		Network:     gcpNetwork.Name,
		Allows: compute.FirewallAllowArray{
			&compute.FirewallAllowArgs{
				Protocol: pulumi.String("tcp"),
			},
			&compute.FirewallAllowArgs{
				Protocol: pulumi.String("udp"),
			},
			&compute.FirewallAllowArgs{
				Protocol: pulumi.String("icmp"),
			},
		},
		SourceRanges: pulumi.StringArray{
			pulumi.String(subnetCidr),
			pulumi.String(podsCidr),
		},
		TargetTags: pulumi.StringArray{
			pulumi.String(vmTag),
		},
	})
	if err != nil {
		return nil, err
	}

	return &networkResources{Network: gcpNetwork, Subnetwork: gcpSubnetwork}, nil
}
