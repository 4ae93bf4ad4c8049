package infra

import (
	"fmt"

	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi/config"
)

// Config is the explicit stack configuration for one deployment. Everything the
// program needs is carried here; nothing is read from ambient process state.
type Config struct {
	// Google Cloud placement.
	Project     string
	Prefix      string
	Region      string
	Zone        string
	MachineType string

	// Mesh identifiers. ClusterNetwork labels the in-cluster side of the mesh,
	// VMNetwork the side the joining VM registers under; cross-network routing
	// between the two flows through the east-west gateway.
	MeshID         string
	ClusterNetwork string
	VMNetwork      string
	IstioVersion   string

	// External workload.
	WorkloadName      string
	WorkloadNamespace string
	WorkloadImage     string
	WorkloadPort      int
	SSHUser           string

	// Local artifact layout and behavior toggles.
	WorkloadsDir      string
	RegisterFleet     bool
	DisableDebugFiles bool
}

// LoadConfig reads the stack configuration, applies demo defaults, and validates it.
func LoadConfig(ctx *pulumi.Context) (*Config, error) {
	cfg := config.New(ctx, "")

	c := &Config{
		Project:           config.Get(ctx, "gcp:project"),
		Prefix:            cfg.Get("prefix"),
		Region:            cfg.Get("region"),
		Zone:              cfg.Get("zone"),
		MachineType:       cfg.Get("vmMachineType"),
		MeshID:            cfg.Get("meshID"),
		ClusterNetwork:    cfg.Get("clusterNetwork"),
		VMNetwork:         cfg.Get("vmNetwork"),
		IstioVersion:      cfg.Get("istioVersion"),
		WorkloadName:      cfg.Get("workloadName"),
		WorkloadNamespace: cfg.Get("workloadNamespace"),
		WorkloadImage:     cfg.Get("workloadImage"),
		WorkloadPort:      cfg.GetInt("workloadPort"),
		SSHUser:           cfg.Get("sshUser"),
		WorkloadsDir:      cfg.Get("workloadsDir"),
		RegisterFleet:     cfg.GetBool("registerFleet"),
		DisableDebugFiles: cfg.GetBool("disableDebugFiles"),
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return nil, err
	}

	fmt.Printf("[CONFIGURATION] - Prefix: %s has been provided; All Google Cloud resource names will be prefixed.\n", c.Prefix)
	fmt.Printf("[CONFIGURATION] - Workload: %s will be joined to the mesh in namespace: %s\n", c.WorkloadName, c.WorkloadNamespace)
	return c, nil
}

func (c *Config) applyDefaults() {
	if c.Region == "" {
		c.Region = "us-central1"
	}
	if c.Zone == "" {
		c.Zone = c.Region + "-a"
	}
	if c.MachineType == "" {
		c.MachineType = "e2-medium"
	}
	if c.MeshID == "" {
		c.MeshID = "mesh1"
	}
	if c.ClusterNetwork == "" {
		c.ClusterNetwork = "network1"
	}
	if c.VMNetwork == "" {
		c.VMNetwork = "vm-network"
	}
	if c.IstioVersion == "" {
		c.IstioVersion = "1.17.2"
	}
	if c.WorkloadName == "" {
		c.WorkloadName = "test"
	}
	if c.WorkloadNamespace == "" {
		c.WorkloadNamespace = "onprem"
	}
	if c.WorkloadImage == "" {
		c.WorkloadImage = "gcr.io/google-samples/hello-app:1.0"
	}
	if c.WorkloadPort == 0 {
		c.WorkloadPort = 8080
	}
	if c.SSHUser == "" {
		c.SSHUser = "demo"
	}
	if c.WorkloadsDir == "" {
		c.WorkloadsDir = "workloads"
	}
}

func (c *Config) validate() error {
	if c.Project == "" {
		return fmt.Errorf("[CONFIGURATION] - [gcp:project] - No GCP Project Set: Pulumi GCP Provider must have Project configured")
	}
	if c.Prefix == "" {
		return fmt.Errorf("[CONFIGURATION] - No Prefix has been provided; Please set a prefix (3-5 characters long), it is mandatory")
	}
	if len(c.Prefix) > 5 {
		return fmt.Errorf("[CONFIGURATION] - Prefix: '%s' must be less than 5 characters in length", c.Prefix)
	}
	return nil
}
