package infra

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pulumi/pulumi-command/sdk/go/command/local"
	"github.com/pulumi/pulumi-command/sdk/go/command/remote"
	"github.com/pulumi/pulumi-gcp/sdk/v6/go/gcp/compute"
	"github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes"
	"github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/apiextensions"
	corev1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/core/v1"
	metav1 "github.com/pulumi/pulumi-kubernetes/sdk/v3/go/kubernetes/meta/v1"
	"github.com/pulumi/pulumi-random/sdk/v4/go/random"
	"github.com/pulumi/pulumi-tls/sdk/v4/go/tls"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

// WorkloadArgs carries everything the VM join workflow needs from the rest of the
// stack. Pending values (network and subnet ids) stay pending until the engine
// resolves their producers.
type WorkloadArgs struct {
	Prefix    string
	Name      string
	Namespace string

	Network    pulumi.StringInput
	Subnetwork pulumi.StringInput

	ClusterName   string
	VMNetwork     string
	Istiod        pulumi.Resource
	KubeconfigCmd pulumi.Resource
	Provider      *kubernetes.Provider

	Project     string
	Zone        string
	MachineType string
	SSHUser     string

	Image        string
	Port         int
	IstioVersion string

	WorkloadsDir string
	// DisableDebugFiles skips the plaintext key/hostname snapshot. The snapshot is
	// written by default for operator debugging even though the key on disk is a
	// known exposure.
	DisableDebugFiles bool
}

type workloadResources struct {
	Namespace      *corev1.Namespace
	ServiceAccount *corev1.ServiceAccount
	WorkloadGroup  *apiextensions.CustomResource
	Key            *tls.PrivateKey
	Instance       *compute.Instance
	BundleCmd      *local.Command
	Copies         []*remote.CopyFile
	DockerCmd      *remote.Command
	AppCmd         *remote.Command
	SidecarCmd     *remote.Command
	ExternalIP     pulumi.StringOutput
}

// provisionWorkloadVM joins one external VM workload to the mesh. The sequence is
// declared as resources and edges; the engine runs independent branches (key
// generation, bundle generation) concurrently and never starts a step before its
// upstream outputs resolve.
func provisionWorkloadVM(ctx *pulumi.Context, args *WorkloadArgs) (*workloadResources, error) {
	dir := workloadDir(args.WorkloadsDir, args.Name)
	workloadGroupYAML := renderWorkloadGroup(args.Name, args.Namespace, args.Name, args.VMNetwork)

	// Step 1: register the workload's identity - namespace, service account, and
	// the WorkloadGroup descriptor the VM's proxy will auto-register against.
	resourceName := fmt.Sprintf("%s-k8s-ns-%s", args.Prefix, args.Namespace)
	k8sNamespace, err := corev1.NewNamespace(ctx, resourceName, &corev1.NamespaceArgs{
		Metadata: &metav1.ObjectMetaArgs{
			Name: pulumi.String(args.Namespace),
		},
	}, pulumi.Provider(args.Provider))
	if err != nil {
		return nil, err
	}

	resourceName = fmt.Sprintf("%s-k8s-sa-%s", args.Prefix, args.Name)
	k8sServiceAccount, err := corev1.NewServiceAccount(ctx, resourceName, &corev1.ServiceAccountArgs{
		Metadata: &metav1.ObjectMetaArgs{
			Name:      pulumi.String(args.Name),
			Namespace: k8sNamespace.Metadata.Elem().Name(),
		},
	}, pulumi.Provider(args.Provider))
	if err != nil {
		return nil, err
	}

	resourceName = fmt.Sprintf("%s-k8s-workloadgroup-%s", args.Prefix, args.Name)
	workloadGroup, err := apiextensions.NewCustomResource(ctx, resourceName, &apiextensions.CustomResourceArgs{
		ApiVersion: pulumi.String("networking.istio.io/v1alpha3"),
		Kind:       pulumi.String("WorkloadGroup"),
		Metadata: &metav1.ObjectMetaArgs{
			Name:      pulumi.String(args.Name),
			Namespace: k8sNamespace.Metadata.Elem().Name(),
		},
		OtherFields: kubernetes.UntypedArgs{
			"spec": pulumi.Map{
				"metadata": pulumi.Map{
					"labels": pulumi.Map{
						"app": pulumi.String(args.Name),
					},
				},
				"template": pulumi.Map{
					"serviceAccount": pulumi.String(args.Name),
					"network":        pulumi.String(args.VMNetwork),
				},
			},
		},
	}, pulumi.Provider(args.Provider), pulumi.DependsOn([]pulumi.Resource{k8sServiceAccount}))
	if err != nil {
		return nil, err
	}

	// Step 2: expand the descriptor into the bootstrap bundle on local disk. The
	// working directory is owned by this workflow; its delete removes the whole
	// directory. Triggers re-run the expansion when the descriptor changes.
	resourceName = fmt.Sprintf("%s-local-cmd-workloadgroup-yaml-%s", args.Prefix, args.Name)
	workloadGroupFileCmd, err := local.NewCommand(ctx, resourceName, &local.CommandArgs{
		Create: pulumi.Sprintf("mkdir -p %s && cat > %s", dir, filepath.Join(dir, workloadGroupFileName)),
		Update: pulumi.Sprintf("mkdir -p %s && cat > %s", dir, filepath.Join(dir, workloadGroupFileName)),
		Delete: pulumi.Sprintf("rm -rf %s", dir),
		Stdin:  pulumi.String(workloadGroupYAML),
	})
	if err != nil {
		return nil, err
	}

	resourceName = fmt.Sprintf("%s-local-cmd-workload-bundle-%s", args.Prefix, args.Name)
	bundleCmd, err := local.NewCommand(ctx, resourceName, &local.CommandArgs{
		Create: pulumi.String(renderBundleCommand(filepath.Join(dir, workloadGroupFileName), dir, args.ClusterName)),
		Update: pulumi.String(renderBundleCommand(filepath.Join(dir, workloadGroupFileName), dir, args.ClusterName)),
		Environment: pulumi.StringMap{
			"KUBECONFIG": pulumi.String(KubeconfigPath),
		},
		Triggers: pulumi.Array{
			pulumi.String(workloadGroupYAML),
		},
	}, pulumi.DependsOn([]pulumi.Resource{workloadGroupFileCmd, workloadGroup, args.Istiod, args.KubeconfigCmd}))
	if err != nil {
		return nil, err
	}

	// Step 3: generate the SSH key pair. Independent of steps 1-2; an in-place key
	// update is unsafe, so replacement destroys first.
	resourceName = fmt.Sprintf("%s-ssh-key-%s", args.Prefix, args.Name)
	sshKey, err := tls.NewPrivateKey(ctx, resourceName, &tls.PrivateKeyArgs{
		Algorithm: pulumi.String("RSA"),
		RsaBits:   pulumi.Int(4096),
	}, pulumi.DeleteBeforeReplace(true))
	if err != nil {
		return nil, err
	}

	// Unique instance name suffix; GCE instance names must not collide with a
	// half-deleted predecessor while a replacement is underway.
	resourceName = fmt.Sprintf("%s-vm-suffix-%s", args.Prefix, args.Name)
	vmSuffix, err := random.NewRandomId(ctx, resourceName, &random.RandomIdArgs{
		ByteLength: pulumi.Int(3),
	})
	if err != nil {
		return nil, err
	}

	// Step 4: create the VM with the public key as an authorized credential. Its
	// NAT address is the pending value every remote step awaits.
	resourceName = fmt.Sprintf("%s-vm-%s", args.Prefix, args.Name)
	vmInstance, err := compute.NewInstance(ctx, resourceName, &compute.InstanceArgs{
		Project:     pulumi.String(args.Project),
		Name:        pulumi.Sprintf("%s-vm-%s-%s", args.Prefix, args.Name, vmSuffix.Hex),
		Zone:        pulumi.String(args.Zone),
		MachineType: pulumi.String(args.MachineType),
		Tags: pulumi.StringArray{
			pulumi.String(vmTag),
		},
		BootDisk: &compute.InstanceBootDiskArgs{
			InitializeParams: &compute.InstanceBootDiskInitializeParamsArgs{
				Image: pulumi.String("debian-cloud/debian-11"),
			},
		},
		NetworkInterfaces: compute.InstanceNetworkInterfaceArray{
			&compute.InstanceNetworkInterfaceArgs{
				Network:    args.Network,
				Subnetwork: args.Subnetwork,
				AccessConfigs: compute.InstanceNetworkInterfaceAccessConfigArray{
					&compute.InstanceNetworkInterfaceAccessConfigArgs{},
				},
			},
		},
		Metadata: pulumi.StringMap{
			"ssh-keys": pulumi.Sprintf("%s:%s", args.SSHUser, sshKey.PublicKeyOpenssh),
		},
	}, pulumi.DeleteBeforeReplace(true))
	if err != nil {
		return nil, err
	}

	externalIP := vmInstance.NetworkInterfaces.Index(pulumi.Int(0)).
		AccessConfigs().Index(pulumi.Int(0)).NatIp().Elem()

	// Step 5: best-effort debug snapshot of the resolved address and private key.
	// Failures are logged and swallowed; nothing downstream depends on this.
	if !args.DisableDebugFiles {
		ctx.Log.Warn(fmt.Sprintf(
			"workload %q: writing the VM's plaintext private key to %s for debugging; set disableDebugFiles to skip",
			args.Name, filepath.Join(dir, "key")), nil)
		pulumi.All(sshKey.PrivateKeyOpenssh, externalIP).ApplyT(func(vs []interface{}) (bool, error) {
			if err := writeDebugFiles(dir, vs[0].(string), vs[1].(string)); err != nil {
				ctx.Log.Warn(fmt.Sprintf("workload %q: debug snapshot failed: %v", args.Name, err), nil)
				return false, nil
			}
			return true, nil
		})
	}

	connection := remote.ConnectionArgs{
		Host:       externalIP,
		User:       pulumi.String(args.SSHUser),
		PrivateKey: sshKey.PrivateKeyOpenssh,
	}

	// Step 6: copy every bundle file to the VM. Order among files is irrelevant;
	// the sidecar step waits on all of them.
	copies := make([]*remote.CopyFile, 0, len(bundleFiles))
	for _, file := range bundleFiles {
		resourceName = fmt.Sprintf("%s-remote-copy-%s-%s", args.Prefix, args.Name, file)
		copyFile, err := remote.NewCopyFile(ctx, resourceName, &remote.CopyFileArgs{
			Connection: connection,
			LocalPath:  pulumi.String(filepath.Join(dir, file)),
			RemotePath: pulumi.String(file),
		}, pulumi.DependsOn([]pulumi.Resource{bundleCmd, vmInstance}))
		if err != nil {
			return nil, err
		}
		copies = append(copies, copyFile)
	}

	// Step 7: install the container runtime. Independent of step 6.
	resourceName = fmt.Sprintf("%s-remote-cmd-docker-install-%s", args.Prefix, args.Name)
	dockerCmd, err := remote.NewCommand(ctx, resourceName, &remote.CommandArgs{
		Connection: connection,
		Create:     pulumi.String(renderDockerInstallScript()),
	}, pulumi.DependsOn([]pulumi.Resource{vmInstance}))
	if err != nil {
		return nil, err
	}

	// Step 8: launch the demo workload. Replaces an existing container of the same
	// name; its delete removes the container on teardown.
	resourceName = fmt.Sprintf("%s-remote-cmd-workload-run-%s", args.Prefix, args.Name)
	appCmd, err := remote.NewCommand(ctx, resourceName, &remote.CommandArgs{
		Connection: connection,
		Create:     pulumi.String(renderWorkloadRunScript(args.Name, args.Image, args.Port)),
		Delete:     pulumi.String(renderWorkloadStopScript(args.Name)),
		Triggers: pulumi.Array{
			pulumi.String(args.Image),
		},
	}, pulumi.DependsOn([]pulumi.Resource{dockerCmd}))
	if err != nil {
		return nil, err
	}

	// Step 9: configure and start the sidecar once the artifacts are in place and
	// the workload process it fronts exists.
	sidecarDeps := []pulumi.Resource{appCmd}
	for _, copyFile := range copies {
		sidecarDeps = append(sidecarDeps, copyFile)
	}
	resourceName = fmt.Sprintf("%s-remote-cmd-sidecar-setup-%s", args.Prefix, args.Name)
	sidecarCmd, err := remote.NewCommand(ctx, resourceName, &remote.CommandArgs{
		Connection: connection,
		Create:     pulumi.String(renderSidecarSetupScript(args.IstioVersion)),
	}, pulumi.DependsOn(sidecarDeps))
	if err != nil {
		return nil, err
	}

	return &workloadResources{
		Namespace:      k8sNamespace,
		ServiceAccount: k8sServiceAccount,
		WorkloadGroup:  workloadGroup,
		Key:            sshKey,
		Instance:       vmInstance,
		BundleCmd:      bundleCmd,
		Copies:         copies,
		DockerCmd:      dockerCmd,
		AppCmd:         appCmd,
		SidecarCmd:     sidecarCmd,
		ExternalIP:     externalIP,
	}, nil
}

// writeDebugFiles writes the private key (restricted mode) and resolved address
// into the workload's working directory.
func writeDebugFiles(dir, privateKey, host string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "key"), []byte(privateKey), 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "hostname"), []byte(host+"\n"), 0o644)
}
