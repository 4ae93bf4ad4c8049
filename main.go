package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pulumi/pulumi/sdk/v3/go/auto"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optdestroy"
	"github.com/pulumi/pulumi/sdk/v3/go/auto/optup"
	"github.com/spf13/cobra"

	"istio-vm-mesh/infra"
)

// The demo owns exactly one stack; all state lives under it.
const (
	projectName = "istio-vm-mesh"
	stackName   = "demo"
)

func main() {
	var destroy bool

	rootCmd := &cobra.Command{
		Use:   "istio-vm-mesh",
		Short: "Provision a GKE + Istio mesh-expansion demo and join a VM workload to the mesh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), destroy)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Flags().BoolVar(&destroy, "destroy", false, "tear down the demo stack instead of deploying it")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, destroy bool) error {
	// The stack's secrets provider needs a passphrase; default one for the demo so a
	// bare `istio-vm-mesh` invocation works out of the box.
	passphrase := os.Getenv("PULUMI_CONFIG_PASSPHRASE")
	if passphrase == "" {
		passphrase = "istio-vm-mesh-demo"
	}

	stack, err := auto.UpsertStackInlineSource(ctx, stackName, projectName, infra.Program,
		auto.EnvVars(map[string]string{
			"PULUMI_CONFIG_PASSPHRASE": passphrase,
			"KUBECONFIG":               infra.KubeconfigPath,
		}))
	if err != nil {
		return fmt.Errorf("selecting stack %q: %w", stackName, err)
	}

	// A stale in-flight operation blocks both paths; cancel it rather than queueing
	// behind it. Cancel errors when nothing is running, which is the common case,
	// but the error text still goes to the operator so a real backend failure
	// (lock held elsewhere, permissions) is visible.
	fmt.Println(cancelMessage(stackName, stack.Cancel(ctx)))

	if destroy {
		fmt.Printf("[ INFORMATION ] - Stack: %s - DESTROYING\n", stackName)
		res, err := stack.Destroy(ctx, optdestroy.ProgressStreams(os.Stdout))
		if err != nil {
			return fmt.Errorf("destroying stack %q: %w", stackName, err)
		}
		printChangeSummary(res.Summary.ResourceChanges)
		return nil
	}

	fmt.Printf("[ INFORMATION ] - Stack: %s - REFRESHING\n", stackName)
	if _, err := stack.Refresh(ctx); err != nil {
		return fmt.Errorf("refreshing stack %q: %w", stackName, err)
	}

	fmt.Printf("[ INFORMATION ] - Stack: %s - UPDATING\n", stackName)
	res, err := stack.Up(ctx, optup.ProgressStreams(os.Stdout))
	if err != nil {
		return fmt.Errorf("updating stack %q: %w", stackName, err)
	}
	printChangeSummary(res.Summary.ResourceChanges)
	return nil
}

func cancelMessage(stack string, err error) string {
	if err != nil {
		return fmt.Sprintf("[ INFORMATION ] - Stack: %s - nothing to cancel: %v", stack, err)
	}
	return fmt.Sprintf("[ INFORMATION ] - Stack: %s - canceled an in-progress operation", stack)
}

func printChangeSummary(changes *map[string]int) {
	if changes == nil {
		return
	}
	for op, n := range *changes {
		fmt.Printf("[ INFORMATION ] - Resource changes: %s=%d\n", op, n)
	}
}
