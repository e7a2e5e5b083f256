package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rollupcore/rollup-core/internal/models"
)

var runCmd = &cobra.Command{
	Use:   "run [rollup-id]",
	Short: "Run a rollup, synchronously by default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid rollup id: %w", err)
		}
		tenant := models.Tenant(mustTenant(cmd))
		async, _ := cmd.Flags().GetBool("async")

		if async {
			if err := svc.RunRollupAsync(cmd.Context(), tenant, id); err != nil {
				return err
			}
			fmt.Printf("submitted rollup %s for asynchronous execution\n", id)
			return nil
		}

		ctx, cancel := timeoutCtx(cmd.Context())
		defer cancel()
		exec, merged, err := svc.RunRollup(ctx, tenant, id)
		if exec != nil {
			fmt.Printf("execution %s phase=%s nodes=%d edges=%d cross_repo_edges=%d\n",
				exec.ID, exec.Phase, exec.Stats.MergedNodes, exec.Stats.MergedEdges, exec.Stats.CrossRepoEdges)
		}
		if err != nil {
			return err
		}
		if merged != nil {
			fmt.Printf("merged graph: %d nodes, %d edges\n", len(merged.Nodes), len(merged.Edges))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("tenant", "", "tenant id (required)")
	runCmd.MarkFlagRequired("tenant")
	runCmd.Flags().Bool("async", false, "submit to the queue instead of blocking")
}
