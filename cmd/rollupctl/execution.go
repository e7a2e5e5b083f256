package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rollupcore/rollup-core/internal/models"
)

var executionGetCmd = &cobra.Command{
	Use:   "execution-get [id]",
	Short: "Show one rollup execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid execution id: %w", err)
		}
		ctx, cancel := timeoutCtx(cmd.Context())
		defer cancel()
		exec, err := svc.GetExecution(ctx, models.Tenant(mustTenant(cmd)), id)
		if err != nil {
			return err
		}
		fmt.Printf("execution %s\n  rollup:     %s\n  phase:      %s\n  scans:      %v\n",
			exec.ID, exec.RollupID, exec.Phase, exec.ScanIDs)
		fmt.Printf("  nodes:      %d\n  edges:      %d\n  cross-repo: %d\n  ambiguous:  %d\n  duration:   %s\n",
			exec.Stats.MergedNodes, exec.Stats.MergedEdges, exec.Stats.CrossRepoEdges, exec.Stats.AmbiguousMatches, exec.Stats.Duration)
		if exec.Error != nil {
			fmt.Printf("  error:      [%s] %s\n", exec.Error.Code, exec.Error.Message)
		}
		return nil
	},
}

var executionListCmd = &cobra.Command{
	Use:   "execution-list [rollup-id]",
	Short: "List recent executions of a rollup",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid rollup id: %w", err)
		}
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := timeoutCtx(cmd.Context())
		defer cancel()
		execs, err := svc.ListExecutions(ctx, models.Tenant(mustTenant(cmd)), id, limit)
		if err != nil {
			return err
		}
		if len(execs) == 0 {
			fmt.Println("no executions recorded")
			return nil
		}
		for _, e := range execs {
			fmt.Printf("%s\t%s\t%s\tnodes=%d\n", e.ID, e.Phase, e.StartedAt.Format("2006-01-02T15:04:05"), e.Stats.MergedNodes)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{executionGetCmd, executionListCmd} {
		c.Flags().String("tenant", "", "tenant id (required)")
		c.MarkFlagRequired("tenant")
	}
	executionListCmd.Flags().Int("limit", 20, "maximum executions to return")
}
