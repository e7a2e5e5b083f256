package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rollupcore/rollup-core/internal/blastradius"
	"github.com/rollupcore/rollup-core/internal/models"
)

var blastRadiusCmd = &cobra.Command{
	Use:   "blast-radius [execution-id] [seed-node...]",
	Short: "Compute the blast radius of one or more nodes in an execution's merged graph",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		execID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid execution id: %w", err)
		}
		maxDepth, _ := cmd.Flags().GetInt("max-depth")
		maxNodes, _ := cmd.Flags().GetInt("max-nodes")

		opts := blastradius.Options{
			MaxDepth: maxDepth,
			MaxNodes: maxNodes,
			Thresholds: blastradius.RiskThresholds{
				Medium:   cfg.Risk.MediumThreshold,
				High:     cfg.Risk.HighThreshold,
				Critical: cfg.Risk.CriticalThreshold,
			},
		}

		ctx, cancel := timeoutCtx(cmd.Context())
		defer cancel()
		result, err := svc.BlastRadius(ctx, models.Tenant(mustTenant(cmd)), execID, args[1:], opts)
		if err != nil {
			return err
		}

		fmt.Printf("risk: %s (score %.3f), %d nodes affected, truncated=%v\n",
			result.RiskLevel, result.RiskScore, len(result.Affected), result.Truncated)
		for _, n := range result.Affected {
			fmt.Printf("  [%s] depth=%d weight=%.2f %s\n", n.Impact, n.Depth, n.RiskWeight, n.CanonicalID)
		}
		return nil
	},
}

func init() {
	blastRadiusCmd.Flags().String("tenant", "", "tenant id (required)")
	blastRadiusCmd.MarkFlagRequired("tenant")
	blastRadiusCmd.Flags().Int("max-depth", 10, "maximum traversal depth")
	blastRadiusCmd.Flags().Int("max-nodes", 5000, "maximum nodes to visit")
}
