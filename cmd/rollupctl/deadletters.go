package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rollupcore/rollup-core/internal/models"
)

var deadLettersCmd = &cobra.Command{
	Use:   "dead-letters",
	Short: "List rollups whose most recent execution failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := timeoutCtx(cmd.Context())
		defer cancel()
		entries, err := svc.ListDeadLetters(ctx, models.Tenant(mustTenant(cmd)), limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("dead letter queue is empty")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s\trollup=%s\tretries=%d\t[%s] %s\n", e.UpdatedAt.Format("2006-01-02T15:04:05"), e.RollupID, e.RetryCount, e.ErrorCode, e.ErrorMessage)
		}
		return nil
	},
}

func init() {
	deadLettersCmd.Flags().String("tenant", "", "tenant id (required)")
	deadLettersCmd.MarkFlagRequired("tenant")
	deadLettersCmd.Flags().Int("limit", 50, "maximum entries to return")
}
