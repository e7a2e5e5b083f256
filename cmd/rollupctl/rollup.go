package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rollupcore/rollup-core/internal/models"
)

// rollupFile is the YAML shape `rollup-create` reads from disk. It mirrors models.RollupConfig minus the fields the
// server assigns (ID, version, timestamps, status).
type rollupFile struct {
	Name          string                 `yaml:"name"`
	RepositoryIDs []string               `yaml:"repository_ids"`
	Matchers      []models.MatcherConfig `yaml:"matchers"`
	MergeOptions  models.MergeOptions    `yaml:"merge_options"`
	Schedule      string                 `yaml:"schedule"`
}

func loadRollupFile(path string) (*rollupFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rollup file: %w", err)
	}
	var rf rollupFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse rollup file: %w", err)
	}
	return &rf, nil
}

var rollupCreateCmd = &cobra.Command{
	Use:   "rollup-create",
	Short: "Create a rollup config from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		actor, _ := cmd.Flags().GetString("actor")
		tenant := mustTenant(cmd)
		if tenant == "" {
			return fmt.Errorf("--tenant is required")
		}

		rf, err := loadRollupFile(path)
		if err != nil {
			return err
		}

		cfg := &models.RollupConfig{
			TenantID:      models.Tenant(tenant),
			Name:          rf.Name,
			RepositoryIDs: rf.RepositoryIDs,
			Matchers:      rf.Matchers,
			MergeOptions:  rf.MergeOptions,
			Schedule:      rf.Schedule,
		}

		ctx, cancel := timeoutCtx(cmd.Context())
		defer cancel()
		created, err := svc.CreateRollup(ctx, cfg, actor)
		if err != nil {
			return err
		}
		fmt.Printf("created rollup %s (%s)\n", created.ID, created.Name)
		return nil
	},
}

var rollupGetCmd = &cobra.Command{
	Use:   "rollup-get [id]",
	Short: "Show a rollup config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid rollup id: %w", err)
		}
		ctx, cancel := timeoutCtx(cmd.Context())
		defer cancel()
		rollup, err := svc.GetRollup(ctx, models.Tenant(mustTenant(cmd)), id)
		if err != nil {
			return err
		}
		return yaml.NewEncoder(os.Stdout).Encode(rollup)
	},
}

var rollupListCmd = &cobra.Command{
	Use:   "rollup-list",
	Short: "List rollup configs for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := timeoutCtx(cmd.Context())
		defer cancel()
		rollups, err := svc.ListRollups(ctx, models.Tenant(mustTenant(cmd)))
		if err != nil {
			return err
		}
		if len(rollups) == 0 {
			fmt.Println("no rollups configured")
			return nil
		}
		for _, r := range rollups {
			fmt.Printf("%s\t%s\t%s\t%d repos\n", r.ID, r.Name, r.Status, len(r.RepositoryIDs))
		}
		return nil
	},
}

var rollupArchiveCmd = &cobra.Command{
	Use:   "rollup-archive [id]",
	Short: "Archive a rollup config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid rollup id: %w", err)
		}
		actor, _ := cmd.Flags().GetString("actor")
		ctx, cancel := timeoutCtx(cmd.Context())
		defer cancel()
		if err := svc.ArchiveRollup(ctx, models.Tenant(mustTenant(cmd)), id, actor); err != nil {
			return err
		}
		fmt.Printf("archived rollup %s\n", id)
		return nil
	},
}

var rollupDeleteCmd = &cobra.Command{
	Use:   "rollup-delete [id]",
	Short: "Delete a rollup config",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid rollup id: %w", err)
		}
		actor, _ := cmd.Flags().GetString("actor")
		ctx, cancel := timeoutCtx(cmd.Context())
		defer cancel()
		if err := svc.DeleteRollup(ctx, models.Tenant(mustTenant(cmd)), id, actor); err != nil {
			return err
		}
		fmt.Printf("deleted rollup %s\n", id)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{rollupCreateCmd, rollupGetCmd, rollupListCmd, rollupArchiveCmd, rollupDeleteCmd} {
		c.Flags().String("tenant", "", "tenant id (required)")
		c.MarkFlagRequired("tenant")
	}
	rollupCreateCmd.Flags().String("file", "", "path to a rollup config YAML file (required)")
	rollupCreateCmd.MarkFlagRequired("file")
	rollupCreateCmd.Flags().String("actor", "rollupctl", "actor recorded in the audit log")
	rollupArchiveCmd.Flags().String("actor", "rollupctl", "actor recorded in the audit log")
	rollupDeleteCmd.Flags().String("actor", "rollupctl", "actor recorded in the audit log")
}
