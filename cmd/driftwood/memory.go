package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftlabs/driftwood/internal/config"
	"github.com/driftlabs/driftwood/internal/memory"
	"github.com/driftlabs/driftwood/pkg/models"
)

func buildMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and manage memory blocks",
	}
	cmd.AddCommand(
		buildMemoryListCmd(),
		buildMemoryPendingCmd(),
		buildMemoryApproveCmd(),
		buildMemoryRejectCmd(),
	)
	return cmd
}

func openManager() (*memory.SQLiteManager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return memory.OpenSQLite(cfg.Database.Path, "agent")
}

func buildMemoryListCmd() *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memory blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			blocks, err := mgr.List(cmd.Context(), models.MemoryTier(tier))
			if err != nil {
				return err
			}
			if len(blocks) == 0 {
				fmt.Println("no memory blocks")
				return nil
			}
			for _, b := range blocks {
				fmt.Printf("%s  [%s/%s]  %s\n", b.ID, b.Tier, b.Permission, b.Label)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tier, "tier", "", "Restrict to one tier (core, working, archival)")
	return cmd
}

func buildMemoryPendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List queued writes awaiting review",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()

			mutations, err := mgr.PendingMutations(cmd.Context())
			if err != nil {
				return err
			}
			if len(mutations) == 0 {
				fmt.Println("no pending mutations")
				return nil
			}
			for _, m := range mutations {
				fmt.Printf("%s  %s  (%s)\n", m.ID, m.Label, m.Reason)
			}
			return nil
		},
	}
}

func buildMemoryApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <mutation-id>",
		Short: "Apply a queued write",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			return mgr.ApproveMutation(cmd.Context(), args[0])
		},
	}
}

func buildMemoryRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject <mutation-id>",
		Short: "Discard a queued write",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := openManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			return mgr.RejectMutation(cmd.Context(), args[0])
		},
	}
}
