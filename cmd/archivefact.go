package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendwatch/tendwatch/internal/archival"
)

func archiveFactCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive-fact <content>",
		Short: "Insert a fact into archival memory from the command line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			content := args[0]
			emb, err := embedFunc(ctx, content)
			if err != nil {
				emb = nil
			}
			id, err := a.Archival.Add(ctx, content, archival.SourceCLI, emb)
			if err != nil {
				return fmt.Errorf("add fact: %w", err)
			}

			activated, err := a.Projects.CheckTriggers(ctx, content, embedFunc, a.Config.Memory.MinScore)
			if err != nil {
				return fmt.Errorf("check projection triggers: %w", err)
			}

			fmt.Printf("Archived [%s] %s\n", id, content)
			for _, p := range activated {
				fmt.Printf("Triggered projection [%s] %s\n", p.ID, p.Summary)
			}
			return nil
		},
	}
}
