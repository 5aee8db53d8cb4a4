package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func memoryCmd() *cobra.Command {
	var limit int
	var query string

	cmd := &cobra.Command{
		Use:       "memory [core|projections|archival|all]",
		Short:     "Dump a memory layer to stdout",
		ValidArgs: []string{"core", "projections", "archival", "all"},
		Args:      cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = args[0]
			}

			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()
			ctx := context.Background()

			if target == "core" || target == "all" {
				core, err := a.Core.Read()
				if err != nil {
					return fmt.Errorf("read core memory: %w", err)
				}
				fmt.Println("# Core memory")
				if core == "" {
					fmt.Println("(empty)")
				} else {
					fmt.Println(core)
				}
				fmt.Println()
			}

			if target == "projections" || target == "all" {
				upcoming, err := a.Projects.GetUpcoming(ctx, 3650)
				if err != nil {
					return fmt.Errorf("list projections: %w", err)
				}
				fmt.Printf("# Projections (%d)\n", len(upcoming))
				for _, p := range upcoming {
					when := p.FormatResolvedWhen()
					if when == "" {
						when = "unscheduled"
					}
					fmt.Printf("- [%s] (%s) %s — %s\n", p.ID, p.Status, when, p.Summary)
				}
				fmt.Println()
			}

			if target == "archival" || target == "all" {
				if query == "" {
					fmt.Println("# Archival memory")
					fmt.Println("(pass --query to search archival facts)")
					return nil
				}
				results, err := a.Archival.SearchKeyword(ctx, query, limit)
				if err != nil {
					return fmt.Errorf("search archival memory: %w", err)
				}
				fmt.Printf("# Archival memory matching %q (%d)\n", query, len(results))
				for _, r := range results {
					fmt.Printf("- [%s] %s\n", r.ID, r.Content)
				}
			}

			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum archival results")
	cmd.Flags().StringVar(&query, "query", "", "archival search query")
	return cmd
}
