package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendwatch/tendwatch/internal/reflection"
	"github.com/tendwatch/tendwatch/internal/session"
)

func reflectCmd() *cobra.Command {
	var windowMinutes int

	cmd := &cobra.Command{
		Use:   "reflect",
		Short: "Run one reflection pass over recent conversation, out-of-band",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			chain, err := buildProviderChain(a.Config)
			if err != nil {
				return err
			}

			window, err := session.ConversationWindow(a.Layout.HistoryDir, time.Duration(windowMinutes)*time.Minute, time.Now())
			if err != nil {
				return fmt.Errorf("read conversation window: %w", err)
			}

			reflector := &reflection.LLMReflector{Provider: chain[0].Provider, Model: reflectionModel(a.Config, chain)}
			candidates, err := reflector.Reflect(context.Background(), window)
			if err != nil {
				return fmt.Errorf("reflect: %w", err)
			}

			if len(candidates) == 0 {
				fmt.Println("No new commitments found.")
				return nil
			}
			for _, c := range candidates {
				id, err := a.Projects.Add(context.Background(), c)
				if err != nil {
					return fmt.Errorf("add projection: %w", err)
				}
				fmt.Printf("Added [%s] %s\n", id, c.Summary)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&windowMinutes, "window", 120, "minutes of recent conversation to scan")
	return cmd
}
