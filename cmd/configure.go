package cmd

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tendwatch/tendwatch/internal/config"
	"github.com/tendwatch/tendwatch/internal/datadir"
)

// configureCmd runs an interactive setup wizard that writes config.yml, the
// one piece of onboarding the teacher's own auto-onboard flow (cmd/onboard_auto.go)
// never needed since it detects providers from environment variables alone.
// tendwatch's principal-facing setup (channel tokens, active hours) has no
// env-var equivalent, so it asks.
func configureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Interactively configure providers, channels, and active hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			root := resolveDataDir()
			layout, err := datadir.Bootstrap(root)
			if err != nil {
				return fmt.Errorf("bootstrap data dir: %w", err)
			}

			path := resolveConfigPath(root)
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load existing config: %w", err)
			}

			if err := runConfigureForm(cfg); err != nil {
				return err
			}

			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Printf("Wrote %s\n", layout.ConfigFile)
			return nil
		},
	}
}

func runConfigureForm(cfg *config.Config) error {
	providerName := cfg.Providers.Primary.Name
	if providerName == "" {
		providerName = "anthropic"
	}
	apiKey := cfg.Providers.Primary.APIKey
	model := cfg.Providers.Primary.Model

	telegramEnabled := cfg.Channels.Telegram.Enabled
	telegramToken := cfg.Channels.Telegram.Token
	telegramChatID := cfg.Channels.Telegram.ChatID

	whatsappEnabled := cfg.Channels.WhatsApp.Enabled
	whatsappBridgeURL := cfg.Channels.WhatsApp.BridgeURL
	whatsappChatID := cfg.Channels.WhatsApp.ChatID

	timezone := cfg.Timezone
	if timezone == "" {
		timezone = "UTC"
	}
	activeStart := cfg.Scheduler.ActiveHours.Start
	activeEnd := cfg.Scheduler.ActiveHours.End

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Primary LLM provider").
				Options(
					huh.NewOption("Anthropic", "anthropic"),
					huh.NewOption("OpenAI", "openai"),
					huh.NewOption("OpenRouter", "openrouter"),
					huh.NewOption("Groq", "groq"),
					huh.NewOption("DeepSeek", "deepseek"),
				).
				Value(&providerName),
			huh.NewInput().
				Title("API key").
				EchoMode(huh.EchoModePassword).
				Value(&apiKey),
			huh.NewInput().
				Title("Model").
				Placeholder("e.g. claude-sonnet-4-5").
				Value(&model),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable Telegram?").
				Value(&telegramEnabled),
			huh.NewInput().
				Title("Telegram bot token").
				EchoMode(huh.EchoModePassword).
				Value(&telegramToken),
			huh.NewInput().
				Title("Telegram chat ID (your own, the single principal)").
				Value(&telegramChatID),
		),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable WhatsApp?").
				Value(&whatsappEnabled),
			huh.NewInput().
				Title("WhatsApp bridge URL").
				Placeholder("http://localhost:8080").
				Value(&whatsappBridgeURL),
			huh.NewInput().
				Title("WhatsApp chat ID").
				Value(&whatsappChatID),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Timezone").
				Placeholder("UTC").
				Value(&timezone),
			huh.NewInput().
				Title("Active hours start (HH:MM, local)").
				Placeholder("08:00").
				Value(&activeStart),
			huh.NewInput().
				Title("Active hours end (HH:MM, local)").
				Placeholder("22:00").
				Value(&activeEnd),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	cfg.Providers.Primary = config.ProviderConfig{Name: providerName, APIKey: apiKey, Model: model}

	cfg.Channels.Telegram.Enabled = telegramEnabled
	cfg.Channels.Telegram.Token = telegramToken
	cfg.Channels.Telegram.ChatID = telegramChatID

	cfg.Channels.WhatsApp.Enabled = whatsappEnabled
	cfg.Channels.WhatsApp.BridgeURL = whatsappBridgeURL
	cfg.Channels.WhatsApp.ChatID = whatsappChatID

	cfg.Timezone = timezone
	cfg.Scheduler.ActiveHours.Start = activeStart
	cfg.Scheduler.ActiveHours.End = activeEnd
	cfg.Scheduler.ActiveHours.Timezone = timezone

	return nil
}
