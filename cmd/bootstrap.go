package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tendwatch/tendwatch/internal/archival"
	"github.com/tendwatch/tendwatch/internal/bus"
	"github.com/tendwatch/tendwatch/internal/config"
	"github.com/tendwatch/tendwatch/internal/corememory"
	"github.com/tendwatch/tendwatch/internal/datadir"
	"github.com/tendwatch/tendwatch/internal/embedding"
	"github.com/tendwatch/tendwatch/internal/projection"
	"github.com/tendwatch/tendwatch/internal/providers"
	"github.com/tendwatch/tendwatch/internal/session"
)

// app holds the per-process state shared by serve and the one-shot CLI
// commands (memory, reflect, archive-fact), grounded on the teacher's
// runGateway bootstrap shape but assembled piecemeal so a read-only CLI
// invocation doesn't have to stand up channels or the scheduler.
type app struct {
	Config  *config.Config
	Layout  datadir.Layout
	OwnerID string

	Core    *corememory.Store
	Archival *archival.Store
	Projects *projection.Store
}

// resolveOwnerID names the single principal user per spec.md §1's Non-goals
// (single principal per deployment): the configured Telegram chat id if
// enabled, else WhatsApp's, else a fixed fallback for config-less local use.
func resolveOwnerID(cfg *config.Config) string {
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.ChatID != "" {
		return "telegram:" + cfg.Channels.Telegram.ChatID
	}
	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.ChatID != "" {
		return "whatsapp:" + cfg.Channels.WhatsApp.ChatID
	}
	return "owner"
}

// resolveOwnerChannel names the real platform and bare chat id a synthetic
// message (scheduler wakeup, worker completion) must be enqueued under to
// actually route through channels.Manager, which only ever registers
// "telegram"/"whatsapp" lanes — unlike resolveOwnerID's prefixed
// "telegram:<chat_id>" form used for the per-user data directory, this is
// the literal (Platform, ChatID) pair a real channel adapter would have
// set on an inbound message. Falls back to PlatformSynthetic with no
// routable chat id when no channel is configured, since there is then
// nothing to deliver to regardless.
func resolveOwnerChannel(cfg *config.Config) (bus.Platform, string) {
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.ChatID != "" {
		return bus.PlatformTelegram, cfg.Channels.Telegram.ChatID
	}
	if cfg.Channels.WhatsApp.Enabled && cfg.Channels.WhatsApp.ChatID != "" {
		return bus.PlatformWhatsApp, cfg.Channels.WhatsApp.ChatID
	}
	return bus.PlatformSynthetic, "owner"
}

// loadApp bootstraps the data directory, loads config, configures the
// embedding singleton factory, and opens the three per-user stores.
// Callers that also need the LLM fallback chain call buildProviderChain
// separately.
func loadApp() (*app, error) {
	root := resolveDataDir()
	layout, err := datadir.Bootstrap(root)
	if err != nil {
		return nil, fmt.Errorf("bootstrap data dir: %w", err)
	}

	cfg, err := config.Load(resolveConfigPath(root))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.DataDir = root

	setupEmbeddingFactory(cfg)

	ownerID := resolveOwnerID(cfg)
	userDir, err := layout.EnsureUserDir(ownerID)
	if err != nil {
		return nil, fmt.Errorf("ensure user dir: %w", err)
	}

	core := corememory.Open(layout.CoreMemory)

	arc, err := archival.Open(
		filepath.Join(userDir, "memory.db"),
		archival.WithWeights(cfg.Memory.VectorWeight, cfg.Memory.TextWeight, cfg.Memory.MinScore),
	)
	if err != nil {
		return nil, fmt.Errorf("open archival store: %w", err)
	}

	proj, err := projection.Open(filepath.Join(userDir, "projections.db"))
	if err != nil {
		arc.Close()
		return nil, fmt.Errorf("open projection store: %w", err)
	}

	return &app{
		Config:   cfg,
		Layout:   layout,
		OwnerID:  ownerID,
		Core:     core,
		Archival: arc,
		Projects: proj,
	}, nil
}

func (a *app) Close() {
	if a.Archival != nil {
		a.Archival.Close()
	}
	if a.Projects != nil {
		a.Projects.Close()
	}
}

// setupEmbeddingFactory registers the process-wide embedding singleton
// factory per spec.md §5. An unconfigured provider leaves the factory
// unset, which embedding.Get() treats as "no embedder" — archival search
// degrades to keyword-only rather than failing startup.
func setupEmbeddingFactory(cfg *config.Config) {
	provider := cfg.Memory.EmbeddingProvider
	if provider == "" {
		provider = cfg.Providers.Primary.Name
	}
	apiKey := cfg.Providers.Primary.APIKey
	apiBase := ""
	if provider == cfg.Providers.Primary.Name {
		apiBase = cfg.Providers.Primary.APIBase
	}
	if apiKey == "" || cfg.Memory.EmbeddingModel == "" {
		return
	}
	embedding.SetFactory(func() (embedding.Embedder, error) {
		return embedding.NewOpenAIEmbedder(apiKey, apiBase, cfg.Memory.EmbeddingModel, 1536), nil
	})
}

// embedFunc adapts the process-wide embedding singleton to the
// func(ctx, text) ([]float32, error) shape projection.EmbedFunc and
// tools.MemoryTools.Embed both expect. A nil/unconfigured embedder yields
// a nil vector rather than an error, so callers fall back to keyword
// matching per embedding.Get's own contract.
func embedFunc(ctx context.Context, text string) ([]float32, error) {
	emb, err := embedding.Get()
	if err != nil {
		return nil, err
	}
	if emb == nil {
		return nil, nil
	}
	return emb.Embed(ctx, text)
}

// buildProviderChain constructs the LLM fallback chain from config,
// primary first then each configured fallback in order, per spec.md
// §4.7 step 5.
func buildProviderChain(cfg *config.Config) ([]session.ModelChoice, error) {
	all := append([]config.ProviderConfig{cfg.Providers.Primary}, cfg.Providers.Fallback...)
	chain := make([]session.ModelChoice, 0, len(all))
	for _, pc := range all {
		if pc.Name == "" {
			continue
		}
		p, err := newProvider(pc)
		if err != nil {
			return nil, err
		}
		chain = append(chain, session.ModelChoice{Provider: p, Model: pc.Model})
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no LLM provider configured; run `tendwatch configure`")
	}
	return chain, nil
}

func newProvider(pc config.ProviderConfig) (providers.Provider, error) {
	switch pc.Name {
	case "anthropic":
		var opts []providers.AnthropicOption
		if pc.Model != "" {
			opts = append(opts, providers.WithAnthropicModel(pc.Model))
		}
		if pc.APIBase != "" {
			opts = append(opts, providers.WithAnthropicBaseURL(pc.APIBase))
		}
		return providers.NewAnthropicProvider(pc.APIKey, opts...), nil
	case "openai", "openrouter", "groq", "deepseek":
		return providers.NewOpenAIProvider(pc.Name, pc.APIKey, pc.APIBase, pc.Model), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", pc.Name)
	}
}
