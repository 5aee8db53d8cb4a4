// Package config holds tendwatch's typed configuration tree, its YAML
// loader, and the fsnotify-backed hot-reload watcher.
package config

import (
	"encoding/json"
	"sync"
)

// Config is the root configuration for tendwatch.
type Config struct {
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Timezone   string           `yaml:"timezone" json:"timezone"`
	Agent      AgentConfig      `yaml:"agent" json:"agent"`
	Providers  ProvidersConfig  `yaml:"providers" json:"providers"`
	Channels   ChannelsConfig   `yaml:"channels" json:"channels"`
	Memory     MemoryConfig     `yaml:"memory" json:"memory"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" json:"scheduler"`
	Queue      QueueConfig      `yaml:"queue" json:"queue"`
	Trust      TrustConfig      `yaml:"trust" json:"trust"`
	Worker     WorkerConfig     `yaml:"worker" json:"worker"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`

	mu sync.RWMutex
}

// AgentConfig names the assistant's identity and base instructions, per
// spec.md §6's recognised `agent.{name, system_prompt, reflection_model}`
// keys (model/fallback_models live on ProvidersConfig, timezone on Config).
type AgentConfig struct {
	Name            string `yaml:"name,omitempty" json:"name,omitempty"`
	SystemPrompt    string `yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	ReflectionModel string `yaml:"reflection_model,omitempty" json:"reflection_model,omitempty"`
}

// ProvidersConfig lists the LLM completion providers available for the
// session orchestrator's fallback chain, in priority order.
type ProvidersConfig struct {
	Primary  ProviderConfig   `yaml:"primary" json:"primary"`
	Fallback []ProviderConfig `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// ProviderConfig names one completion backend.
type ProviderConfig struct {
	Name    string `yaml:"name" json:"name"`       // "anthropic", "openai", ...
	APIKey  string `yaml:"api_key" json:"-"`        // never marshaled back out
	APIBase string `yaml:"api_base,omitempty" json:"api_base,omitempty"`
	Model   string `yaml:"model" json:"model"`
}

// MemoryConfig configures the archival store's hybrid search and the
// embedding backend it calls out to.
type MemoryConfig struct {
	EmbeddingProvider string  `yaml:"embedding_provider,omitempty" json:"embedding_provider,omitempty"`
	EmbeddingModel    string  `yaml:"embedding_model,omitempty" json:"embedding_model,omitempty"`
	MaxResults        int     `yaml:"max_results,omitempty" json:"max_results,omitempty"`
	VectorWeight      float64 `yaml:"vector_weight,omitempty" json:"vector_weight,omitempty"`
	TextWeight        float64 `yaml:"text_weight,omitempty" json:"text_weight,omitempty"`
	MinScore          float64 `yaml:"min_score,omitempty" json:"min_score,omitempty"`
}

// ActiveHoursConfig restricts proactive surfacing (daily review, exact-time
// check) to a time window.
type ActiveHoursConfig struct {
	Start    string `yaml:"start" json:"start"`       // "HH:MM" inclusive
	End      string `yaml:"end" json:"end"`           // "HH:MM" exclusive, may wrap past midnight
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
}

// SchedulerConfig configures the cron-driven jobs.
type SchedulerConfig struct {
	DailyReviewCron string            `yaml:"daily_review_cron,omitempty" json:"daily_review_cron,omitempty"`
	ExactCheckCron  string            `yaml:"exact_check_cron,omitempty" json:"exact_check_cron,omitempty"`
	ReflectionCron  string            `yaml:"reflection_cron,omitempty" json:"reflection_cron,omitempty"`
	ActiveHours     ActiveHoursConfig `yaml:"active_hours,omitempty" json:"active_hours,omitempty"`
}

// QueueConfig configures the per-channel message queue.
type QueueConfig struct {
	MergeWindowMs int `yaml:"merge_window_ms,omitempty" json:"merge_window_ms,omitempty"`
	MaxDepth      int `yaml:"max_depth,omitempty" json:"max_depth,omitempty"`
}

// TrustConfig configures the tool trust gate's defaults.
type TrustConfig struct {
	DefaultDuration string `yaml:"default_duration,omitempty" json:"default_duration,omitempty"` // "once" or "always"
}

// WorkerConfig configures background research worker dispatch.
type WorkerConfig struct {
	MaxConcurrent int    `yaml:"max_concurrent,omitempty" json:"max_concurrent,omitempty"`
	TimeoutMin    int    `yaml:"timeout_min,omitempty" json:"timeout_min,omitempty"`
	PurgeAfter    string `yaml:"purge_after,omitempty" json:"purge_after,omitempty"` // Go duration, default "24h"
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty" json:"level,omitempty"` // "debug", "info", "warn", "error"
}

// ReplaceFrom copies all data fields from src into c under c's lock, for use
// by the hot-reload watcher: c is the long-lived instance every other
// component holds a pointer to, so reload must mutate in place rather than
// swap the pointer.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DataDir = src.DataDir
	c.Timezone = src.Timezone
	c.Agent = src.Agent
	c.Providers = src.Providers
	c.Channels = src.Channels
	c.Memory = src.Memory
	c.Scheduler = src.Scheduler
	c.Queue = src.Queue
	c.Trust = src.Trust
	c.Worker = src.Worker
	c.Logging = src.Logging
}

// Snapshot returns a copy of the config safe to read without holding c's
// lock, for callers (cron jobs, channel adapters) that read settings once
// per invocation rather than caching a long-lived reference.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}

// MarshalJSON satisfies json.Marshaler without exposing the mutex, reading
// the fields under c's read lock.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal((*alias)(c))
}
