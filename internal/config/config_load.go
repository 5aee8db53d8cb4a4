package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${UPPER_CASE_NAME}-style placeholders only. Anything
// that doesn't match — lowercase placeholders like ${city} a user might
// write inside a projection template — is left untouched for downstream
// template expansion.
var envVarPattern = regexp.MustCompile(`\$\{([A-Z][A-Z0-9_]*)\}`)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir:  ExpandHome("~/.tendwatch"),
		Timezone: "UTC",
		Agent: AgentConfig{
			Name:         "tendwatch",
			SystemPrompt: "You are tendwatch, a persistent personal assistant with long-term memory and forward-looking reminders.",
		},
		Memory: MemoryConfig{
			EmbeddingModel: "text-embedding-3-small",
			MaxResults:     6,
			VectorWeight:   0.7,
			TextWeight:     0.3,
			MinScore:       0.35,
		},
		Scheduler: SchedulerConfig{
			DailyReviewCron: "0 8 * * *",
			ExactCheckCron:  "*/5 * * * *",
			ReflectionCron:  "*/30 * * * *",
			ActiveHours: ActiveHoursConfig{
				Start: "08:00",
				End:   "22:00",
			},
		},
		Queue: QueueConfig{
			MergeWindowMs: 5000,
			MaxDepth:      10,
		},
		Trust: TrustConfig{
			DefaultDuration: "once",
		},
		Worker: WorkerConfig{
			MaxConcurrent: 3,
			TimeoutMin:    60,
			PurgeAfter:    "24h",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// substituteEnv replaces every ${UPPER_CASE_NAME} placeholder in data with
// the value of the matching environment variable. An unset variable
// substitutes to empty string and logs a startup warning rather than
// failing load, matching the teacher's permissive env-override posture.
func substituteEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		name := envVarPattern.FindSubmatch(match)[1]
		v, ok := os.LookupEnv(string(name))
		if !ok {
			slog.Warn("config: env var referenced but not set", "var", string(name))
		}
		return []byte(v)
	})
}

// Load reads config.yml from path, applying ${VAR} env substitution before
// parsing. A missing file returns the defaults rather than an error, so a
// fresh data dir can be bootstrapped by `configure` on first run.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	data = substituteEnv(data)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := yaml.Marshal(cfg)
	cfg.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Watch reloads cfg in place whenever path changes on disk, logging and
// ignoring reload errors so a transient bad edit never crashes the running
// process. Returns the underlying watcher so the caller can Close it on
// shutdown. The fsnotify editor-save dance (some editors replace the file
// rather than writing in place, firing Remove then Create) is handled by
// re-adding the watch on both Write and Create events.
func Watch(path string, cfg *Config) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch config: %w", err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				reloaded, err := Load(path)
				if err != nil {
					slog.Warn("config: reload failed, keeping previous config", "error", err)
					continue
				}
				cfg.ReplaceFrom(reloaded)
				slog.Info("config: reloaded", "path", path)
				_ = w.Add(path) // re-arm watch in case the editor replaced the inode
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("config: watcher error", "error", err)
			}
		}
	}()

	return w, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
