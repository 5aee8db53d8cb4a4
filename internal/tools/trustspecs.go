package tools

import "github.com/tendwatch/tendwatch/internal/trust"

// DefaultTrustSpecs declares the trust level and required capabilities of
// every tool this package defines. The session orchestrator feeds these
// into trust.NewGate; nothing in this package gates itself.
func DefaultTrustSpecs() []trust.ToolSpec {
	return []trust.ToolSpec{
		{Name: "memory_search", Level: trust.LevelSafe},
		{Name: "memory_add", Level: trust.LevelSafe},
		{Name: "core_memory_append", Level: trust.LevelSafe},
		{Name: "core_memory_replace", Level: trust.LevelSafe},
		{Name: "projection_add", Level: trust.LevelSafe},
		{Name: "projection_resolve", Level: trust.LevelSafe},
		{Name: "projection_list", Level: trust.LevelSafe},
		{Name: "worker_list", Level: trust.LevelSafe},
		{Name: "worker_steer", Level: trust.LevelSafe},

		{Name: "web_search", Level: trust.LevelGuarded, Capabilities: []trust.Capability{trust.CapabilityNetwork}},
		{Name: "web_fetch", Level: trust.LevelGuarded, Capabilities: []trust.Capability{trust.CapabilityNetwork}},
		{Name: "worker_dispatch", Level: trust.LevelGuarded, Capabilities: []trust.Capability{trust.CapabilityNetwork}},
		{Name: "worker_interrupt", Level: trust.LevelGuarded},
		{Name: "read_file", Level: trust.LevelGuarded, Capabilities: []trust.Capability{trust.CapabilityFilesystem}},
		{Name: "list_files", Level: trust.LevelGuarded, Capabilities: []trust.Capability{trust.CapabilityFilesystem}},

		{Name: "write_file", Level: trust.LevelElevated, Capabilities: []trust.Capability{trust.CapabilityFilesystem}},
		{Name: "shell_exec", Level: trust.LevelElevated, Capabilities: []trust.Capability{trust.CapabilityShell}},
	}
}
