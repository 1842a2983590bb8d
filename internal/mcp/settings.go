// Package mcp serves the change pipeline as MCP tools over streamable HTTP.
package mcp

import (
	"github.com/Laisky/codepatch/library/config"
)

// ToolsSettings switches individual MCP tools on or off.
type ToolsSettings struct {
	ApplyEnabled    bool
	RollbackEnabled bool
	ParseEnabled    bool
	GenerateEnabled bool
}

// LoadToolsSettingsFromConfig reads the MCP tools configuration.
// Every tool is enabled unless explicitly disabled.
func LoadToolsSettingsFromConfig() ToolsSettings {
	return ToolsSettings{
		ApplyEnabled:    config.Bool("settings.codepatch.mcp.tools.apply.enabled", true),
		RollbackEnabled: config.Bool("settings.codepatch.mcp.tools.rollback.enabled", true),
		ParseEnabled:    config.Bool("settings.codepatch.mcp.tools.parse_response.enabled", true),
		GenerateEnabled: config.Bool("settings.codepatch.mcp.tools.generate_change.enabled", true),
	}
}
