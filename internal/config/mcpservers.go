package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"ragchat/internal/apperr"
)

// mcpServersFile is the on-disk shape for tool-server definitions (§4.A,
// §6 persisted state): one stdio-spawned or StreamableHTTP server per
// entry, the same field set as MCPServerConfig.
type mcpServersFile struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// LoadMCPServers reads the tool-server definitions path names. A missing
// file yields an empty list rather than an error, so a deployment with no
// external tool servers configured still starts.
func LoadMCPServers(path string) ([]MCPServerConfig, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.New(apperr.Configuration, "config.LoadMCPServers", err)
	}

	var parsed mcpServersFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.New(apperr.Configuration, "config.LoadMCPServers", err)
	}
	return parsed.Servers, nil
}
