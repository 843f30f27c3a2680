// ABOUTME: TOML agent roster describing the remote agents the gateway can run
// ABOUTME: Each entry names an agent, its wire protocol, and its endpoint

package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Protocol names accepted in roster entries.
const (
	ProtocolTask = "task"
	ProtocolTool = "tool"
)

// Roster is the set of agents the gateway knows how to reach.
type Roster struct {
	Agents []AgentEntry `toml:"agent"`
}

// AgentEntry describes one remote agent.
type AgentEntry struct {
	ID          string `toml:"id"`
	DisplayName string `toml:"display_name"`
	Protocol    string `toml:"protocol"`
	Endpoint    string `toml:"endpoint"`
	Model       string `toml:"model"`
}

// LoadRoster reads the TOML roster from the given path, expanding
// environment variables.
func LoadRoster(path string) (*Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var roster Roster
	if _, err := toml.Decode(expanded, &roster); err != nil {
		return nil, fmt.Errorf("parsing roster: %w", err)
	}

	if err := roster.Validate(); err != nil {
		return nil, fmt.Errorf("validating roster: %w", err)
	}

	return &roster, nil
}

// Validate checks every entry is complete and IDs are unique.
func (r *Roster) Validate() error {
	seen := make(map[string]bool, len(r.Agents))
	for i, a := range r.Agents {
		if a.ID == "" {
			return fmt.Errorf("agent %d: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agent %q: duplicate id", a.ID)
		}
		seen[a.ID] = true

		switch a.Protocol {
		case ProtocolTask, ProtocolTool:
		default:
			return fmt.Errorf("agent %q: unknown protocol %q", a.ID, a.Protocol)
		}

		if a.Endpoint == "" {
			return fmt.Errorf("agent %q: endpoint is required", a.ID)
		}
	}
	return nil
}

// Lookup returns the entry for an agent ID, or nil when absent.
func (r *Roster) Lookup(id string) *AgentEntry {
	for i := range r.Agents {
		if r.Agents[i].ID == id {
			return &r.Agents[i]
		}
	}
	return nil
}
