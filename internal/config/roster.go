package config

import (
	"encoding/json"
	"fmt"

	"github.com/ensembleai/ensemble/internal/agent"
)

// BuildRoster materializes the configured agents into a live agent graph and
// returns the entry agent. Handoff declarations become transfer tools on the
// delegating agent; extra tools are registered by the caller afterwards via
// each agent's registry.
func (c *Config) BuildRoster() (*agent.Agent, map[string]*agent.Agent, error) {
	agents := make(map[string]*agent.Agent, len(c.Agents))
	for _, ac := range c.Agents {
		a := &agent.Agent{
			Name:                    ac.Name,
			Instructions:            ac.Instructions,
			Tools:                   agent.NewToolRegistry(),
			StepLimit:               ac.StepLimit,
			KeepTranscriptOnHandoff: ac.KeepTranscript,
		}
		if ac.OutputSchema != "" {
			if !json.Valid([]byte(ac.OutputSchema)) {
				return nil, nil, fmt.Errorf("agent %q output schema is not valid JSON", ac.Name)
			}
			a.OutputSchema = json.RawMessage(ac.OutputSchema)
		}
		agents[ac.Name] = a
	}

	// Second pass: wire handoff targets and their transfer tools, now that
	// every target exists.
	for _, ac := range c.Agents {
		a := agents[ac.Name]
		for _, name := range ac.Handoffs {
			target, ok := agents[name]
			if !ok {
				return nil, nil, fmt.Errorf("agent %q hands off to unknown agent %q", ac.Name, name)
			}
			a.Handoffs = append(a.Handoffs, target)
			a.Tools.Register(agent.HandoffTool(target, ""))
		}
	}

	entry, ok := agents[c.EntryAgent]
	if !ok {
		return nil, nil, fmt.Errorf("entry agent %q is not in the roster", c.EntryAgent)
	}
	return entry, agents, nil
}
