package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/ensembleai/ensemble/internal/agent"
)

// ScriptedGateway replays a fixed sequence of responses, one per Invoke, in
// order. It backs offline runs and deterministic examples where no real
// model is available.
type ScriptedGateway struct {
	mu        sync.Mutex
	responses []*agent.ModelResponse
	calls     int
}

// NewScriptedGateway creates a gateway that answers with the given responses
// in order and errors once they are exhausted.
func NewScriptedGateway(responses ...*agent.ModelResponse) *ScriptedGateway {
	return &ScriptedGateway{responses: responses}
}

// Name implements agent.ModelGateway.
func (g *ScriptedGateway) Name() string {
	return "scripted"
}

// Invoke implements agent.ModelGateway.
func (g *ScriptedGateway) Invoke(ctx context.Context, req *agent.ModelRequest) (*agent.ModelResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.calls >= len(g.responses) {
		return nil, fmt.Errorf("scripted: no response for call %d", g.calls+1)
	}
	resp := g.responses[g.calls]
	g.calls++
	return resp, nil
}

// Calls reports how many invocations the gateway has served.
func (g *ScriptedGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
