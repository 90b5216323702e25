package agentcore

import (
	"context"
	"time"

	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// defaultToolBuilder supplies the one tool every deployment gets for
// free: a current-time lookup, useful for exercising the tool-call loop
// end-to-end without any externally configured plug-in. Spec's tool
// Non-goals place real tool *implementations* out of scope — this
// registry exists to prove the interface, not to ship a tool catalogue.
func defaultToolBuilder(_ tools.ContextFacade) []tools.Registration {
	return []tools.Registration{
		{
			Definition: models.ToolDefinition{
				Name:        "current_time",
				Description: "Returns the current UTC time in RFC 3339 format.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{},
				},
				Enabled: true,
			},
			Handler: func(_ context.Context, _ tools.Request) (string, error) {
				return time.Now().UTC().Format(time.RFC3339), nil
			},
		},
	}
}
