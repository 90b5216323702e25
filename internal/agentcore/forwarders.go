package agentcore

import (
	"github.com/haasonsaas/agentcore/internal/contextstore"
	"github.com/haasonsaas/agentcore/internal/tools"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// contextFacade satisfies tools.ContextFacade by forwarding to a
// *contextstore.Store set after both stores exist. The tool registry is
// constructed before the context store (it must be, since the context
// store needs the registry's ToolsSchema), so this forwarder lets
// NewRegistry close over a facade whose target isn't built yet.
type contextFacade struct {
	store *contextstore.Store
}

func (f *contextFacade) Get(chatID string) (*models.ConversationContext, error) {
	return f.store.Get(chatID)
}

func (f *contextFacade) GetCustomPrompt(chatID string) (string, bool, error) {
	return f.store.GetCustomPrompt(chatID)
}

// toolSchemaSource satisfies contextstore.ToolSchemaSource by forwarding
// to a *tools.Registry, resolving the other half of the same cycle.
type toolSchemaSource struct {
	registry *tools.Registry
}

func (f *toolSchemaSource) ToolsSchema() []byte {
	return f.registry.ToolsSchema()
}
