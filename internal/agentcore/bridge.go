package agentcore

import (
	"github.com/haasonsaas/agentcore/pkg/models"
)

// toModelContent converts a frontend adapter's loosely-typed
// pluginsdk.InboundMessage.Content (string or []models.Part, per
// pluginsdk's doc comment) into the core's models.Content.
func toModelContent(content any) models.Content {
	switch v := content.(type) {
	case string:
		return models.NewTextContent(v)
	case models.Content:
		return v
	case []models.Part:
		return models.NewPartsContent(v)
	case nil:
		return models.NewTextContent("")
	default:
		return models.NewTextContent("")
	}
}

// fromModelContent converts a models.Content back into the any-typed
// shape a pluginsdk.FrontendAdapter.SendMessage expects.
func fromModelContent(c models.Content) any {
	if c.IsParts() {
		return c.Parts
	}
	return c.Text
}
