package workflow

import (
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// stalledApology is returned when the model stops at a tool-requesting
// turn without emitting any text of its own.
const stalledApology = "抱歉，我暂时无法生成回复，请稍后再试。"

// extractText implements spec §4.5.2's response extraction: preferred
// message.content, then the stalled-tool-call apology, then a top-level
// fallback content field, then the stringified response — with any
// reasoning block stripped from whichever text wins.
func extractText(resp *models.ModelResponse) string {
	var text string
	switch {
	case resp.HasMessageContent && resp.MessageContent != "":
		text = resp.MessageContent
	case len(resp.ToolCalls) > 0:
		text = stalledApology
	case resp.HasFallbackContent:
		text = resp.FallbackContent
	default:
		text = resp.Raw
	}
	return stripThinking(text)
}

type thinkingTagPair struct{ open, close string }

var thinkingTags = []thinkingTagPair{
	{"<think>", "</think>"},
	{"<|thinking|>", "</|thinking|>"},
	{"[思考]", "[/思考]"},
}

// stripThinking removes a reasoning block delimited by one of the known
// tag pairs. If a full open/close pair is found, the whole block
// (including tags) is removed. If only a closing tag is found, everything
// up to and including it is dropped. Otherwise the text is returned
// unchanged.
func stripThinking(text string) string {
	for _, pair := range thinkingTags {
		if out, matched := stripOnePair(text, pair.open, pair.close); matched {
			return out
		}
	}
	return text
}

func stripOnePair(text, open, close string) (string, bool) {
	closeIdx := strings.Index(text, close)
	if closeIdx == -1 {
		return text, false
	}
	openIdx := strings.Index(text, open)
	if openIdx != -1 && openIdx < closeIdx {
		return text[:openIdx] + text[closeIdx+len(close):], true
	}
	return text[closeIdx+len(close):], true
}
