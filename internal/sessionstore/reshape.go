package sessionstore

import (
	"context"
	"strings"

	"github.com/haasonsaas/agentcore/pkg/models"
)

const (
	attentionPrefix = "当前请求：\n"
	attentionSuffix = "\n\n注意：以上是当前需要处理的具体问题，请优先关注并回应当前请求。历史对话仅作为背景信息参考。"
)

func wrapAttention(text string) string {
	return attentionPrefix + text + attentionSuffix
}

func stripAttention(text string) string {
	if strings.HasPrefix(text, attentionPrefix) && strings.HasSuffix(text, attentionSuffix) {
		return text[len(attentionPrefix) : len(text)-len(attentionSuffix)]
	}
	return text
}

// ImageResolver resolves a remote image_url into an inline base64 data
// URI, consulting (and waiting on, if a fetch is in flight) the external
// image fetcher's per-chat cache. ok is false if the image could not be
// resolved and should be dropped from the reshaped content.
type ImageResolver interface {
	ResolveImage(ctx context.Context, chatID, url string) (dataURI string, ok bool)
}

// reshape builds the ephemeral session's data block from a context
// snapshot per spec §4.3.
func reshape(ctx context.Context, chatID string, snapshot *models.ConversationContext, resolver ImageResolver) []models.Message {
	out := make([]models.Message, len(snapshot.Messages))
	copy(out, snapshot.Messages)

	lastUserIndex := -1
	for i, m := range out {
		if m.IsUser() {
			lastUserIndex = i
		}
	}

	for i := range out {
		m := &out[i]
		if m.IsSystem() {
			continue
		}
		if m.IsUser() {
			reshapeUserMessage(m, i, lastUserIndex, out)
		}
		resolveImages(ctx, chatID, m, resolver)
		if snapshot.ChatMode == models.ChatModeLLM && m.Content.IsParts() {
			m.Content = models.NewTextContent(m.Content.TextContent())
		}
	}

	return out
}

func reshapeUserMessage(m *models.Message, index, lastUserIndex int, all []models.Message) {
	isCurrent := index == lastUserIndex && !followedByTool(all, index)

	rewrite := func(text string) string {
		if isCurrent {
			return wrapAttention(stripAttention(text))
		}
		return stripAttention(text)
	}

	if !m.Content.IsParts() {
		m.Content = models.NewTextContent(rewrite(m.Content.Text))
		return
	}

	parts := make([]models.Part, len(m.Content.Parts))
	copy(parts, m.Content.Parts)
	for i, p := range parts {
		if p.Type == models.PartText {
			parts[i].Text = rewrite(p.Text)
		}
	}
	m.Content = models.NewPartsContent(parts)
}

func followedByTool(all []models.Message, index int) bool {
	for j := index + 1; j < len(all); j++ {
		if all[j].IsTool() {
			return true
		}
	}
	return false
}

func resolveImages(ctx context.Context, chatID string, m *models.Message, resolver ImageResolver) {
	if !m.Content.IsParts() {
		return
	}
	parts := make([]models.Part, 0, len(m.Content.Parts))
	for _, p := range m.Content.Parts {
		if p.Type != models.PartImage || p.ImageURL == nil {
			parts = append(parts, p)
			continue
		}
		url := p.ImageURL.URL
		if strings.HasPrefix(url, "data:") {
			parts = append(parts, p)
			continue
		}
		if resolver == nil {
			continue
		}
		dataURI, ok := resolver.ResolveImage(ctx, chatID, url)
		if !ok {
			continue
		}
		parts = append(parts, models.Part{Type: models.PartImage, ImageURL: &models.ImageURL{URL: dataURI}})
	}
	m.Content = models.NewPartsContent(parts)
}
