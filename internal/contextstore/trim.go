package contextstore

import (
	"log/slog"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// trimToLimit enforces invariants I2/I3: after trimming, the number of
// user messages is at most maxUser, and trimming always removes whole
// dialogue rounds (a user message plus the contiguous assistant/tool
// messages that follow it, up to but excluding the next user message).
//
// A stray assistant/tool message that precedes the first user message
// (which should never happen in a well-formed context, since the first
// message is always the system prompt) is dropped with a warning rather
// than raised, per spec §7's "invariant violation" handling.
func trimToLimit(messages []models.Message, maxUser int, logger *slog.Logger) []models.Message {
	if maxUser <= 0 {
		return messages
	}

	messages = dropLeadingOrphans(messages, logger)

	for countUsers(messages) > maxUser {
		messages = removeOldestRound(messages)
	}
	return messages
}

func countUsers(messages []models.Message) int {
	n := 0
	for _, m := range messages {
		if m.IsUser() {
			n++
		}
	}
	return n
}

// dropLeadingOrphans removes any assistant/tool message that appears
// before the first user message (after the leading system message, if
// any). Such a message has no owning dialogue round.
func dropLeadingOrphans(messages []models.Message, logger *slog.Logger) []models.Message {
	out := make([]models.Message, 0, len(messages))
	seenUser := false
	for _, m := range messages {
		if m.IsSystem() {
			out = append(out, m)
			continue
		}
		if m.IsUser() {
			seenUser = true
			out = append(out, m)
			continue
		}
		if !seenUser {
			if logger != nil {
				logger.Warn("dropping orphan message preceding any user message",
					"role", m.Role)
			}
			continue
		}
		out = append(out, m)
	}
	return out
}

// removeOldestRound deletes the first user message found and every
// assistant/tool message contiguously following it, stopping at the
// next user message (or end of slice).
func removeOldestRound(messages []models.Message) []models.Message {
	start := -1
	for i, m := range messages {
		if m.IsUser() {
			start = i
			break
		}
	}
	if start == -1 {
		return messages
	}

	end := start + 1
	for end < len(messages) && !messages[end].IsUser() {
		end++
	}

	out := make([]models.Message, 0, len(messages)-(end-start))
	out = append(out, messages[:start]...)
	out = append(out, messages[end:]...)
	return out
}
