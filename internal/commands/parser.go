package commands

import (
	"strings"
	"unicode"
)

// DefaultPrefix is the command marker workflows A and B look for (spec §4.7).
const DefaultPrefix = "#"

// Parser detects and splits "#"-prefixed commands. Unlike a Latin-alphabet
// slash-command parser, it has no charclass restriction on the command
// name: 模型查询, 模型更换, etc. are ordinary command names.
type Parser struct {
	prefix string
}

// NewParser creates a Parser for the given prefix (DefaultPrefix if empty).
func NewParser(prefix string) *Parser {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Parser{prefix: prefix}
}

// IsCommand reports whether text begins with the command prefix followed
// by at least one non-space rune.
func (p *Parser) IsCommand(text string) bool {
	return p.ParseCommand(text) != nil
}

// ParseCommand splits "#name args..." into a ParsedCommand. The command
// name is the first whitespace-delimited token after the prefix; args is
// everything after the first run of whitespace, trimmed. Names are
// case-sensitive, matching Chinese command names verbatim.
func (p *Parser) ParseCommand(text string) *ParsedCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, p.prefix) {
		return nil
	}
	body := strings.TrimSpace(text[len(p.prefix):])
	if body == "" {
		return nil
	}

	idx := strings.IndexFunc(body, unicode.IsSpace)
	name := body
	args := ""
	if idx != -1 {
		name = body[:idx]
		args = strings.TrimSpace(body[idx:])
	}

	return &ParsedCommand{
		Name:   name,
		Args:   args,
		Prefix: p.prefix,
	}
}
