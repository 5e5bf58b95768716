package extract

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/bytedance/sonic"
)

// conversation mirrors the subset of a ChatGPT export entry we read.
type conversation struct {
	Title       string                 `json:"title"`
	CurrentNode string                 `json:"current_node"`
	Mapping     map[string]mappingNode `json:"mapping"`
}

type mappingNode struct {
	ID       string   `json:"id"`
	Parent   *string  `json:"parent"`
	Children []string `json:"children"`
	Message  *message `json:"message"`
}

type message struct {
	Author struct {
		Role string `json:"role"`
	} `json:"author"`
	Content struct {
		ContentType string `json:"content_type"`
		Parts       []any  `json:"parts"`
		Text        string `json:"text"`
	} `json:"content"`
}

// parseConversationsFile decodes a conversations.json payload. The top level must be an
// array or a single conversation object; individual entries that fail are skipped.
func parseConversationsFile(data []byte) ([]string, error) {
	data = trimBOM(data)
	var raw []json.RawMessage
	if err := sonic.Unmarshal(data, &raw); err != nil {
		text, ok := parseSingleConversation(data)
		if !ok {
			return nil, err
		}
		return []string{text}, nil
	}
	out := make([]string, 0, len(raw))
	for _, entry := range raw {
		if text, ok := parseSingleConversation(entry); ok {
			out = append(out, text)
		}
	}
	return out, nil
}

// parseSingleConversation returns the flattened text of one conversation, or false when
// the entry is not a conversation or carries no text.
func parseSingleConversation(data []byte) (string, bool) {
	var conv conversation
	if err := sonic.Unmarshal(trimBOM(data), &conv); err != nil {
		return "", false
	}
	if conv.Mapping == nil {
		return "", false
	}
	var b strings.Builder
	if title := strings.TrimSpace(conv.Title); title != "" {
		b.WriteString(title)
	}
	for _, id := range walkOrder(conv.Mapping) {
		msg := conv.Mapping[id].Message
		if msg == nil {
			continue
		}
		text := messageText(msg)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		if role := msg.Author.Role; role != "" {
			b.WriteString(role)
			b.WriteString(": ")
		}
		b.WriteString(text)
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", false
	}
	return b.String(), true
}

func messageText(msg *message) string {
	parts := make([]string, 0, len(msg.Content.Parts)+1)
	for _, p := range msg.Content.Parts {
		// non-string parts are attachments (images, files)
		if s, ok := p.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				parts = append(parts, s)
			}
		}
	}
	if t := strings.TrimSpace(msg.Content.Text); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, "\n")
}

// walkOrder visits the mapping tree depth-first from its roots, children in listed order.
// Nodes unreachable from a root follow, sorted by id, so the output is stable.
func walkOrder(mapping map[string]mappingNode) []string {
	roots := make([]string, 0, 1)
	for id, node := range mapping {
		if node.Parent == nil || *node.Parent == "" {
			roots = append(roots, id)
			continue
		}
		if _, ok := mapping[*node.Parent]; !ok {
			roots = append(roots, id)
		}
	}
	slices.Sort(roots)

	order := make([]string, 0, len(mapping))
	seen := make(map[string]bool, len(mapping))
	var visit func(id string)
	visit = func(id string) {
		if seen[id] {
			return
		}
		node, ok := mapping[id]
		if !ok {
			return
		}
		seen[id] = true
		order = append(order, id)
		for _, child := range node.Children {
			visit(child)
		}
	}
	for _, r := range roots {
		visit(r)
	}
	if len(order) < len(mapping) {
		rest := make([]string, 0, len(mapping)-len(order))
		for id := range mapping {
			if !seen[id] {
				rest = append(rest, id)
			}
		}
		slices.Sort(rest)
		for _, id := range rest {
			visit(id)
		}
	}
	return order
}

func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		return data[3:]
	}
	return data
}
