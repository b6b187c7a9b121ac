// Package richtext canonicalizes rich-text document trees and flattens them
// into paragraph text.
package richtext

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/goccy/go-json"
)

// Doc is a decoded rich-text tree: nodes carry a "type", optional "text" and
// an optional "content" holding child nodes.
type Doc map[string]any

// Empty returns a document with no content.
func Empty() Doc {
	return Doc{"type": "doc", "content": []any{}}
}

// Decode parses a JSON object into a Doc.
func Decode(data []byte) (Doc, error) {
	var d Doc
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if d == nil {
		return nil, fmt.Errorf("decode document: not a JSON object")
	}
	return d, nil
}

// Encode is the storage encoding of d, which is its canonical form.
func Encode(d Doc) ([]byte, error) {
	return Canonical(d)
}

// Canonical serializes d with sorted keys, no insignificant whitespace and
// no HTML escaping. A nil Doc serializes as Empty().
func Canonical(d Doc) ([]byte, error) {
	if d == nil {
		d = Empty()
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("canonicalize document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Hash returns the hex SHA-256 of the canonical serialization of d.
func Hash(d Doc) string {
	b, err := Canonical(d)
	if err != nil {
		// Decoded JSON always re-encodes; fall back to the printed form.
		b = []byte(fmt.Sprint(d))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// CharCount counts the visible characters of every text node and nested
// content value in d.
func CharCount(d Doc) int {
	if d == nil {
		return 0
	}
	return countNode(map[string]any(d))
}

func countNode(node any) int {
	switch n := node.(type) {
	case Doc:
		return countNode(map[string]any(n))
	case map[string]any:
		total := 0
		if text, ok := n["text"].(string); ok {
			total += utf8.RuneCountInString(text)
		}
		if content, ok := n["content"]; ok {
			total += countNode(content)
		}
		return total
	case []any:
		total := 0
		for _, item := range n {
			total += countNode(item)
		}
		return total
	case string:
		return utf8.RuneCountInString(n)
	}
	return 0
}

// Paragraphs returns the trimmed, non-empty text of every paragraph node in
// document order.
func Paragraphs(d Doc) []string {
	var out []string
	if d == nil {
		return out
	}
	if content, ok := d["content"]; ok {
		collectParagraphs(content, &out)
	}
	return out
}

func collectParagraphs(node any, out *[]string) {
	switch n := node.(type) {
	case Doc:
		collectParagraphs(map[string]any(n), out)
	case map[string]any:
		if n["type"] == "paragraph" {
			var text string
			switch c := n["content"].(type) {
			case []any:
				var sb strings.Builder
				for _, child := range c {
					if m, ok := child.(map[string]any); ok {
						if s, ok := m["text"].(string); ok {
							sb.WriteString(s)
						}
					}
				}
				text = sb.String()
			case string:
				text = c
			}
			if text = strings.TrimSpace(text); text != "" {
				*out = append(*out, text)
			}
		}
		if content, ok := n["content"]; ok {
			collectParagraphs(content, out)
		}
	case []any:
		for _, item := range n {
			collectParagraphs(item, out)
		}
	}
}

// PlainText joins the paragraphs of d with newlines.
func PlainText(d Doc) string {
	return strings.Join(Paragraphs(d), "\n")
}

// Preview returns at most n runes of the plain text of d.
func Preview(d Doc, n int) string {
	text := PlainText(d)
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	runes := []rune(text)
	return string(runes[:n]) + "..."
}

// FromText builds a document with one paragraph per non-blank line of text.
func FromText(text string) Doc {
	content := []any{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		content = append(content, map[string]any{
			"type":    "paragraph",
			"content": []any{map[string]any{"type": "text", "text": line}},
		})
	}
	return Doc{"type": "doc", "content": content}
}
