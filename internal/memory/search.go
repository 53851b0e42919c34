package memory

import (
	"strings"
	"unicode/utf8"
)

const (
	// ClipLimit bounds message content returned from search results.
	ClipLimit  = 200
	clipMarker = "..."
)

// Matches reports whether query occurs in haystack, ignoring case.
// An empty query matches everything.
func Matches(haystack, query string) bool {
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(query))
}

// ClipContent truncates content to ClipLimit characters plus a trailing marker.
func ClipContent(content string) string {
	if utf8.RuneCountInString(content) <= ClipLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:ClipLimit]) + clipMarker
}

func conversationMatches(c Conversation, query string) bool {
	return Matches(c.Title, query) || Matches(c.Metadata.SearchText(), query)
}

func messageMatches(m Message, q MessageQuery) bool {
	if q.ConversationID != "" && m.ConversationID != q.ConversationID {
		return false
	}
	if q.Role != "" && m.Role != q.Role {
		return false
	}
	if q.ContentType != "" && m.ContentType != q.ContentType {
		return false
	}
	return Matches(m.Content, q.Query) || Matches(m.Metadata.SearchText(), q.Query)
}

// likePattern turns query into an ILIKE substring pattern with the
// wildcard characters escaped so the query is matched literally.
func likePattern(query string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(query) + "%"
}

func clampPage(limit, offset, fallback int) (int, int) {
	if limit <= 0 {
		limit = fallback
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
