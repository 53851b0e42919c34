package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"
)

type Namespace string

const (
	NamespaceMessages Namespace = "conversation"
	NamespaceSearch   Namespace = "search"
	NamespaceStats    Namespace = "stats"
	NamespaceActive   Namespace = "active"
	NamespaceTool     Namespace = "tool"
)

// TTLs holds the expiry applied to each namespace.
type TTLs struct {
	Messages time.Duration
	Search   time.Duration
	Stats    time.Duration
	Active   time.Duration
	Tool     time.Duration
}

func DefaultTTLs() TTLs {
	return TTLs{
		Messages: 24 * time.Hour,
		Search:   30 * time.Minute,
		Stats:    time.Hour,
		Active:   30 * time.Minute,
		Tool:     60 * time.Minute,
	}
}

func (t TTLs) For(ns Namespace) time.Duration {
	switch ns {
	case NamespaceMessages:
		return t.Messages
	case NamespaceSearch:
		return t.Search
	case NamespaceStats:
		return t.Stats
	case NamespaceActive:
		return t.Active
	case NamespaceTool:
		return t.Tool
	default:
		return 0
	}
}

func MessagesKey(conversationID string) string {
	return fmt.Sprintf("%s:%s:messages", NamespaceMessages, conversationID)
}

func StatsKey(conversationID string) string {
	return fmt.Sprintf("%s:%s", NamespaceStats, conversationID)
}

func ActiveKey(userID string) string {
	return fmt.Sprintf("%s:%s", NamespaceActive, userID)
}

// SearchKey hashes the canonical JSON of spec. Structs encode in field order and
// maps in sorted key order, so equal specs always produce the same key.
func SearchKey(spec any) (string, error) {
	h, err := hashJSON(spec)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s", NamespaceSearch, h), nil
}

func ToolKey(toolName string, args any) (string, error) {
	h, err := hashJSON(args)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%s", NamespaceTool, toolName, h), nil
}

func hashJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("hash key: %w", err)
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(raw)), nil
}

// Namespaces applies the per-namespace TTL policy on top of a Cache and absorbs
// cache faults: a failed read is a miss and a failed write is dropped.
type Namespaces struct {
	cache *Cache
	ttl   TTLs
}

func NewNamespaces(c *Cache, ttl TTLs) *Namespaces {
	return &Namespaces{cache: c, ttl: ttl}
}

func (n *Namespaces) Cache() *Cache {
	return n.cache
}

func (n *Namespaces) TTLs() TTLs {
	return n.ttl
}

// Lookup decodes key into out and reports whether it was a hit.
func (n *Namespaces) Lookup(ns Namespace, key string, out any) bool {
	hit, err := n.cache.Get(key, out)
	if err != nil {
		logFault(ns, key, "read", err)
		return false
	}
	return hit
}

func (n *Namespaces) Store(ns Namespace, key string, value any) {
	if err := n.cache.Set(key, value, n.ttl.For(ns)); err != nil {
		logFault(ns, key, "write", err)
	}
}

// ActiveConversation returns the conversation id the user's pointer names.
func (n *Namespaces) ActiveConversation(userID string) (string, bool) {
	var id string
	if !n.Lookup(NamespaceActive, ActiveKey(userID), &id) || id == "" {
		return "", false
	}
	return id, true
}

func (n *Namespaces) SetActiveConversation(userID, conversationID string) {
	n.Store(NamespaceActive, ActiveKey(userID), conversationID)
}

func (n *Namespaces) Clear(pattern string) (int, error) {
	return n.cache.ClearPattern(pattern)
}

func logFault(ns Namespace, key, op string, err error) {
	if errors.Is(err, ErrUnavailable) {
		return
	}
	log.WithError(err).WithFields(log.Fields{
		"namespace": ns,
		"key":       key,
	}).Warnf("cache %s failed", op)
}
