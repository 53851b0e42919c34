package session

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ent0n29/mnemo/internal/memory"
)

const excerptLimit = 80

var roleLabels = []struct {
	role  memory.Role
	label string
}{
	{memory.RoleUser, "user"},
	{memory.RoleAssistant, "assistant"},
	{memory.RoleSystem, "system"},
	{memory.RoleTool, "tool"},
}

// digest builds a deterministic plain-text summary of msgs, which must be
// non-empty and in timestamp order.
func digest(msgs []memory.Message) (string, memory.Metadata) {
	counts := make(map[memory.Role]int, len(roleLabels))
	for _, m := range msgs {
		counts[m.Role]++
	}

	parts := make([]string, 0, len(roleLabels))
	roleCounts := make(map[string]any, len(roleLabels))
	for _, rl := range roleLabels {
		n := counts[rl.role]
		if n == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%d %s", n, rl.label))
		roleCounts[string(rl.role)] = n
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Conversation with %d messages (%s).", len(msgs), strings.Join(parts, ", "))
	if first, ok := firstByRole(msgs, memory.RoleUser); ok {
		fmt.Fprintf(&b, " Opened with: %q.", excerpt(first.Content))
	}
	last := msgs[len(msgs)-1]
	if len(msgs) > 1 {
		fmt.Fprintf(&b, " Latest %s turn: %q.", last.Role, excerpt(last.Content))
	}

	md := memory.Metadata{
		"message_count": len(msgs),
		"role_counts":   roleCounts,
		"first_message": msgs[0].ID,
		"last_message":  last.ID,
		"generated_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	return b.String(), md
}

func firstByRole(msgs []memory.Message, role memory.Role) (memory.Message, bool) {
	for _, m := range msgs {
		if m.Role == role {
			return m, true
		}
	}
	return memory.Message{}, false
}

func excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= excerptLimit {
		return s
	}
	return string([]rune(s)[:excerptLimit]) + "..."
}
