package memory

import (
	"time"

	"github.com/google/uuid"
)

const (
	prefixConversation  = "conv_"
	prefixMessage       = "msg_"
	prefixToolExecution = "tool_"
	prefixSummary       = "sum_"
)

// newID returns a kind-prefixed UUIDv7. v7 ids are time-ordered and
// monotonic within the process, so lexical order follows creation order.
func newID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		return prefix + uuid.NewString()
	}
	return prefix + id.String()
}

// now is truncated to microseconds to match postgres timestamptz precision.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
