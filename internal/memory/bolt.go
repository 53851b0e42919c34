package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltScheme selects the embedded single-file store in DATABASE_URL.
const BoltScheme = "bolt://"

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	// per-conversation message id sets and per-parent child records live in
	// nested buckets keyed by the parent id.
	bucketConversationMessages = []byte("conversation_messages")
	bucketToolExecutions       = []byte("tool_executions")
	bucketSummaries            = []byte("summaries")

	boltBuckets = [][]byte{
		bucketConversations,
		bucketMessages,
		bucketConversationMessages,
		bucketToolExecutions,
		bucketSummaries,
	}
)

// BoltStore keeps every record as JSON in a single bbolt file. It suits one
// process on one host; bbolt holds an exclusive file lock while open.
type BoltStore struct {
	db   *bolt.DB
	path string
}

func NewBoltStore(path string) (*BoltStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("bolt store path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create bolt dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range boltBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db, path: path}, nil
}

func (s *BoltStore) Mode() string { return "bolt" }

func (s *BoltStore) Ping(_ context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketConversations) == nil {
			return fmt.Errorf("bolt %s: schema missing", s.path)
		}
		return nil
	})
}

func (s *BoltStore) CreateConversation(_ context.Context, title string, metadata Metadata) (Conversation, error) {
	ts := now()
	c := Conversation{
		ID:        newID(prefixConversation),
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
		Metadata:  metadata.orEmpty().Clone(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketConversations), c.ID, c)
	})
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

func (s *BoltStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	var c Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketConversations), id, &c)
	})
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *BoltStore) ListConversations(_ context.Context, limit, offset int) ([]Conversation, error) {
	limit, offset = clampPage(limit, offset, 50)
	all, err := s.conversations(func(Conversation) bool { return true })
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	sortConversations(all)
	return page(all, limit, offset), nil
}

func (s *BoltStore) UpdateConversationTitle(_ context.Context, id, title string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		var c Conversation
		if err := getJSON(b, id, &c); err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}
		c.Title = title
		return putJSON(b, c.ID, c)
	})
}

func (s *BoltStore) CreateMessage(_ context.Context, msg NewMessage) (Message, error) {
	if msg.ContentType == "" {
		msg.ContentType = ContentText
	}
	var m Message
	err := s.db.Update(func(tx *bolt.Tx) error {
		convs := tx.Bucket(bucketConversations)
		var conv Conversation
		if err := getJSON(convs, msg.ConversationID, &conv); err != nil {
			if err == ErrNotFound {
				return &ReferentialError{Entity: "conversation", ID: msg.ConversationID}
			}
			return err
		}
		ts := now()
		m = Message{
			ID:             newID(prefixMessage),
			ConversationID: msg.ConversationID,
			Role:           msg.Role,
			Content:        msg.Content,
			ContentType:    msg.ContentType,
			Timestamp:      ts,
			Metadata:       msg.Metadata.orEmpty().Clone(),
		}
		if err := putJSON(tx.Bucket(bucketMessages), m.ID, m); err != nil {
			return err
		}
		set, err := tx.Bucket(bucketConversationMessages).CreateBucketIfNotExists([]byte(m.ConversationID))
		if err != nil {
			return err
		}
		if err := set.Put([]byte(m.ID), []byte{}); err != nil {
			return err
		}
		if ts.After(conv.UpdatedAt) {
			conv.UpdatedAt = ts
			return putJSON(convs, conv.ID, conv)
		}
		return nil
	})
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	return m, nil
}

// CreateConversationWithMessage writes both records in one Update transaction.
func (s *BoltStore) CreateConversationWithMessage(_ context.Context, title string, metadata Metadata, msg NewMessage) (Conversation, Message, error) {
	if msg.ContentType == "" {
		msg.ContentType = ContentText
	}
	ts := now()
	c := Conversation{
		ID:        newID(prefixConversation),
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
		Metadata:  metadata.orEmpty().Clone(),
	}
	m := Message{
		ID:             newID(prefixMessage),
		ConversationID: c.ID,
		Role:           msg.Role,
		Content:        msg.Content,
		ContentType:    msg.ContentType,
		Timestamp:      ts,
		Metadata:       msg.Metadata.orEmpty().Clone(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketConversations), c.ID, c); err != nil {
			return err
		}
		if err := putJSON(tx.Bucket(bucketMessages), m.ID, m); err != nil {
			return err
		}
		set, err := tx.Bucket(bucketConversationMessages).CreateBucketIfNotExists([]byte(c.ID))
		if err != nil {
			return err
		}
		return set.Put([]byte(m.ID), []byte{})
	})
	if err != nil {
		return Conversation{}, Message{}, fmt.Errorf("create conversation with message: %w", err)
	}
	return c, m, nil
}

func (s *BoltStore) GetMessage(_ context.Context, id string) (Message, error) {
	var m Message
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketMessages), id, &m)
	})
	if err != nil {
		return Message{}, err
	}
	return m, nil
}

func (s *BoltStore) GetMessages(_ context.Context, conversationID string, limit, offset int) ([]Message, error) {
	limit, offset = clampPage(limit, offset, 100)
	out := []Message{}
	err := s.db.View(func(tx *bolt.Tx) error {
		set := tx.Bucket(bucketConversationMessages).Bucket([]byte(conversationID))
		if set == nil {
			return nil
		}
		msgs := tx.Bucket(bucketMessages)
		return set.ForEach(func(k, _ []byte) error {
			var m Message
			if err := getJSON(msgs, string(k), &m); err != nil {
				return err
			}
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return page(out, limit, offset), nil
}

func (s *BoltStore) CreateToolExecution(_ context.Context, exec NewToolExecution) (ToolExecution, error) {
	if exec.Success == "" {
		exec.Success = OutcomeTrue
	}
	te := ToolExecution{
		ID:            newID(prefixToolExecution),
		MessageID:     exec.MessageID,
		ToolName:      exec.ToolName,
		ToolArgs:      exec.ToolArgs.orEmpty().Clone(),
		ToolResult:    exec.ToolResult.orEmpty().Clone(),
		DurationMS:    exec.DurationMS,
		Success:       exec.Success,
		ExecutionTime: now(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketMessages).Get([]byte(exec.MessageID)) == nil {
			return &ReferentialError{Entity: "message", ID: exec.MessageID}
		}
		return putChild(tx.Bucket(bucketToolExecutions), te.MessageID, te.ID, te)
	})
	if err != nil {
		return ToolExecution{}, fmt.Errorf("create tool execution: %w", err)
	}
	return te, nil
}

func (s *BoltStore) GetToolExecutions(_ context.Context, messageID string) ([]ToolExecution, error) {
	out := []ToolExecution{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return eachChild(tx.Bucket(bucketToolExecutions), messageID, func(raw []byte) error {
			var te ToolExecution
			if err := json.Unmarshal(raw, &te); err != nil {
				return err
			}
			out = append(out, te)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get tool executions: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExecutionTime.Equal(out[j].ExecutionTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].ExecutionTime.Before(out[j].ExecutionTime)
	})
	return out, nil
}

func (s *BoltStore) CreateSummary(_ context.Context, summary NewSummary) (Summary, error) {
	if summary.SummaryType == "" {
		summary.SummaryType = SummaryAuto
	}
	sum := Summary{
		ID:             newID(prefixSummary),
		ConversationID: summary.ConversationID,
		Content:        summary.Content,
		SummaryType:    summary.SummaryType,
		CreatedAt:      now(),
		Metadata:       summary.Metadata.orEmpty().Clone(),
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketConversations).Get([]byte(summary.ConversationID)) == nil {
			return &ReferentialError{Entity: "conversation", ID: summary.ConversationID}
		}
		return putChild(tx.Bucket(bucketSummaries), sum.ConversationID, sum.ID, sum)
	})
	if err != nil {
		return Summary{}, fmt.Errorf("create summary: %w", err)
	}
	return sum, nil
}

func (s *BoltStore) GetSummaries(_ context.Context, conversationID string) ([]Summary, error) {
	out := []Summary{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return eachChild(tx.Bucket(bucketSummaries), conversationID, func(raw []byte) error {
			var sum Summary
			if err := json.Unmarshal(raw, &sum); err != nil {
				return err
			}
			out = append(out, sum)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get summaries: %w", err)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ConversationStats counts inside one read transaction so the three numbers
// describe the same snapshot.
func (s *BoltStore) ConversationStats(_ context.Context, conversationID string) (Stats, error) {
	var st Stats
	err := s.db.View(func(tx *bolt.Tx) error {
		set := tx.Bucket(bucketConversationMessages).Bucket([]byte(conversationID))
		if set != nil {
			execs := tx.Bucket(bucketToolExecutions)
			err := set.ForEach(func(k, _ []byte) error {
				st.MessageCount++
				if b := execs.Bucket(k); b != nil {
					st.ToolExecutionCount += countKeys(b)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		if b := tx.Bucket(bucketSummaries).Bucket([]byte(conversationID)); b != nil {
			st.SummaryCount = countKeys(b)
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("conversation stats: %w", err)
	}
	return st, nil
}

func (s *BoltStore) SearchConversations(_ context.Context, query string, limit int) ([]Conversation, error) {
	limit, _ = clampPage(limit, 0, 20)
	out, err := s.conversations(func(c Conversation) bool { return conversationMatches(c, query) })
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	sortConversations(out)
	return page(out, limit, 0), nil
}

func (s *BoltStore) SearchMessages(_ context.Context, q MessageQuery) ([]Message, error) {
	limit, offset := clampPage(q.Limit, q.Offset, 50)
	var out []Message
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMessages).ForEach(func(_, v []byte) error {
			var m Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			if messageMatches(m, q) {
				out = append(out, m)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return page(out, limit, offset), nil
}

func (s *BoltStore) Counts(_ context.Context) (Counts, error) {
	var c Counts
	err := s.db.View(func(tx *bolt.Tx) error {
		c.Conversations = countKeys(tx.Bucket(bucketConversations))
		c.Messages = countKeys(tx.Bucket(bucketMessages))
		c.ToolExecutions = countNested(tx.Bucket(bucketToolExecutions))
		c.Summaries = countNested(tx.Bucket(bucketSummaries))
		return nil
	})
	if err != nil {
		return Counts{}, fmt.Errorf("count records: %w", err)
	}
	return c, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) conversations(keep func(Conversation) bool) ([]Conversation, error) {
	var out []Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(_, v []byte) error {
			var c Conversation
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			if keep(c) {
				out = append(out, c)
			}
			return nil
		})
	})
	return out, err
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), raw)
}

func getJSON(b *bolt.Bucket, key string, out any) error {
	raw := b.Get([]byte(key))
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, out)
}

func putChild(parent *bolt.Bucket, parentID, id string, v any) error {
	b, err := parent.CreateBucketIfNotExists([]byte(parentID))
	if err != nil {
		return err
	}
	return putJSON(b, id, v)
}

func eachChild(parent *bolt.Bucket, parentID string, fn func(raw []byte) error) error {
	b := parent.Bucket([]byte(parentID))
	if b == nil {
		return nil
	}
	return b.ForEach(func(_, v []byte) error { return fn(v) })
}

func countKeys(b *bolt.Bucket) int {
	n := 0
	_ = b.ForEach(func(_, _ []byte) error {
		n++
		return nil
	})
	return n
}

func countNested(parent *bolt.Bucket) int {
	n := 0
	_ = parent.ForEach(func(k, v []byte) error {
		if v == nil {
			if b := parent.Bucket(k); b != nil {
				n += countKeys(b)
			}
		}
		return nil
	})
	return n
}
