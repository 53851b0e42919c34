package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgForeignKeyViolation = "23503"

// PostgresStore persists conversational memory in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := InitSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		metadata_text TEXT NOT NULL DEFAULT '',
		CHECK (updated_at >= created_at)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations (updated_at DESC);`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT 'text',
		"timestamp" TIMESTAMPTZ NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		metadata_text TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation_ts ON messages (conversation_id, "timestamp");`,
	`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages ("timestamp" DESC);`,
	`CREATE TABLE IF NOT EXISTS tool_executions (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		tool_name TEXT NOT NULL,
		tool_args JSONB NOT NULL DEFAULT '{}'::jsonb,
		tool_result JSONB NOT NULL DEFAULT '{}'::jsonb,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		success TEXT NOT NULL DEFAULT 'true',
		execution_time TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tool_executions_message ON tool_executions (message_id, execution_time);`,
	`CREATE TABLE IF NOT EXISTS summaries (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		summary_type TEXT NOT NULL DEFAULT 'auto',
		created_at TIMESTAMPTZ NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb
	);`,
	`CREATE INDEX IF NOT EXISTS idx_summaries_conversation_created ON summaries (conversation_id, created_at DESC);`,
}

// InitSchema applies the idempotent DDL statements in order.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Mode() string { return "postgres" }

// Ping is used by readiness checks.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateConversation(ctx context.Context, title string, metadata Metadata) (Conversation, error) {
	md, err := encodeMetadata(metadata)
	if err != nil {
		return Conversation{}, err
	}
	ts := now()
	c := Conversation{
		ID:        newID(prefixConversation),
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
		Metadata:  metadata.orEmpty(),
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at, metadata, metadata_text)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		c.ID, c.Title, c.CreatedAt, c.UpdatedAt, string(md), c.Metadata.SearchText(),
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

const conversationColumns = `id, title, created_at, updated_at, metadata`

func (s *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, id)
	c, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, limit, offset int) ([]Conversation, error) {
	limit, offset = clampPage(limit, offset, 50)
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 ORDER BY updated_at DESC, id DESC LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return collectConversations(rows)
}

func (s *PostgresStore) UpdateConversationTitle(ctx context.Context, id, title string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE conversations SET title=$2 WHERE id=$1`, id, title); err != nil {
		return fmt.Errorf("update conversation title: %w", err)
	}
	return nil
}

// CreateMessage inserts the message and bumps the parent's updated_at in one transaction.
// A missing parent is detected by the bump touching no row, before anything is inserted.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg NewMessage) (Message, error) {
	if msg.ContentType == "" {
		msg.ContentType = ContentText
	}
	md, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return Message{}, err
	}
	m := Message{
		ID:             newID(prefixMessage),
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		ContentType:    msg.ContentType,
		Timestamp:      now(),
		Metadata:       msg.Metadata.orEmpty(),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = GREATEST(updated_at, $2) WHERE id=$1`,
		m.ConversationID, m.Timestamp,
	)
	if err != nil {
		return Message{}, fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Message{}, &ReferentialError{Entity: "conversation", ID: m.ConversationID}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, content_type, "timestamp", metadata, metadata_text)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, string(m.ContentType), m.Timestamp,
		string(md), m.Metadata.SearchText(),
	)
	if err != nil {
		return Message{}, referentialOr(err, "conversation", m.ConversationID, "insert message")
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, fmt.Errorf("commit tx: %w", err)
	}
	return m, nil
}

// CreateConversationWithMessage inserts a conversation and its first message in
// one transaction; a failure leaves neither row behind.
func (s *PostgresStore) CreateConversationWithMessage(ctx context.Context, title string, metadata Metadata, msg NewMessage) (Conversation, Message, error) {
	cmd, err := encodeMetadata(metadata)
	if err != nil {
		return Conversation{}, Message{}, err
	}
	if msg.ContentType == "" {
		msg.ContentType = ContentText
	}
	mmd, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return Conversation{}, Message{}, err
	}
	ts := now()
	c := Conversation{
		ID:        newID(prefixConversation),
		Title:     title,
		CreatedAt: ts,
		UpdatedAt: ts,
		Metadata:  metadata.orEmpty(),
	}
	m := Message{
		ID:             newID(prefixMessage),
		ConversationID: c.ID,
		Role:           msg.Role,
		Content:        msg.Content,
		ContentType:    msg.ContentType,
		Timestamp:      ts,
		Metadata:       msg.Metadata.orEmpty(),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Conversation{}, Message{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at, metadata, metadata_text)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		c.ID, c.Title, c.CreatedAt, c.UpdatedAt, string(cmd), c.Metadata.SearchText(),
	)
	if err != nil {
		return Conversation{}, Message{}, fmt.Errorf("create conversation: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, content_type, "timestamp", metadata, metadata_text)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, string(m.ContentType), m.Timestamp,
		string(mmd), m.Metadata.SearchText(),
	)
	if err != nil {
		return Conversation{}, Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Conversation{}, Message{}, fmt.Errorf("commit tx: %w", err)
	}
	return c, m, nil
}

const messageColumns = `id, conversation_id, role, content, content_type, "timestamp", metadata`

func (s *PostgresStore) GetMessage(ctx context.Context, id string) (Message, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, id)
	m, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return m, nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, conversationID string, limit, offset int) ([]Message, error) {
	limit, offset = clampPage(limit, offset, 100)
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE conversation_id=$1
		 ORDER BY "timestamp" ASC, id ASC LIMIT $2 OFFSET $3`,
		conversationID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *PostgresStore) CreateToolExecution(ctx context.Context, exec NewToolExecution) (ToolExecution, error) {
	if exec.Success == "" {
		exec.Success = OutcomeTrue
	}
	args, err := encodeMetadata(exec.ToolArgs)
	if err != nil {
		return ToolExecution{}, err
	}
	result, err := encodeMetadata(exec.ToolResult)
	if err != nil {
		return ToolExecution{}, err
	}
	te := ToolExecution{
		ID:            newID(prefixToolExecution),
		MessageID:     exec.MessageID,
		ToolName:      exec.ToolName,
		ToolArgs:      exec.ToolArgs.orEmpty(),
		ToolResult:    exec.ToolResult.orEmpty(),
		DurationMS:    exec.DurationMS,
		Success:       exec.Success,
		ExecutionTime: now(),
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tool_executions (id, message_id, tool_name, tool_args, tool_result, duration_ms, success, execution_time)
		 SELECT $1, $2, $3, $4::jsonb, $5::jsonb, $6, $7, $8
		 WHERE EXISTS (SELECT 1 FROM messages WHERE id=$2)`,
		te.ID, te.MessageID, te.ToolName, string(args), string(result), te.DurationMS, string(te.Success), te.ExecutionTime,
	)
	if err != nil {
		return ToolExecution{}, referentialOr(err, "message", te.MessageID, "create tool execution")
	}
	if tag.RowsAffected() == 0 {
		return ToolExecution{}, &ReferentialError{Entity: "message", ID: te.MessageID}
	}
	return te, nil
}

func (s *PostgresStore) GetToolExecutions(ctx context.Context, messageID string) ([]ToolExecution, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, message_id, tool_name, tool_args, tool_result, duration_ms, success, execution_time
		   FROM tool_executions WHERE message_id=$1 ORDER BY execution_time ASC, id ASC`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("get tool executions: %w", err)
	}
	defer rows.Close()

	var out []ToolExecution
	for rows.Next() {
		var (
			te             ToolExecution
			success        string
			rawArgs, rawRe []byte
		)
		if err := rows.Scan(&te.ID, &te.MessageID, &te.ToolName, &rawArgs, &rawRe, &te.DurationMS, &success, &te.ExecutionTime); err != nil {
			return nil, fmt.Errorf("scan tool execution row: %w", err)
		}
		te.Success = ExecutionOutcome(success)
		te.ExecutionTime = te.ExecutionTime.UTC()
		if te.ToolArgs, err = decodeMetadata(rawArgs); err != nil {
			return nil, err
		}
		if te.ToolResult, err = decodeMetadata(rawRe); err != nil {
			return nil, err
		}
		out = append(out, te)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tool execution rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) CreateSummary(ctx context.Context, summary NewSummary) (Summary, error) {
	if summary.SummaryType == "" {
		summary.SummaryType = SummaryAuto
	}
	md, err := encodeMetadata(summary.Metadata)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{
		ID:             newID(prefixSummary),
		ConversationID: summary.ConversationID,
		Content:        summary.Content,
		SummaryType:    summary.SummaryType,
		CreatedAt:      now(),
		Metadata:       summary.Metadata.orEmpty(),
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO summaries (id, conversation_id, content, summary_type, created_at, metadata)
		 SELECT $1, $2, $3, $4, $5, $6::jsonb
		 WHERE EXISTS (SELECT 1 FROM conversations WHERE id=$2)`,
		sum.ID, sum.ConversationID, sum.Content, string(sum.SummaryType), sum.CreatedAt, string(md),
	)
	if err != nil {
		return Summary{}, referentialOr(err, "conversation", sum.ConversationID, "create summary")
	}
	if tag.RowsAffected() == 0 {
		return Summary{}, &ReferentialError{Entity: "conversation", ID: sum.ConversationID}
	}
	return sum, nil
}

func (s *PostgresStore) GetSummaries(ctx context.Context, conversationID string) ([]Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, content, summary_type, created_at, metadata
		   FROM summaries WHERE conversation_id=$1 ORDER BY created_at DESC, id DESC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum         Summary
			summaryType string
			raw         []byte
		)
		if err := rows.Scan(&sum.ID, &sum.ConversationID, &sum.Content, &summaryType, &sum.CreatedAt, &raw); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		sum.SummaryType = SummaryType(summaryType)
		sum.CreatedAt = sum.CreatedAt.UTC()
		if sum.Metadata, err = decodeMetadata(raw); err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summary rows: %w", err)
	}
	return out, nil
}

// ConversationStats runs the three counts inside one repeatable-read, read-only
// transaction so they describe a single snapshot.
func (s *PostgresStore) ConversationStats(ctx context.Context, conversationID string) (Stats, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Stats{}, fmt.Errorf("begin stats tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var st Stats
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id=$1`, conversationID,
	).Scan(&st.MessageCount); err != nil {
		return Stats{}, fmt.Errorf("count messages: %w", err)
	}
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM tool_executions t JOIN messages m ON m.id = t.message_id
		  WHERE m.conversation_id=$1`, conversationID,
	).Scan(&st.ToolExecutionCount); err != nil {
		return Stats{}, fmt.Errorf("count tool executions: %w", err)
	}
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM summaries WHERE conversation_id=$1`, conversationID,
	).Scan(&st.SummaryCount); err != nil {
		return Stats{}, fmt.Errorf("count summaries: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Stats{}, fmt.Errorf("commit stats tx: %w", err)
	}
	return st, nil
}

func (s *PostgresStore) SearchConversations(ctx context.Context, query string, limit int) ([]Conversation, error) {
	limit, _ = clampPage(limit, 0, 20)
	pattern := likePattern(query)
	rows, err := s.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		  WHERE title ILIKE $1 ESCAPE '\' OR metadata_text ILIKE $1 ESCAPE '\'
		  ORDER BY updated_at DESC, id DESC LIMIT $2`,
		pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	return collectConversations(rows)
}

func (s *PostgresStore) SearchMessages(ctx context.Context, q MessageQuery) ([]Message, error) {
	limit, offset := clampPage(q.Limit, q.Offset, 50)
	args := []any{likePattern(q.Query)}
	where := []string{`(content ILIKE $1 ESCAPE '\' OR metadata_text ILIKE $1 ESCAPE '\')`}
	if q.ConversationID != "" {
		args = append(args, q.ConversationID)
		where = append(where, fmt.Sprintf("conversation_id=$%d", len(args)))
	}
	if q.Role != "" {
		args = append(args, string(q.Role))
		where = append(where, fmt.Sprintf("role=$%d", len(args)))
	}
	if q.ContentType != "" {
		args = append(args, string(q.ContentType))
		where = append(where, fmt.Sprintf("content_type=$%d", len(args)))
	}
	args = append(args, limit, offset)

	sql := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY "timestamp" DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	return collectMessages(rows)
}

func (s *PostgresStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.pool.QueryRow(ctx,
		`SELECT (SELECT COUNT(*) FROM conversations),
		        (SELECT COUNT(*) FROM messages),
		        (SELECT COUNT(*) FROM tool_executions),
		        (SELECT COUNT(*) FROM summaries)`,
	).Scan(&c.Conversations, &c.Messages, &c.ToolExecutions, &c.Summaries)
	if err != nil {
		return Counts{}, fmt.Errorf("count tables: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c   Conversation
		raw []byte
	)
	if err := row.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &raw); err != nil {
		return Conversation{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	md, err := decodeMetadata(raw)
	if err != nil {
		return Conversation{}, err
	}
	c.Metadata = md
	return c, nil
}

func collectConversations(rows pgx.Rows) ([]Conversation, error) {
	defer rows.Close()
	out := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return out, nil
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m                 Message
		role, contentType string
		raw               []byte
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &contentType, &m.Timestamp, &raw); err != nil {
		return Message{}, err
	}
	m.Role = Role(role)
	m.ContentType = ContentType(contentType)
	m.Timestamp = m.Timestamp.UTC()
	md, err := decodeMetadata(raw)
	if err != nil {
		return Message{}, err
	}
	m.Metadata = md
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()
	out := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

// referentialOr maps a foreign key violation raised by a concurrent delete to
// a ReferentialError and wraps anything else.
func referentialOr(err error, entity, id, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return &ReferentialError{Entity: entity, ID: id}
	}
	return fmt.Errorf("%s: %w", op, err)
}
