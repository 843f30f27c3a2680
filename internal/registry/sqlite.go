// ABOUTME: SQLite implementation of the Registry interface using modernc.org/sqlite
// ABOUTME: Provides crash-durable registrations with automatic schema creation

package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRegistry implements Registry backed by a SQLite database.
type SQLiteRegistry struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteRegistry opens (or creates) the registry database at the given
// path. The schema is created if it doesn't exist; parent directories are
// created as needed.
func NewSQLiteRegistry(path string, logger *slog.Logger) (*SQLiteRegistry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "registry")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	r := &SQLiteRegistry{db: db, logger: logger}
	if err := r.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("registry initialized", "path", path)
	return r, nil
}

// createSchema creates the registrations table if it doesn't exist.
func (r *SQLiteRegistry) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agent_registrations (
			conversation_id TEXT NOT NULL,
			agent_id        TEXT NOT NULL,
			created_at      TEXT NOT NULL,

			PRIMARY KEY (conversation_id, agent_id)
		);

		CREATE INDEX IF NOT EXISTS idx_registrations_conversation
			ON agent_registrations(conversation_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (r *SQLiteRegistry) Close() error {
	r.logger.Info("closing registry")
	return r.db.Close()
}

// Register records each pair. Re-registering an existing pair is a no-op.
func (r *SQLiteRegistry) Register(ctx context.Context, conversationID string, agentIDs []string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation_id is required")
	}

	query := `
		INSERT OR IGNORE INTO agent_registrations (conversation_id, agent_id, created_at)
		VALUES (?, ?, ?)
	`
	now := time.Now().UTC().Format(time.RFC3339)

	for _, agentID := range agentIDs {
		if agentID == "" {
			return fmt.Errorf("agent_id is required")
		}
		if _, err := r.db.ExecContext(ctx, query, conversationID, agentID, now); err != nil {
			return fmt.Errorf("inserting registration: %w", err)
		}
	}

	r.logger.Debug("registered agents",
		"conversation_id", conversationID,
		"agent_ids", agentIDs)
	return nil
}

// Unregister removes the given agent IDs, or every registration for the
// conversation when none are supplied. Missing rows are silently ignored.
func (r *SQLiteRegistry) Unregister(ctx context.Context, conversationID string, agentIDs ...string) error {
	if conversationID == "" {
		return fmt.Errorf("conversation_id is required")
	}

	if len(agentIDs) == 0 {
		_, err := r.db.ExecContext(ctx,
			`DELETE FROM agent_registrations WHERE conversation_id = ?`, conversationID)
		if err != nil {
			return fmt.Errorf("deleting registrations: %w", err)
		}
		r.logger.Debug("unregistered conversation", "conversation_id", conversationID)
		return nil
	}

	for _, agentID := range agentIDs {
		_, err := r.db.ExecContext(ctx,
			`DELETE FROM agent_registrations WHERE conversation_id = ? AND agent_id = ?`,
			conversationID, agentID)
		if err != nil {
			return fmt.Errorf("deleting registration: %w", err)
		}
	}

	r.logger.Debug("unregistered agents",
		"conversation_id", conversationID,
		"agent_ids", agentIDs)
	return nil
}

// ListRegistered returns every registration grouped by conversation,
// ordered by conversation then agent for stable output.
func (r *SQLiteRegistry) ListRegistered(ctx context.Context) ([]Registration, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, agent_id
		FROM agent_registrations
		ORDER BY conversation_id, agent_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying registrations: %w", err)
	}
	defer rows.Close()

	var regs []Registration
	for rows.Next() {
		var conversationID, agentID string
		if err := rows.Scan(&conversationID, &agentID); err != nil {
			return nil, fmt.Errorf("scanning registration row: %w", err)
		}
		if len(regs) > 0 && regs[len(regs)-1].ConversationID == conversationID {
			last := &regs[len(regs)-1]
			last.AgentIDs = append(last.AgentIDs, agentID)
			continue
		}
		regs = append(regs, Registration{
			ConversationID: conversationID,
			AgentIDs:       []string{agentID},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating registration rows: %w", err)
	}
	return regs, nil
}

// ListConversation returns the agent IDs registered to one conversation.
func (r *SQLiteRegistry) ListConversation(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id
		FROM agent_registrations
		WHERE conversation_id = ?
		ORDER BY agent_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation registrations: %w", err)
	}
	defer rows.Close()

	var agentIDs []string
	for rows.Next() {
		var agentID string
		if err := rows.Scan(&agentID); err != nil {
			return nil, fmt.Errorf("scanning agent row: %w", err)
		}
		agentIDs = append(agentIDs, agentID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating agent rows: %w", err)
	}
	return agentIDs, nil
}

// ListEntries returns raw rows with timestamps, newest first. Used by the
// admin CLI.
func (r *SQLiteRegistry) ListEntries(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT conversation_id, agent_id, created_at
		FROM agent_registrations
		ORDER BY created_at DESC, conversation_id, agent_id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying registration entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt string
		if err := rows.Scan(&e.ConversationID, &e.AgentID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning entry row: %w", err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entry rows: %w", err)
	}
	return entries, nil
}

// Ensure SQLiteRegistry implements Registry.
var _ Registry = (*SQLiteRegistry)(nil)
