// Package storage provides the optional SQLite update journal: an
// append-only diagnostics sink for accepted updates. The journal is
// write-only from the engine's perspective; it is never replayed into the
// state store, so engine state still does not survive a process restart.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	domain "github.com/flowdesk/nodesync/pkg/domain/sync"
	"github.com/flowdesk/nodesync/pkg/domain/types"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Journal records accepted node updates in a SQLite database.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) a journal at the given path. Pass
// ":memory:" for an ephemeral journal in tests.
func NewJournal(dbPath string) (*Journal, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := initializeJournal(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// initializeJournal creates the journal table if it does not exist.
func initializeJournal(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS node_updates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			workflow_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			update_type TEXT NOT NULL,
			version INTEGER NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			received_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_node_updates_workflow
			ON node_updates(workflow_id);
		CREATE INDEX IF NOT EXISTS idx_node_updates_node
			ON node_updates(node_id);
	`)
	return err
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends one accepted update. state is the post-merge node state,
// payload the update that produced it.
func (j *Journal) Record(state *domain.NodeExecutionState, payload domain.NodeUpdatePayload) error {
	if state == nil {
		return fmt.Errorf("cannot journal nil state")
	}

	var detail sql.NullString
	if payload.Data != nil {
		data, err := json.Marshal(payload.Data)
		if err == nil {
			detail.Valid = true
			detail.String = string(data)
		}
	}

	_, err := j.db.Exec(
		`INSERT INTO node_updates
			(workflow_id, node_id, update_type, version, status, detail, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(state.WorkflowID),
		string(state.NodeID),
		string(payload.Type),
		state.Version,
		string(state.Status),
		detail,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to journal update: %w", err)
	}
	return nil
}

// Entry is one journaled update.
type Entry struct {
	WorkflowID types.WorkflowID
	NodeID     types.NodeID
	UpdateType domain.UpdateType
	Version    int64
	Status     domain.NodeStatus
	Detail     string
	ReceivedAt time.Time
}

// ListByWorkflow returns journaled updates for a workflow, oldest first,
// capped at limit (0 means no cap).
func (j *Journal) ListByWorkflow(workflowID types.WorkflowID, limit int) ([]Entry, error) {
	query := `SELECT workflow_id, node_id, update_type, version, status, detail, received_at
		FROM node_updates WHERE workflow_id = ? ORDER BY id`
	args := []interface{}{string(workflowID)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var workflowID, nodeID, updateType, status, receivedAt string
		var detail sql.NullString
		if err := rows.Scan(&workflowID, &nodeID, &updateType, &e.Version, &status, &detail, &receivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		e.WorkflowID = types.WorkflowID(workflowID)
		e.NodeID = types.NodeID(nodeID)
		e.UpdateType = domain.UpdateType(updateType)
		e.Status = domain.NodeStatus(status)
		if detail.Valid {
			e.Detail = detail.String
		}
		// Timestamps are stored as RFC3339 text; an unparseable value is left
		// zero rather than failing the whole listing.
		if ts, err := time.Parse(time.RFC3339Nano, receivedAt); err == nil {
			e.ReceivedAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByNode returns the number of journaled updates for one node.
func (j *Journal) CountByNode(nodeID types.NodeID) (int64, error) {
	var count int64
	err := j.db.QueryRow(
		`SELECT COUNT(*) FROM node_updates WHERE node_id = ?`,
		string(nodeID),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count journal entries: %w", err)
	}
	return count, nil
}
