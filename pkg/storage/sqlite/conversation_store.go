// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eaglechat/gateway/pkg/storage"
)

// ConversationStore implements storage.ConversationStore using SQLite.
type ConversationStore struct {
	wrapper *DB
	db      *sql.DB
}

// NewConversationStore creates a new SQLite-backed ConversationStore.
func NewConversationStore(db *DB) *ConversationStore {
	return &ConversationStore{wrapper: db, db: db.DB()}
}

var _ storage.ConversationStore = (*ConversationStore)(nil)

// Close closes the underlying database connection.
func (s *ConversationStore) Close() error {
	return s.wrapper.Close()
}

// Append adds a message to the conversation identified by
// (tenant_id, session_id), creating the conversation on first write.
func (s *ConversationStore) Append(
	ctx context.Context, tenantID, sessionID string, msg storage.Message, conn storage.ConnInfo,
) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollback(tx)

	now := formatTime(time.Now())

	var conversationID int64
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE tenant_id = ? AND session_id = ?`,
		tenantID, sessionID,
	).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		res, insertErr := tx.ExecContext(ctx, `
			INSERT INTO conversations (tenant_id, session_id, user_ip, user_agent, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			tenantID, sessionID, conn.UserIP, conn.UserAgent, now, now,
		)
		if insertErr != nil {
			return fmt.Errorf("inserting conversation: %w", insertErr)
		}
		conversationID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting conversation id: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("looking up conversation: %w", err)
	} else {
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID,
		); err != nil {
			return fmt.Errorf("touching conversation: %w", err)
		}
	}

	meta, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}
	ts := msg.TS
	if ts.IsZero() {
		ts = time.Now()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, tenant_id, role, content, ts, metadata)
		VALUES (?, ?, ?, ?, ?, ?)`,
		conversationID, tenantID, msg.Role, msg.Content, formatTime(ts), meta,
	); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// History returns the most recent messages in chronological order.
func (s *ConversationStore) History(
	ctx context.Context, tenantID, sessionID string, limit int,
) ([]storage.Message, error) {
	query := `
		SELECT m.role, m.content, m.ts, m.metadata
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE c.tenant_id = ? AND c.session_id = ?
		ORDER BY m.ts DESC, m.id DESC`
	args := []any{tenantID, sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var newestFirst []storage.Message
	for rows.Next() {
		var (
			msg      storage.Message
			ts       string
			metaBlob string
		)
		if err := rows.Scan(&msg.Role, &msg.Content, &ts, &metaBlob); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if msg.TS, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parsing message ts: %w", err)
		}
		if err := json.Unmarshal([]byte(metaBlob), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("decoding message metadata: %w", err)
		}
		newestFirst = append(newestFirst, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	// The query selects the newest window; flip it to chronological.
	for i, j := 0, len(newestFirst)-1; i < j; i, j = i+1, j-1 {
		newestFirst[i], newestFirst[j] = newestFirst[j], newestFirst[i]
	}
	return newestFirst, nil
}
