package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/askmill/askmill/internal/core"
	"github.com/askmill/askmill/pkg/log"
)

// Turns is the durable ConversationStore. It keeps at most maxTurns rows
// per conversation, deleting the oldest on overflow.
type Turns struct {
	db       *sql.DB
	maxTurns int
}

var _ core.ConversationStore = (*Turns)(nil)

func NewTurns(db *sql.DB, maxTurns int) *Turns {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &Turns{db: db, maxTurns: maxTurns}
}

func (t *Turns) Append(ctx context.Context, conversationID string, turn core.ConversationTurn) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, question, answer, created_at) VALUES (?, ?, ?, ?)`,
		conversationID, turn.Question, turn.Answer, turn.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}

	// Drop everything older than the newest maxTurns rows.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM turns WHERE conversation_id = ? AND id NOT IN (
			SELECT id FROM turns WHERE conversation_id = ? ORDER BY id DESC LIMIT ?
		)`,
		conversationID, conversationID, t.maxTurns)
	if err != nil {
		return fmt.Errorf("failed to evict old turns: %w", err)
	}

	return tx.Commit()
}

func (t *Turns) History(ctx context.Context, conversationID string) ([]core.ConversationTurn, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT question, answer, created_at FROM turns WHERE conversation_id = ? ORDER BY id DESC LIMIT ?`,
		conversationID, t.maxTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []core.ConversationTurn
	for rows.Next() {
		var turn core.ConversationTurn
		if err := rows.Scan(&turn.Question, &turn.Answer, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query returned newest first; callers expect chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	log.FromCtx(ctx).Debug().Int("count", len(turns)).Msg("loaded conversation turns")
	return turns, nil
}
