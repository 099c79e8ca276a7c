// Package memory keeps bounded per-conversation turn history. The
// in-process store loses state on restart; that is a stated property of
// this variant, with the sqlite store as the durable alternative.
package memory

import (
	"context"
	"sync"

	"github.com/askmill/askmill/internal/core"
)

type Store struct {
	mu       sync.RWMutex
	turns    map[string][]core.ConversationTurn
	maxTurns int
}

var _ core.ConversationStore = (*Store)(nil)

func NewStore(maxTurns int) *Store {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &Store{
		turns:    make(map[string][]core.ConversationTurn),
		maxTurns: maxTurns,
	}
}

// Append adds a turn and evicts the oldest turns beyond the limit, FIFO.
func (s *Store) Append(ctx context.Context, conversationID string, turn core.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.turns[conversationID], turn)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.turns[conversationID] = turns
	return nil
}

// History returns the retained turns, oldest first. The slice is a copy.
func (s *Store) History(ctx context.Context, conversationID string) ([]core.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := s.turns[conversationID]
	out := make([]core.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}
