package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askmill/askmill/internal/core"
)

func TestStore_AppendAndHistory(t *testing.T) {
	s := NewStore(10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.Append(ctx, "abc", core.ConversationTurn{
			Question:  fmt.Sprintf("q%d", i),
			Answer:    fmt.Sprintf("a%d", i),
			Timestamp: time.Now(),
		})
		require.NoError(t, err)
	}

	turns, err := s.History(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, "q0", turns[0].Question)
	assert.Equal(t, "q2", turns[2].Question)
}

func TestStore_FIFOEviction(t *testing.T) {
	s := NewStore(10)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		require.NoError(t, s.Append(ctx, "abc", core.ConversationTurn{
			Question: fmt.Sprintf("q%d", i),
			Answer:   fmt.Sprintf("a%d", i),
		}))
	}

	turns, err := s.History(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, turns, 10)
	assert.Equal(t, "q1", turns[0].Question, "oldest turn must be evicted")
	assert.Equal(t, "q10", turns[9].Question)
}

func TestStore_ConversationsAreIndependent(t *testing.T) {
	s := NewStore(10)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "a", core.ConversationTurn{Question: "qa"}))
	require.NoError(t, s.Append(ctx, "b", core.ConversationTurn{Question: "qb"}))

	turnsA, err := s.History(ctx, "a")
	require.NoError(t, err)
	turnsB, err := s.History(ctx, "b")
	require.NoError(t, err)

	require.Len(t, turnsA, 1)
	require.Len(t, turnsB, 1)
	assert.Equal(t, "qa", turnsA[0].Question)
	assert.Equal(t, "qb", turnsB[0].Question)
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s := NewStore(100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append(ctx, "shared", core.ConversationTurn{Question: fmt.Sprintf("q%d", i)})
		}(i)
	}
	wg.Wait()

	turns, err := s.History(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, turns, 50)
}
