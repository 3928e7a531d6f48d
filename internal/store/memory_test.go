package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prophet/market-engine/internal/model"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	parentID := int64(42)
	c := newClaim("copy-check", "Copy check claim")
	c.ParentID = &parentID
	require.NoError(t, s.CreateClaim(ctx, c))

	got, err := s.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	got.Text = "mutated"
	*got.ParentID = 7

	again, err := s.GetClaim(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Copy check claim", again.Text)
	assert.Equal(t, int64(42), *again.ParentID)
}

func TestMemoryStore_ConcurrentCAS(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c := newClaim("race", "Race claim text")
	require.NoError(t, s.CreateClaim(ctx, c))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			to := model.StatusAIReviewed
			if i%2 == 0 {
				to = model.StatusRejected
			}
			if _, err := s.TransitionClaim(ctx, c.ID, model.StatusPending, to, ""); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins, "exactly one transition out of pending")
}
