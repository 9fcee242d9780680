package card

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPool() []Card {
	return []Card{
		{Number: "4242424242424242", Expiry: "12/27", CVC: "123"},
		{Number: "5555555555554444", Expiry: "01/28", CVC: "456"},
	}
}

func TestManager_Next_AllocatesEachCardOnce(t *testing.T) {
	manager := NewManager(testPool(), testLogger())

	first, ok := manager.Next()
	require.True(t, ok)
	second, ok := manager.Next()
	require.True(t, ok)

	assert.NotEqual(t, first.Card().Number, second.Card().Number)

	_, ok = manager.Next()
	assert.False(t, ok, "pending cards must not be re-allocated")
}

func TestManager_Next_ConcurrentAllocationsNeverCollide(t *testing.T) {
	pool := make([]Card, 8)
	for i := range pool {
		pool[i] = Card{Number: string(rune('0'+i)) + "111222233334444", Expiry: "12/27", CVC: "123"}
	}
	manager := NewManager(pool, testLogger())

	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alloc, ok := manager.Next()
			if !ok {
				return
			}
			mu.Lock()
			seen[alloc.Card().Number]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 8)
	for number, count := range seen {
		assert.Equal(t, 1, count, "card %s allocated more than once", number)
	}
}

func TestAllocation_MarkUsed(t *testing.T) {
	manager := NewManager(testPool(), testLogger())

	alloc, ok := manager.Next()
	require.True(t, ok)

	alloc.MarkUsed()
	alloc.Finalize()

	available, used, problematic := manager.Stats()
	assert.Equal(t, 1, available)
	assert.Equal(t, 1, used)
	assert.Equal(t, 0, problematic)
}

func TestAllocation_FinalizeDefaultsToProblematic(t *testing.T) {
	manager := NewManager(testPool(), testLogger())

	alloc, ok := manager.Next()
	require.True(t, ok)

	// simulates the deferred cleanup path where neither mark was reached
	alloc.Finalize()

	available, used, problematic := manager.Stats()
	assert.Equal(t, 1, available)
	assert.Equal(t, 0, used)
	assert.Equal(t, 1, problematic)
}

func TestAllocation_FinalizeIsExactlyOnce(t *testing.T) {
	manager := NewManager(testPool(), testLogger())

	alloc, ok := manager.Next()
	require.True(t, ok)

	alloc.MarkUsed()
	alloc.MarkProblematic()
	alloc.Finalize()

	_, used, problematic := manager.Stats()
	assert.Equal(t, 1, used, "first finalization wins")
	assert.Equal(t, 0, problematic)
}

func TestManager_Reload_PreservesKnownStates(t *testing.T) {
	manager := NewManager(testPool(), testLogger())

	alloc, ok := manager.Next()
	require.True(t, ok)
	alloc.MarkUsed()
	usedNumber := alloc.Card().Number

	reloaded := append(testPool(), Card{Number: "378282246310005", Expiry: "03/29", CVC: "789"})
	manager.Reload(reloaded)

	available, used, _ := manager.Stats()
	assert.Equal(t, 2, available)
	assert.Equal(t, 1, used)

	// the used card must stay used: only fresh cards are allocatable
	for {
		alloc, ok := manager.Next()
		if !ok {
			break
		}
		assert.NotEqual(t, usedNumber, alloc.Card().Number)
		alloc.MarkProblematic()
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.txt")
	content := "# test pool\n4242424242424242|12/27|123\n\n5555555555554444 | 01/28 | 456\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cards, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cards, 2)
	assert.Equal(t, "4242424242424242", cards[0].Number)
	assert.Equal(t, "01/28", cards[1].Expiry)
	assert.Equal(t, "456", cards[1].CVC)
}

func TestLoadFile_RejectsMalformedLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cards.txt")
	require.NoError(t, os.WriteFile(path, []byte("4242424242424242|12/27\n"), 0o600))

	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestCard_Masked(t *testing.T) {
	c := Card{Number: "4242424242424242"}
	assert.Equal(t, "**** **** **** 4242", c.Masked())
	assert.Equal(t, "****", Card{Number: "42"}.Masked())
}
