package contribval

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const canonicalURL = "https://raw.example.org/contribute.json"

func values(entries []*string) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = entryValue(e)
	}
	return out
}

func TestHistoryRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("resubmission moves to front", func(t *testing.T) {
		h := NewHistory(newRAMStore(0, nil), time.Hour, false, canonicalURL)
		for _, u := range []string{"A", "B", "A"} {
			require.NoError(t, h.Record(ctx, u))
		}
		got, err := h.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B"}, values(got))
	})

	t.Run("write that overflows a bounded store is reported", func(t *testing.T) {
		h := NewHistory(newRAMStore(64, nil), time.Hour, false, canonicalURL)
		require.NoError(t, h.Record(ctx, "https://example.com/a"))
		err := h.Record(ctx, "https://example.com/"+strings.Repeat("b", 100))
		assert.ErrorIs(t, err, errValueTooLarge)
	})

	t.Run("no cap on distinct urls", func(t *testing.T) {
		h := NewHistory(newRAMStore(0, nil), time.Hour, false, canonicalURL)
		for i := 0; i < 250; i++ {
			require.NoError(t, h.Record(ctx, fmt.Sprintf("https://example.com/%d", i)))
		}
		got, err := h.List(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 250)
		assert.Equal(t, "https://example.com/249", entryValue(got[0]))
	})

	t.Run("body submissions are skipped by default", func(t *testing.T) {
		h := NewHistory(newRAMStore(0, nil), time.Hour, false, canonicalURL)
		require.NoError(t, h.Record(ctx, "A"))
		require.NoError(t, h.Record(ctx, ""))
		got, err := h.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, values(got))
	})

	t.Run("anonymous entries when enabled", func(t *testing.T) {
		h := NewHistory(newRAMStore(0, nil), time.Hour, true, canonicalURL)
		require.NoError(t, h.Record(ctx, ""))
		require.NoError(t, h.Record(ctx, "A"))
		require.NoError(t, h.Record(ctx, ""))
		got, err := h.List(ctx)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Nil(t, got[0])
		assert.Equal(t, "A", entryValue(got[1]))
	})

	t.Run("whole list expires together", func(t *testing.T) {
		clock := newFakeClock()
		h := NewHistory(newRAMStore(0, clock.Now), 10*24*time.Hour, false, canonicalURL)
		require.NoError(t, h.Record(ctx, "A"))
		clock.Advance(9 * 24 * time.Hour)
		require.NoError(t, h.Record(ctx, "B"))

		clock.Advance(9 * 24 * time.Hour)
		got, err := h.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "A"}, values(got), "each write resets the ttl")

		clock.Advance(2 * 24 * time.Hour)
		got, err = h.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("concurrent records within one process are not lost", func(t *testing.T) {
		h := NewHistory(newRAMStore(0, nil), time.Hour, false, canonicalURL)
		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, h.Record(ctx, fmt.Sprintf("u%d", i)))
			}(i)
		}
		wg.Wait()
		got, err := h.List(ctx)
		require.NoError(t, err)
		assert.Len(t, got, 40)
	})

	t.Run("writers on separate processes can lose updates", func(t *testing.T) {
		// Two History values over one store model two instances sharing
		// memcached: both read the same prior list, the last write wins.
		store := newRAMStore(0, nil)
		a := NewHistory(store, time.Hour, false, canonicalURL)
		b := NewHistory(store, time.Hour, false, canonicalURL)

		prior, err := a.read(ctx)
		require.NoError(t, err)
		require.NoError(t, b.Record(ctx, "B"))
		require.NoError(t, setJSON(ctx, store, historyCacheKey, append([]*string{entryFor("A")}, prior...), time.Hour))

		got, err := a.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"A"}, values(got))
	})
}

func TestHistoryExamples(t *testing.T) {
	ctx := context.Background()

	t.Run("empty history still lists canonical url", func(t *testing.T) {
		h := NewHistory(newRAMStore(0, nil), time.Hour, false, canonicalURL)
		feed, err := h.Examples(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{canonicalURL}, values(feed.URLs))
	})

	t.Run("canonical url is appended not promoted", func(t *testing.T) {
		h := NewHistory(newRAMStore(0, nil), time.Hour, false, canonicalURL)
		require.NoError(t, h.Record(ctx, "A"))
		require.NoError(t, h.Record(ctx, "B"))
		feed, err := h.Examples(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "A", canonicalURL}, values(feed.URLs))

		stored, err := h.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "A"}, values(stored), "feed must not write back")
	})

	t.Run("canonical url already present keeps its position", func(t *testing.T) {
		h := NewHistory(newRAMStore(0, nil), time.Hour, false, canonicalURL)
		require.NoError(t, h.Record(ctx, canonicalURL))
		require.NoError(t, h.Record(ctx, "A"))
		feed, err := h.Examples(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"A", canonicalURL}, values(feed.URLs))
	})
}
