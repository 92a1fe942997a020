package kv

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIndexes = []Index{
	{Name: "byEntryType", Attr: "entryType"},
	{Name: "byTemplate", Attr: "templateId"},
}

// eachStore runs fn against every Store implementation.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		s, err := NewMemory(testIndexes...)
		require.NoError(t, err)
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "test.db"), testIndexes...)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func row(pk, sk string, attrs map[string]any) Row {
	return Row{Key: Key{PK: pk, SK: sk}, Attrs: attrs}
}

func TestPutGet(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, ok, err := s.Get(ctx, Key{PK: "PAGE#1", SK: "ENTRY"})
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Put(ctx, row("PAGE#1", "ENTRY", map[string]any{"entryType": "page", "createdAt": int64(1700000000000)})))
		got, ok, err := s.Get(ctx, Key{PK: "PAGE#1", SK: "ENTRY"})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "page", got.Attrs["entryType"])
		assert.Equal(t, "1700000000000", fmt.Sprint(got.Attrs["createdAt"]))
	})
}

func TestUpdateIsPartial(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Put(ctx, row("PAGE#1", "META", map[string]any{"title": "About", "slug": "about", "route": "@root"})))
		require.NoError(t, s.Put(ctx, row("PAGE#1", "ARTICLE", map[string]any{"markdown": "# hi"})))

		require.NoError(t, s.Update(ctx, Key{PK: "PAGE#1", SK: "META"}, map[string]any{"title": "About us", "route": nil}))

		got, _, err := s.Get(ctx, Key{PK: "PAGE#1", SK: "META"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"title": "About us", "slug": "about"}, got.Attrs)

		sibling, _, err := s.Get(ctx, Key{PK: "PAGE#1", SK: "ARTICLE"})
		require.NoError(t, err)
		assert.Equal(t, "# hi", sibling.Attrs["markdown"])
	})
}

func TestUpdateMissingRow(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		err := s.Update(context.Background(), Key{PK: "PAGE#x", SK: "META"}, map[string]any{"title": "x"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestConditionalWrites(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := Key{PK: "GENERATOR", SK: "STATUS"}

		require.NoError(t, s.Put(ctx, row(key.PK, key.SK, map[string]any{"state": "idle"}), RowAbsent()))
		assert.ErrorIs(t, s.Put(ctx, row(key.PK, key.SK, map[string]any{"state": "idle"}), RowAbsent()), ErrConditionFailed)

		require.NoError(t, s.Update(ctx, key, map[string]any{"state": "running"}, AttrNotEquals("state", "running")))
		assert.ErrorIs(t, s.Update(ctx, key, map[string]any{"state": "running"}, AttrNotEquals("state", "running")), ErrConditionFailed)

		assert.ErrorIs(t, s.Update(ctx, key, map[string]any{"state": "idle"}, AttrEquals("state", "idle")), ErrConditionFailed)
		require.NoError(t, s.Update(ctx, key, map[string]any{"state": "idle"}, AttrEquals("state", "running")))
	})
}

func TestConcurrentConditionalUpdateHasOneWinner(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		key := Key{PK: "GENERATOR", SK: "STATUS"}
		require.NoError(t, s.Put(ctx, row(key.PK, key.SK, map[string]any{"state": "idle"})))

		var wg sync.WaitGroup
		results := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- s.Update(ctx, key, map[string]any{"state": "running"}, AttrNotEquals("state", "running"))
			}()
		}
		wg.Wait()
		close(results)

		wins := 0
		for err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, ErrConditionFailed)
		}
		assert.Equal(t, 1, wins)
	})
}

func TestQueryPrefix(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.BatchPut(ctx, []Row{
			row("PAGE#1", "ENTRY", map[string]any{"entryType": "page"}),
			row("PAGE#1", "TAG#b", map[string]any{"tagId": "b"}),
			row("PAGE#1", "TAG#a", map[string]any{"tagId": "a"}),
			row("PAGE#2", "TAG#c", map[string]any{"tagId": "c"}),
		}))

		tags, err := s.Query(ctx, "PAGE#1", "TAG#")
		require.NoError(t, err)
		require.Len(t, tags, 2)
		assert.Equal(t, "TAG#a", tags[0].SK)
		assert.Equal(t, "TAG#b", tags[1].SK)

		all, err := s.Query(ctx, "PAGE#1", "")
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestQueryIndex(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.BatchPut(ctx, []Row{
			row("PAGE#1", "META", map[string]any{"templateId": "t1"}),
			row("PAGE#2", "META", map[string]any{"templateId": "t1"}),
			row("PAGE#3", "META", map[string]any{"templateId": "t2"}),
			row("TEMPLATE#t1", "ENTRY", map[string]any{"entryType": "template"}),
		}))

		got, err := s.QueryIndex(ctx, "byTemplate", "t1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "PAGE#1", got[0].PK)
		assert.Equal(t, "PAGE#2", got[1].PK)

		_, err = s.QueryIndex(ctx, "nope", "x")
		assert.Error(t, err)
	})
}

func TestScanAllPages(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var rows []Row
		for i := 0; i < scanPageSize*2+7; i++ {
			rows = append(rows, row(fmt.Sprintf("PAGE#%04d", i), "ENTRY", map[string]any{"entryType": "page"}))
		}
		require.NoError(t, s.BatchPut(ctx, rows))

		got, err := s.ScanAll(ctx)
		require.NoError(t, err)
		require.Len(t, got, len(rows))
		assert.Equal(t, "PAGE#0000", got[0].PK)
		assert.Equal(t, fmt.Sprintf("PAGE#%04d", len(rows)-1), got[len(got)-1].PK)
	})
}

func TestBatchDelete(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.BatchPut(ctx, []Row{
			row("PAGE#1", "ENTRY", map[string]any{"entryType": "page"}),
			row("PAGE#1", "META", map[string]any{"title": "x"}),
			row("PAGE#2", "ENTRY", map[string]any{"entryType": "page"}),
		}))
		require.NoError(t, s.BatchDelete(ctx, []Key{{PK: "PAGE#1", SK: "ENTRY"}, {PK: "PAGE#1", SK: "META"}}))

		left, err := s.ScanAll(ctx)
		require.NoError(t, err)
		require.Len(t, left, 1)
		assert.Equal(t, "PAGE#2", left[0].PK)
	})
}

func TestInvalidIndexRejected(t *testing.T) {
	_, err := NewMemory(Index{Name: "bad name", Attr: "x"})
	assert.Error(t, err)
	_, err = OpenSQLite(filepath.Join(t.TempDir(), "x.db"), Index{Name: "ok", Attr: "x'); DROP TABLE slices; --"})
	assert.Error(t, err)
}

func TestClassifyBusy(t *testing.T) {
	err := classify(fmt.Errorf("database is locked (5) (SQLITE_BUSY)"))
	assert.ErrorIs(t, err, ErrThroughputExceeded)
	assert.NoError(t, classify(nil))
	assert.NotErrorIs(t, classify(fmt.Errorf("syntax error")), ErrThroughputExceeded)
}
