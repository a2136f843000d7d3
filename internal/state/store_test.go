package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/palma21/risk-monitor-bot/internal/models"
	"github.com/palma21/risk-monitor-bot/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newStores(t *testing.T) map[string]Store {
	t.Helper()

	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return map[string]Store{
		"blob":  NewBlobStore(local),
		"redis": NewRedisStore(client, "test:"),
	}
}

func TestStore_UpdateLifecycle(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var seen *models.AuthorState
			err := store.Update(ctx, "alice", func(cur *models.AuthorState) (*models.AuthorState, error) {
				seen = cur
				return models.NewAuthorState("alice", 0.6, testNow), nil
			})
			require.NoError(t, err)
			assert.Nil(t, seen, "unknown authors start from nil")

			err = store.Update(ctx, "alice", func(cur *models.AuthorState) (*models.AuthorState, error) {
				require.NotNil(t, cur)
				assert.Equal(t, 0.6, cur.Baseline)
				cur.AlertedPosts["p1"] = true
				cur.Baseline = 0.7
				return cur, nil
			})
			require.NoError(t, err)

			st, err := store.Load(ctx)
			require.NoError(t, err)
			require.Contains(t, st.Authors, "alice")
			assert.Equal(t, 0.7, st.Authors["alice"].Baseline)
			assert.True(t, st.Authors["alice"].HasAlerted("p1"))
			assert.True(t, st.Authors["alice"].MonitoredSince.Equal(testNow))
		})
	}
}

func TestStore_UpdateNoChange(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Update(ctx, "bob", func(*models.AuthorState) (*models.AuthorState, error) {
				return models.NewAuthorState("bob", 0.5, testNow), nil
			}))

			require.NoError(t, store.Update(ctx, "bob", func(cur *models.AuthorState) (*models.AuthorState, error) {
				return nil, nil
			}))

			errBoom := errors.New("collection failed")
			err := store.Update(ctx, "bob", func(cur *models.AuthorState) (*models.AuthorState, error) {
				cur.Baseline = 0.99
				return cur, errBoom
			})
			assert.ErrorIs(t, err, errBoom)

			require.NoError(t, store.Update(ctx, "nobody", func(cur *models.AuthorState) (*models.AuthorState, error) {
				return nil, nil
			}))

			st, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, st.Authors, 1)
			assert.Equal(t, 0.5, st.Authors["bob"].Baseline)
		})
	}
}

func TestStore_ConcurrentUpdatesAreAtomic(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const writers = 20

			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := store.Update(ctx, "carol", func(cur *models.AuthorState) (*models.AuthorState, error) {
						if cur == nil {
							cur = models.NewAuthorState("carol", 0.5, testNow)
						}
						cur.AlertedPosts[fmt.Sprintf("p%d", i)] = true
						return cur, nil
					})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()

			st, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, st.Authors["carol"].AlertedPosts, writers)
		})
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := models.NewMonitorState()
			first.Authors["alice"] = models.NewAuthorState("alice", 0.6, testNow)
			first.Authors["user/with slash"] = models.NewAuthorState("user/with slash", 0.9, testNow)
			require.NoError(t, store.Save(ctx, first))

			st, err := store.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, st.Authors, 2)
			assert.Contains(t, st.Authors, "user/with slash")

			second := models.NewMonitorState()
			second.Authors["dave"] = models.NewAuthorState("dave", 0.55, testNow)
			require.NoError(t, store.Save(ctx, second))

			st, err = store.Load(ctx)
			require.NoError(t, err)
			assert.Len(t, st.Authors, 1)
			assert.Contains(t, st.Authors, "dave")
		})
	}
}

func TestStore_EmptyLoad(t *testing.T) {
	for name, store := range newStores(t) {
		t.Run(name, func(t *testing.T) {
			st, err := store.Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, st.Authors)
		})
	}
}

func TestBlobStore_SkipsCorruptDocuments(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, local.Store(AuthorsPrefix+"broken.json", []byte("{not json")))

	store := NewBlobStore(local)
	require.NoError(t, store.Update(context.Background(), "ok", func(*models.AuthorState) (*models.AuthorState, error) {
		return models.NewAuthorState("ok", 0.5, testNow), nil
	}))

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, st.Authors, 1)
	assert.Contains(t, st.Authors, "ok")
}

// interferingStorage lets another writer change the document between the
// read and the conditional write of an update
type interferingStorage struct {
	*storage.LocalStorage
	remaining int
	interfere func(version string) error
}

func (s *interferingStorage) StoreIfVersion(filename string, data []byte, version string) error {
	if s.remaining > 0 {
		s.remaining--
		if err := s.interfere(version); err != nil {
			return err
		}
	}
	return s.LocalStorage.StoreIfVersion(filename, data, version)
}

func TestBlobStore_UpdateRetriesAfterConcurrentWrite(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	key := authorKey("alice")

	start := models.NewAuthorState("alice", 0.6, testNow)
	data, err := json.Marshal(start)
	require.NoError(t, err)
	require.NoError(t, local.Store(key, data))

	// a second process records its own alert first
	s := &interferingStorage{LocalStorage: local, remaining: 1}
	s.interfere = func(version string) error {
		other := start.Clone()
		other.AlertedPosts["t3_other"] = true
		encoded, err := json.Marshal(other)
		if err != nil {
			return err
		}
		return local.StoreIfVersion(key, encoded, version)
	}

	store := NewBlobStore(s)
	calls := 0
	err = store.Update(context.Background(), "alice", func(cur *models.AuthorState) (*models.AuthorState, error) {
		calls++
		next := cur.Clone()
		next.AlertedPosts["t3_mine"] = true
		return next, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	st, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Contains(t, st.Authors, "alice")
	assert.True(t, st.Authors["alice"].HasAlerted("t3_other"))
	assert.True(t, st.Authors["alice"].HasAlerted("t3_mine"))
}

func TestBlobStore_UpdateCreatesOnlyOnce(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	key := authorKey("bob")

	// the other process starts monitoring bob between our read and write
	s := &interferingStorage{LocalStorage: local, remaining: 1}
	s.interfere = func(version string) error {
		assert.Empty(t, version)
		data, err := json.Marshal(models.NewAuthorState("bob", 0.9, testNow))
		if err != nil {
			return err
		}
		return local.StoreIfVersion(key, data, "")
	}

	var seen []*models.AuthorState
	err = NewBlobStore(s).Update(context.Background(), "bob", func(cur *models.AuthorState) (*models.AuthorState, error) {
		seen = append(seen, cur)
		if cur != nil {
			return nil, nil
		}
		return models.NewAuthorState("bob", 0.5, testNow), nil
	})
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Nil(t, seen[0])
	require.NotNil(t, seen[1])
	assert.Equal(t, 0.9, seen[1].Baseline)
}

func TestBlobStore_UpdateGivesUpOnPersistentConflicts(t *testing.T) {
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	key := authorKey("carol")

	n := 0
	s := &interferingStorage{LocalStorage: local, remaining: maxConditionalRetries}
	s.interfere = func(string) error {
		n++
		return local.Store(key, []byte(fmt.Sprintf(`{"author":"carol","baseline":0.%d}`, n)))
	}

	err = NewBlobStore(s).Update(context.Background(), "carol", func(*models.AuthorState) (*models.AuthorState, error) {
		return models.NewAuthorState("carol", 0.5, testNow), nil
	})
	require.ErrorIs(t, err, storage.ErrPreconditionFailed)
	assert.Equal(t, maxConditionalRetries, n)
}
