package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, time.Hour), mr
}

func storeImplementations(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			s, _ := newTestRedisStore(t)
			return s
		},
	}
}

func queuedRecord(id string, createdAt time.Time) *Record {
	return &Record{
		JobID:       id,
		URL:         "https://site.example/",
		MaxDepth:    1,
		Status:      StatusQueued,
		CreatedAt:   createdAt,
		LastUpdated: createdAt,
	}
}

func TestStoreCreateGet(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

			require.NoError(t, s.Create(ctx, queuedRecord("job-1", created)))

			got, err := s.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, StatusQueued, got.Status)
			assert.Equal(t, "https://site.example/", got.URL)
			assert.True(t, created.Equal(got.CreatedAt))

			err = s.Create(ctx, queuedRecord("job-1", created))
			assert.True(t, errors.Is(err, ErrJobExists))

			_, err = s.Get(ctx, "missing")
			assert.True(t, errors.Is(err, ErrJobNotFound))
		})
	}
}

func TestStoreGetReturnsSnapshot(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			require.NoError(t, s.Create(ctx, queuedRecord("job-1", time.Now())))

			snap, err := s.Get(ctx, "job-1")
			require.NoError(t, err)
			snap.Status = StatusFailed

			again, err := s.Get(ctx, "job-1")
			require.NoError(t, err)
			assert.Equal(t, StatusQueued, again.Status)
		})
	}
}

func TestStoreMutate(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			require.NoError(t, s.Create(ctx, queuedRecord("job-1", time.Now())))

			updated, err := s.Mutate(ctx, "job-1", func(r *Record) {
				r.Progress = &Progress{TotalURLs: 2}
				r.Progress.ProcessedURLs++
				r.Progress.SuccessfulURLs++
				r.RenderedPages = append(r.RenderedPages, RenderedPage{URL: "https://site.example/a", Filename: "a.pdf"})
			})
			require.NoError(t, err)
			assert.Equal(t, 1, updated.Progress.ProcessedURLs)

			got, err := s.Get(ctx, "job-1")
			require.NoError(t, err)
			require.NotNil(t, got.Progress)
			assert.Equal(t, 1, got.Progress.SuccessfulURLs)
			assert.Equal(t, []RenderedPage{{URL: "https://site.example/a", Filename: "a.pdf"}}, got.RenderedPages)

			_, err = s.Mutate(ctx, "missing", func(*Record) {})
			assert.True(t, errors.Is(err, ErrJobNotFound))
		})
	}
}

func TestStoreListAndDelete(t *testing.T) {
	for name, newStore := range storeImplementations(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := newStore(t)
			now := time.Now().UTC().Truncate(time.Second)

			require.NoError(t, s.Create(ctx, queuedRecord("old", now.Add(-48*time.Hour))))
			require.NoError(t, s.Create(ctx, queuedRecord("new", now)))

			ids, err := s.ListCreatedBefore(ctx, now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, []string{"old"}, ids)

			require.NoError(t, s.Delete(ctx, "old"))
			require.NoError(t, s.Delete(ctx, "old"))
			_, err = s.Get(ctx, "old")
			assert.True(t, errors.Is(err, ErrJobNotFound))

			ids, err = s.ListCreatedBefore(ctx, now.Add(time.Hour))
			require.NoError(t, err)
			assert.Equal(t, []string{"new"}, ids)
		})
	}
}

func TestMemoryStoreConcurrentMutate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, queuedRecord("job-1", time.Now())))
	_, err := s.Mutate(ctx, "job-1", func(r *Record) { r.Progress = &Progress{} })
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Mutate(ctx, "job-1", func(r *Record) {
				r.Progress.ProcessedURLs++
				if i%2 == 0 {
					r.Progress.SuccessfulURLs++
				} else {
					r.Progress.FailedURLs++
				}
			})
		}(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := s.Get(ctx, "job-1")
			if err == nil && snap.Progress != nil {
				assert.Equal(t, snap.Progress.ProcessedURLs, snap.Progress.SuccessfulURLs+snap.Progress.FailedURLs)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress.ProcessedURLs)
	assert.Equal(t, 25, got.Progress.SuccessfulURLs)
	assert.Equal(t, 25, got.Progress.FailedURLs)
}

func TestRedisStoreKeepsTTLOnMutate(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	require.NoError(t, s.Create(ctx, queuedRecord("job-1", time.Now())))

	_, err := s.Mutate(ctx, "job-1", func(r *Record) { r.MainPDF = "root.pdf" })
	require.NoError(t, err)
	assert.Equal(t, time.Hour, mr.TTL(jobKey("job-1")))

	mr.FastForward(2 * time.Hour)
	_, err = s.Get(ctx, "job-1")
	assert.True(t, errors.Is(err, ErrJobNotFound))
}
