package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examprep/examprep-cli/internal/config"
	"github.com/examprep/examprep-cli/internal/model"
)

// testClock advances one second per call.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	st.now = newTestClock().Now
	return st
}

func newTestRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	st := NewRedisWithClient(rdb, ttl)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	st.now = newTestClock().Now
	return st, mr
}

func newTestMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	st := NewMemory()
	st.now = newTestClock().Now
	return st
}

func backends(t *testing.T) map[string]CheckpointStore {
	redisStore, _ := newTestRedisStore(t, 0)
	return map[string]CheckpointStore{
		"memory": newTestMemoryStore(t),
		"sqlite": newTestSQLiteStore(t),
		"redis":  redisStore,
	}
}

func analysis(unit int, question string) model.UnitAnalysis {
	return model.UnitAnalysis{
		UnitNumber:   unit,
		ShortAnswers: []model.Question{{Question: question, Answer: "a", Marks: 2}},
		LongAnswers:  []model.Question{{Question: "long " + question, Answer: "b", Marks: 13}},
	}
}

func TestNewCheckpointID(t *testing.T) {
	now := time.Unix(0, 1700000000123456789)
	id := NewCheckpointID("CS3491 Artificial Intelligence & ML", now)
	assert.Regexp(t, `^cs3491-artificial-intelligence-ml-1700000000123456789-[0-9a-f]{8}$`, id)
	assert.NotEqual(t, id, NewCheckpointID("CS3491 Artificial Intelligence & ML", now))

	assert.Regexp(t, `^run-\d+-[0-9a-f]{8}$`, NewCheckpointID("数学", now))
	assert.Regexp(t, `^run-\d+-[0-9a-f]{8}$`, NewCheckpointID("", now))
}

func TestCheckpointStore_RoundTrip(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := st.Initialize(ctx, "Compiler Design", 5)
			require.NoError(t, err)

			loaded, err := st.Load(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, loaded)
			assert.Equal(t, id, loaded.ID)
			assert.Equal(t, "Compiler Design", loaded.Subject)
			assert.Equal(t, 5, loaded.TotalUnits)
			assert.Empty(t, loaded.CompletedUnits)

			require.NoError(t, st.RecordUnit(ctx, id, 3, analysis(3, "first")))
			require.NoError(t, st.RecordUnit(ctx, id, 1, analysis(1, "one")))
			require.NoError(t, st.RecordUnit(ctx, id, 3, analysis(3, "replaced")))

			loaded, err = st.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []int{1, 3}, loaded.CompletedUnits)
			assert.True(t, loaded.IsCompleted(3))
			assert.False(t, loaded.IsCompleted(2))
			assert.Equal(t, "replaced", loaded.Results[3].ShortAnswers[0].Question)
			assert.Equal(t, "one", loaded.Results[1].ShortAnswers[0].Question)
		})
	}
}

func TestCheckpointStore_RejectsOutOfRangeUnits(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := st.Initialize(ctx, "Networks", 2)
			require.NoError(t, err)

			assert.Error(t, st.RecordUnit(ctx, id, 0, analysis(0, "x")))
			assert.Error(t, st.RecordUnit(ctx, id, 3, analysis(3, "x")))

			loaded, err := st.Load(ctx, id)
			require.NoError(t, err)
			assert.Empty(t, loaded.CompletedUnits)
		})
	}
}

func TestCheckpointStore_MissingIDs(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			loaded, err := st.Load(ctx, "nope")
			require.NoError(t, err)
			assert.Nil(t, loaded)

			err = st.RecordUnit(ctx, "nope", 1, analysis(1, "x"))
			assert.ErrorIs(t, err, ErrNotFound)

			assert.NoError(t, st.Discard(ctx, "nope"))
		})
	}
}

func TestCheckpointStore_InitializeRejectsEmptyRun(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := st.Initialize(context.Background(), "Networks", 0)
			assert.Error(t, err)
		})
	}
}

func TestCheckpointStore_DiscardAndList(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first, err := st.Initialize(ctx, "Operating Systems", 5)
			require.NoError(t, err)
			second, err := st.Initialize(ctx, "Data Structures", 4)
			require.NoError(t, err)
			require.NoError(t, st.RecordUnit(ctx, second, 2, analysis(2, "q")))

			list, err := st.List(ctx, 10)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, second, list[0].ID)
			assert.Equal(t, 1, list[0].Completed)
			assert.Equal(t, 4, list[0].TotalUnits)
			assert.Equal(t, first, list[1].ID)

			limited, err := st.List(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			require.NoError(t, st.Discard(ctx, second))
			loaded, err := st.Load(ctx, second)
			require.NoError(t, err)
			assert.Nil(t, loaded)

			list, err = st.List(ctx, 10)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, first, list[0].ID)
		})
	}
}

func TestRedisStore_KeyLayoutAndTTL(t *testing.T) {
	st, mr := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	id, err := st.Initialize(ctx, "Networks", 3)
	require.NoError(t, err)

	assert.True(t, mr.Exists("examprep:checkpoint:"+id))
	assert.Equal(t, time.Hour, mr.TTL("examprep:checkpoint:"+id))

	raw, err := mr.Get("examprep:checkpoint:" + id)
	require.NoError(t, err)
	assert.Contains(t, raw, `"completed_units":[]`)
	assert.Contains(t, raw, `"total_units":3`)

	mr.FastForward(2 * time.Hour)

	loaded, err := st.Load(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, loaded)

	list, err := st.List(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	members, err := mr.ZMembers(redisIndexKey)
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	st, err := Open(ctx, config.StoreConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, st)

	st, err = Open(ctx, config.StoreConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "cp.db")})
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	id, err := st.Initialize(ctx, "AI", 1)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	mr := miniredis.RunT(t)
	st, err = Open(ctx, config.StoreConfig{Driver: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, st)

	_, err = Open(ctx, config.StoreConfig{Driver: "mongo"})
	assert.Error(t, err)
}
