package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"kvcache/pkg/serializer"
	"kvcache/pkg/storage"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

type testEnv struct {
	cache   *Cache[string, int]
	store   *storage.MemoryStorage[string, *Item[string, int]]
	clock   *fakeClock
	logHook *logtest.Hook
}

func newTestEnv(t *testing.T, mutate ...func(*Config[string, int])) *testEnv {
	t.Helper()

	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	env := &testEnv{
		store:   storage.NewMemoryStorage[string, *Item[string, int]](),
		clock:   newFakeClock(),
		logHook: hook,
	}
	cfg := Config[string, int]{
		Storage:    env.store,
		Serializer: serializer.JSON[int]{},
		Now:        env.clock.Now,
		Logger:     logrus.NewEntry(log),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	c, err := New(cfg)
	require.NoError(t, err)
	env.cache = c
	return env
}

// recorder 记录回调调用
type recorder struct {
	calls []call
}

type call struct {
	tag   string
	key   string
	value int
}

func (r *recorder) listener(tag string) Listener[string, int] {
	return func(key string, value int) {
		r.calls = append(r.calls, call{tag: tag, key: key, value: value})
	}
}

func (r *recorder) expire(tag string) ExpireFunc[string, int] {
	return func(key string, value int) {
		r.calls = append(r.calls, call{tag: tag, key: key, value: value})
	}
}

func (r *recorder) tags() []string {
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.tag+":"+c.key)
	}
	return out
}
