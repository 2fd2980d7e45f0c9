package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, dir, version string) *Cache {
	t.Helper()
	c, err := New(Config{Dir: dir, Version: version, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return c
}

// counter returns a compute function that counts invocations.
func counter[T any](calls *int, value T) func(context.Context) (T, error) {
	return func(context.Context) (T, error) {
		*calls++
		return value, nil
	}
}

func TestSignatureKeyIsCanonical(t *testing.T) {
	a := Signature{Function: "f", Args: []any{"x", 1}, Kwargs: map[string]any{"b": 2, "a": 1}}
	b := Signature{Function: "f", Args: []any{"x", 1}, Kwargs: map[string]any{"a": 1, "b": 2}}

	ka, err := a.Key()
	require.NoError(t, err)
	kb, err := b.Key()
	require.NoError(t, err)
	assert.Equal(t, ka, kb)

	kc, err := Signature{Function: "f", Args: []any{"y", 1}}.Key()
	require.NoError(t, err)
	assert.NotEqual(t, ka, kc)

	_, err = Signature{Function: "f", Args: []any{make(chan int)}}.Key()
	assert.Error(t, err)
}

func TestComputesOncePerHash(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "", "v1")

	hash := "h1"
	calls := 0
	call := Call[string]{
		Signature: Signature{Function: "f", Args: []any{"x"}},
		Compute: func(context.Context) (string, error) {
			calls++
			return "value-" + hash, nil
		},
		Hash: func(context.Context) (string, error) { return hash, nil },
	}

	for range 3 {
		v, err := GetOrCompute(ctx, c, call)
		require.NoError(t, err)
		assert.Equal(t, "value-h1", v)
	}
	assert.Equal(t, 1, calls)

	hash = "h2"
	v, err := GetOrCompute(ctx, c, call)
	require.NoError(t, err)
	assert.Equal(t, "value-h2", v)
	assert.Equal(t, 2, calls)

	_, err = GetOrCompute(ctx, c, call)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "new hash must be retained")
	assert.Equal(t, 1, c.Len())
}

func TestDistinctArgumentsAreDistinctEntries(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "", "v1")

	calls := 0
	for _, arg := range []string{"a", "b", "a"} {
		_, err := GetOrCompute(ctx, c, Call[int]{
			Signature: Signature{Function: "f", Args: []any{arg}},
			Compute:   counter(&calls, 1),
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
}

func TestFailuresBypassCache(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := newTestCache(t, dir, "v1")

	boom := errors.New("evaluation failed")
	fail := true
	calls := 0
	call := Call[string]{
		Signature: Signature{Function: "f"},
		Compute: func(context.Context) (string, error) {
			calls++
			if fail {
				return "", boom
			}
			return "ok", nil
		},
		Persist: true,
	}

	_, err := GetOrCompute(ctx, c, call)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	fail = false
	v, err := GetOrCompute(ctx, c, call)
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 2, calls)
}

func TestHashFailureIsReturned(t *testing.T) {
	c := newTestCache(t, "", "v1")
	calls := 0

	_, err := GetOrCompute(context.Background(), c, Call[int]{
		Signature: Signature{Function: "f"},
		Compute:   counter(&calls, 1),
		Hash:      FileHash(ReadLocalFile, filepath.Join(t.TempDir(), "missing.nix")),
	})
	require.Error(t, err)
	assert.Zero(t, calls)
}

func TestDiskRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	type result struct {
		Names []string `json:"names"`
		Count int      `json:"count"`
	}
	want := result{Names: []string{"a", "b"}, Count: 2}

	calls := 0
	call := Call[result]{
		Signature: Signature{Function: "schema", Args: []any{"/etc/nixos/configuration.nix"}},
		Compute:   counter(&calls, want),
		Hash:      ConstantHash("24.05"),
		Persist:   true,
	}

	first := newTestCache(t, dir, "v1")
	got, err := GetOrCompute(ctx, first, call)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	files, err := filepath.Glob(filepath.Join(dir, "*"+resultSuffix))
	require.NoError(t, err)
	require.Len(t, files, 1)
	hashes, err := filepath.Glob(filepath.Join(dir, "*"+hashSuffix))
	require.NoError(t, err)
	require.Len(t, hashes, 1)

	second := newTestCache(t, dir, "v1")
	got, err = GetOrCompute(ctx, second, call)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, calls, "second instance must load from disk")

	other := newTestCache(t, dir, "v2")
	_, err = GetOrCompute(ctx, other, call)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "a new version must not see old entries")

	files, err = filepath.Glob(filepath.Join(dir, "*"+resultSuffix))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestDiskEntriesAreWriteOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	hash := "h1"
	value := "first"
	calls := 0
	call := Call[string]{
		Signature: Signature{Function: "f"},
		Compute: func(context.Context) (string, error) {
			calls++
			return value, nil
		},
		Hash:    func(context.Context) (string, error) { return hash, nil },
		Persist: true,
	}

	_, err := GetOrCompute(ctx, newTestCache(t, dir, "v1"), call)
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "*"+resultSuffix))
	require.NoError(t, err)
	require.Len(t, files, 1)
	before, err := os.ReadFile(files[0])
	require.NoError(t, err)

	hash, value = "h2", "second"
	c := newTestCache(t, dir, "v1")
	got, err := GetOrCompute(ctx, c, call)
	require.NoError(t, err)
	assert.Equal(t, "second", got)
	assert.Equal(t, 2, calls)

	after, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, before, after)

	got, err = GetOrCompute(ctx, c, call)
	require.NoError(t, err)
	assert.Equal(t, "second", got)
	assert.Equal(t, 2, calls, "memory keeps the recomputed entry")
}

func TestFailedDiskWriteIsRetried(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "func_cache")
	c := newTestCache(t, dir, "v1")
	require.NoError(t, os.RemoveAll(dir))

	calls := 0
	call := Call[string]{
		Signature: Signature{Function: "f"},
		Compute:   counter(&calls, "value"),
		Persist:   true,
	}

	_, err := GetOrCompute(ctx, c, call)
	require.NoError(t, err, "disk failures are not returned")
	_, err = os.Stat(dir)
	require.True(t, os.IsNotExist(err))

	require.NoError(t, os.MkdirAll(dir, 0o755))
	v, err := GetOrCompute(ctx, c, call)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls)

	files, err := filepath.Glob(filepath.Join(dir, "*"+resultSuffix))
	require.NoError(t, err)
	assert.Len(t, files, 1)

	fresh := newTestCache(t, dir, "v1")
	v, err = GetOrCompute(ctx, fresh, call)
	require.NoError(t, err)
	assert.Equal(t, "value", v)
	assert.Equal(t, 1, calls)
}

func TestCorruptDiskEntryIsRecomputed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	calls := 0
	call := Call[map[string]int]{
		Signature: Signature{Function: "f"},
		Compute:   counter(&calls, map[string]int{"a": 1}),
		Persist:   true,
	}

	_, err := GetOrCompute(ctx, newTestCache(t, dir, "v1"), call)
	require.NoError(t, err)

	files, err := filepath.Glob(filepath.Join(dir, "*"+resultSuffix))
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.NoError(t, os.WriteFile(files[0], []byte("{not json"), 0o644))

	got, err := GetOrCompute(ctx, newTestCache(t, dir, "v1"), call)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1}, got)
	assert.Equal(t, 2, calls)
}

func TestCopyProtectsStoredValue(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "", "v1")
	calls := 0
	call := Call[map[string]int]{
		Signature: Signature{Function: "f"},
		Compute:   counter(&calls, map[string]int{"a": 1}),
		Copy: func(m map[string]int) map[string]int {
			out := make(map[string]int, len(m))
			for k, v := range m {
				out[k] = v
			}
			return out
		},
	}

	first, err := GetOrCompute(ctx, c, call)
	require.NoError(t, err)
	first["b"] = 2

	second, err := GetOrCompute(ctx, c, call)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1}, second)
	assert.Equal(t, 1, calls)
}

func TestConcurrentCallsComputeOnce(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t, "", "v1")

	var calls atomic.Int32
	release := make(chan struct{})
	call := Call[int]{
		Signature: Signature{Function: "slow"},
		Compute: func(context.Context) (int, error) {
			calls.Add(1)
			<-release
			return 42, nil
		},
	}

	var wg sync.WaitGroup
	results := make([]int, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := GetOrCompute(ctx, c, call)
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, 42, v)
	}
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	_, err := GetOrCompute(ctx, c, call)
	require.NoError(t, err)
}

func TestFileHashTracksContents(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "configuration.nix")
	require.NoError(t, os.WriteFile(path, []byte("{ }"), 0o644))

	hash := FileHash(ReadLocalFile, path)
	h1, err := hash(ctx)
	require.NoError(t, err)
	h1again, err := hash(ctx)
	require.NoError(t, err)
	assert.Equal(t, h1, h1again)

	require.NoError(t, os.WriteFile(path, []byte("{ networking.hostName = \"x\"; }"), 0o644))
	h2, err := hash(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}
