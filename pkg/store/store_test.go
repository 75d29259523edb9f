package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "memory.json")
}

func TestPutGet(t *testing.T) {
	s, err := Open(tempStorePath(t))
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	require.NoError(t, s.Put("greeting", map[string]string{"text": "hello"}))

	var got map[string]string
	ok, err := s.Get("greeting", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", got["text"])

	ok, err = s.Get("absent", &got)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteBehindLagsUntilFlush(t *testing.T) {
	path := tempStorePath(t)
	s, err := Open(path, WithFlushInterval(time.Hour))
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	require.NoError(t, s.Put("k", "v"))

	// Before the window elapses the disk still holds the previous generation.
	onDisk := readDocs(t, path)
	_, present := onDisk["k"]
	assert.False(t, present, "put should not hit disk before the flush window")

	require.NoError(t, s.Flush())
	onDisk = readDocs(t, path)
	_, present = onDisk["k"]
	assert.True(t, present)
}

func TestCoalescedPuts(t *testing.T) {
	path := tempStorePath(t)
	s, err := Open(path, WithFlushInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	for i := 0; i < 10; i++ {
		require.NoError(t, s.Put("counter", i))
	}
	require.NoError(t, s.Flush())

	var got int
	onDisk := readDocs(t, path)
	require.NoError(t, json.Unmarshal(onDisk["counter"], &got))
	assert.Equal(t, 9, got, "last write in the window wins")
}

func TestShutdownFlushes(t *testing.T) {
	path := tempStorePath(t)
	s, err := Open(path, WithFlushInterval(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.Put("k", "v"))
	require.NoError(t, s.Shutdown())

	onDisk := readDocs(t, path)
	var got string
	require.NoError(t, json.Unmarshal(onDisk["k"], &got))
	assert.Equal(t, "v", got)

	assert.ErrorIs(t, s.Put("k2", "v2"), ErrClosed)
}

func TestRecoverFromCorruptPrimary(t *testing.T) {
	path := tempStorePath(t)

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("k", "v"))
	require.NoError(t, s.Flush())
	// Second generation so the backup holds the value too.
	require.NoError(t, s.Put("k2", "v2"))
	require.NoError(t, s.Shutdown())

	// Corrupt the primary; the backup still holds a prior generation.
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s2, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s2.Shutdown() }()

	var got string
	ok, err := s2.Get("k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", got)

	// The primary must have been rewritten from the recovered backup.
	onDisk := readDocs(t, path)
	_, present := onDisk["k"]
	assert.True(t, present)
}

func TestBothUnusableInitializesEmpty(t *testing.T) {
	path := tempStorePath(t)
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(path+BackupSuffix, []byte("also garbage"), 0o644))

	s, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	var got string
	ok, err := s.Get("k", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	// Reinitialized primary is valid JSON.
	readDocs(t, path)
}

func TestLeftoverTempFileIgnored(t *testing.T) {
	path := tempStorePath(t)

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put("k", "v"))
	require.NoError(t, s.Shutdown())

	// Simulate a crash between temp-file write and rename: a stale .tmp
	// exists but the primary is untouched.
	require.NoError(t, os.WriteFile(path+TempSuffix, []byte("partial wri"), 0o644))

	s2, err := Open(path)
	require.NoError(t, err)
	defer func() { _ = s2.Shutdown() }()

	var got string
	ok, err := s2.Get("k", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", got)
}

func TestPrimaryAlwaysValidJSON(t *testing.T) {
	path := tempStorePath(t)
	s, err := Open(path, WithFlushInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = s.Shutdown() }()

	for i := 0; i < 20; i++ {
		require.NoError(t, s.Put("k", i))
		require.NoError(t, s.Flush())
		readDocs(t, path) // fails the test if ever unparseable
	}
}

// readDocs parses the on-disk document set, failing the test on bad JSON.
func readDocs(t *testing.T, path string) map[string]json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var docs map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &docs), "primary file must always be valid JSON")
	return docs
}
