package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "newsrelay/pkg/logx"
)

func openT(t *testing.T, cfg Config) Store {
	t.Helper()
	st, err := Open(cfg, logx.Nop())
	require.NoError(t, err)
	return st
}

func TestStoresPersistAcrossReopen(t *testing.T) {
	cases := []struct {
		name   string
		driver string
		mode   Mode
		file   string
		want   []string
	}{
		{"file set", "file", ModeSet, "delivered.jsonl", []string{"http://x/a", "http://x/b"}},
		{"file pointer", "file", ModePointer, "last_link.txt", []string{"http://x/a"}},
		{"sqlite set", "sqlite", ModeSet, "state.db", []string{"http://x/a", "http://x/b"}},
		{"sqlite pointer", "sqlite", ModePointer, "state.db", []string{"http://x/a"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			cfg := Config{Driver: tc.driver, Mode: tc.mode, Path: filepath.Join(t.TempDir(), tc.file)}

			st := openT(t, cfg)
			require.NoError(t, st.Record(ctx, "http://x/a"))
			require.NoError(t, st.Record(ctx, "http://x/b"))
			require.NoError(t, st.Record(ctx, "http://x/a"))
			require.NoError(t, st.Close())

			st = openT(t, cfg)
			defer st.Close()
			got, err := st.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.mode, st.Mode())
		})
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	st := openT(t, Config{Driver: "memory", Mode: ModeSet})
	require.NoError(t, st.Record(ctx, "a"))
	require.NoError(t, st.Record(ctx, ""))
	require.NoError(t, st.Record(ctx, "a"))
	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)
}

func TestPointerFileIsSingleLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "last_link.txt")
	st := openT(t, Config{Driver: "file", Mode: ModePointer, Path: path})
	defer st.Close()

	require.NoError(t, st.Record(context.Background(), "http://x/a"))
	require.NoError(t, st.Record(context.Background(), "http://x/b"))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "http://x/b\n", string(b))
}

func TestJournalCompaction(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "delivered.jsonl")
	j, err := openJournal(path, logx.Nop())
	require.NoError(t, err)

	for i := 0; i < compactEvery; i++ {
		require.NoError(t, j.Record(ctx, "id-"+string(rune('a'+i%26))+"-"+strconv.Itoa(i)))
	}
	require.NoError(t, j.Close())

	info, err := os.Stat(filepath.Join(filepath.Dir(path), "delivered.journal.jsonl"))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	j, err = openJournal(path, logx.Nop())
	require.NoError(t, err)
	defer j.Close()
	ids, err := j.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, compactEvery)
	assert.Equal(t, "id-a-0", ids[0])
}

func TestJournalSkipsTornTail(t *testing.T) {
	dir := t.TempDir()
	jp := filepath.Join(dir, "delivered.journal.jsonl")
	require.NoError(t, os.WriteFile(jp, []byte(`{"id":"http://x/a","at":"2024-01-01T00:00:00Z"}`+"\n"+`{"id":"http://x/`), 0o600))

	j, err := openJournal(filepath.Join(dir, "delivered.jsonl"), logx.Nop())
	require.NoError(t, err)
	defer j.Close()
	ids, err := j.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x/a"}, ids)
}

func TestJournalAppendsAfterTornTail(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	jp := filepath.Join(dir, "delivered.journal.jsonl")
	require.NoError(t, os.WriteFile(jp, []byte(`{"id":"http://x/a","at":"2024-01-01T00:00:00Z"}`+"\n"+`{"id":"http://x/`), 0o600))

	j, err := openJournal(filepath.Join(dir, "delivered.jsonl"), logx.Nop())
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, "http://x/c"))
	require.NoError(t, j.Close())

	j, err = openJournal(filepath.Join(dir, "delivered.jsonl"), logx.Nop())
	require.NoError(t, err)
	defer j.Close()
	ids, err := j.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x/a", "http://x/c"}, ids)
}

// shortWriter writes half of each record and then fails.
type shortWriter struct{ f *os.File }

func (w shortWriter) Write(p []byte) (int, error) {
	n, _ := w.f.Write(p[:len(p)/2])
	return n, errors.New("no space left on device")
}

func TestJournalRollsBackPartialWrite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "delivered.jsonl")
	j, err := openJournal(path, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, "http://x/a"))

	j.out = shortWriter{f: j.journalFile}
	require.Error(t, j.Record(ctx, "http://x/b"))
	j.out = j.journalFile
	require.NoError(t, j.Record(ctx, "http://x/c"))
	require.NoError(t, j.Close())

	j, err = openJournal(path, logx.Nop())
	require.NoError(t, err)
	defer j.Close()
	ids, err := j.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://x/a", "http://x/c"}, ids)
}

func TestOpenRejectsSecondHolder(t *testing.T) {
	cfg := Config{Driver: "file", Mode: ModeSet, Path: filepath.Join(t.TempDir(), "delivered.jsonl")}
	st := openT(t, cfg)
	defer st.Close()

	_, err := Open(cfg, logx.Nop())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLocked))
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(Config{Driver: "file", Mode: ModeSet}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "memory", Mode: "ring"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "redis", Mode: ModeSet, Path: filepath.Join(t.TempDir(), "x")}, logx.Nop())
	assert.Error(t, err)
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	st := openT(t, Config{Driver: "sqlite", Mode: ModeSet, Path: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, st.Close())
	assert.Error(t, st.Record(context.Background(), "x"))
}
