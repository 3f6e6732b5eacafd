package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "newsrelay/pkg/logx"
)

const compactEvery = 1000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	if cfg.Mode == ModePointer {
		return openPointerFile(cfg.Path)
	}
	return openJournal(cfg.Path, log)
}

// pointerFile keeps the last delivered identity as a single line of text.
type pointerFile struct {
	mu     sync.Mutex
	path   string
	closed bool
}

func openPointerFile(path string) (*pointerFile, error) {
	return &pointerFile{path: path}, nil
}

func (s *pointerFile) Mode() Mode { return ModePointer }

func (s *pointerFile) Load(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(string(b))
	if id == "" {
		return nil, nil
	}
	return []string{id}, nil
}

func (s *pointerFile) Record(_ context.Context, id string) error {
	if id == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return writeFileSync(s.path, []byte(id+"\n"))
}

func (s *pointerFile) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// journal keeps the delivered set on disk.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot, JSON array in delivery order)
//   - <prefix>.journal.jsonl (append-only, fsynced per record)
//
// The journal is compacted into the snapshot every compactEvery writes.
type journal struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File
	out          io.Writer // record sink; journalFile outside tests

	ids    []string
	seen   map[string]struct{}
	writes int
}

type journalRecord struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

func openJournal(path string, log logx.Logger) (*journal, error) {
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	j := &journal{
		log:          log,
		snapshotPath: prefix + ".snapshot.json",
		seen:         map[string]struct{}{},
	}
	if err := j.loadSnapshot(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("state snapshot unreadable; replaying journal only", logx.String("path", j.snapshotPath), logx.Err(err))
	}
	journalPath := prefix + ".journal.jsonl"
	end, err := j.replay(journalPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	// Appending after a torn line would glue the next record onto it.
	if info, err := f.Stat(); err == nil && info.Size() > end {
		log.Warn("dropping torn journal tail", logx.String("path", journalPath), logx.Int64("bytes", info.Size()-end))
		if err := f.Truncate(end); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	j.journalFile = f
	j.out = f
	return j, nil
}

func (j *journal) Mode() Mode { return ModeSet }

func (j *journal) Load(context.Context) ([]string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.ids...), nil
}

func (j *journal) Record(_ context.Context, id string) error {
	if id == "" {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.journalFile == nil {
		return ErrClosed
	}
	if _, ok := j.seen[id]; ok {
		return nil
	}

	line, err := json.Marshal(journalRecord{ID: id, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	info, err := j.journalFile.Stat()
	if err != nil {
		return err
	}
	if _, err := j.out.Write(append(line, '\n')); err != nil {
		if terr := j.journalFile.Truncate(info.Size()); terr != nil {
			j.log.Error("journal rollback failed", logx.Err(terr))
		}
		return err
	}
	if err := j.journalFile.Sync(); err != nil {
		return err
	}
	j.add(id)

	j.writes++
	if j.writes%compactEvery == 0 {
		if err := j.compactLocked(); err != nil {
			j.log.Debug("state compact failed", logx.Err(err))
		}
	}
	return nil
}

func (j *journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.journalFile == nil {
		return nil
	}
	err := j.journalFile.Close()
	j.journalFile = nil
	return err
}

func (j *journal) add(id string) {
	if _, ok := j.seen[id]; ok {
		return
	}
	j.seen[id] = struct{}{}
	j.ids = append(j.ids, id)
}

func (j *journal) compactLocked() error {
	b, err := json.Marshal(j.ids)
	if err != nil {
		return err
	}
	if err := writeFileSync(j.snapshotPath, b); err != nil {
		return err
	}
	if err := j.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = j.journalFile.Seek(0, 2)
	return err
}

func (j *journal) loadSnapshot() error {
	b, err := os.ReadFile(j.snapshotPath)
	if err != nil {
		return err
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	for _, id := range ids {
		if id != "" {
			j.add(id)
		}
	}
	return nil
}

// replay loads every complete record and returns the offset just past the
// last newline. Bytes after it belong to a torn write.
func (j *journal) replay(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	r := bufio.NewReader(f)
	var end int64
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			return end, nil
		}
		if err != nil {
			return end, err
		}
		end += int64(len(line))
		var rec journalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.ID != "" {
			j.add(rec.ID)
		}
	}
}

// writeFileSync replaces path atomically and fsyncs the new content.
func writeFileSync(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
