package sessions

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

const (
	metaFile     = "meta.json"
	messagesFile = "messages.jsonl"
)

// FileStore archives each session in its own directory: meta.json for the record and
// messages.jsonl for the transcript, one message per line.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileStore creates a FileStore rooted at dir. Nothing is written until the first
// session is created.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id, name string) string {
	return filepath.Join(s.dir, id, name)
}

// Create registers a session. Creating an archived id again returns the existing record.
func (s *FileStore) Create(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if existing, err := s.readMeta(id); err == nil {
			return existing, nil
		}
	}

	sess := newSession(id)
	if err := os.MkdirAll(filepath.Join(s.dir, sess.ID), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	if err := s.writeMeta(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *FileStore) Get(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readMeta(id)
}

// List returns every readable session, most recently updated first. Directories with a
// missing or corrupted meta.json are skipped.
func (s *FileStore) List() ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list archive: %w", err)
	}

	var out []*Session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if sess, err := s.readMeta(e.Name()); err == nil {
			out = append(out, sess)
		}
	}
	slices.SortFunc(out, func(a, b *Session) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return out, nil
}

func (s *FileStore) UpdateMeta(sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMeta(sess)
}

func (s *FileStore) Close(id string) error {
	return s.update(id, func(sess *Session) error {
		sess.Status = SessionClosed
		return nil
	})
}

// AppendMessage adds msg to the transcript and bumps the message count. The first user
// message also becomes the session title.
func (s *FileStore) AppendMessage(id string, msg Message) error {
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return s.update(id, func(sess *Session) error {
		f, err := os.OpenFile(s.path(id, messagesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write message: %w", err)
		}

		sess.MessageCount++
		if sess.Title == "" && msg.Role == "user" {
			sess.Title = titleFrom(msg.Content)
		}
		return nil
	})
}

// LoadMessages returns the transcript in append order. Unparseable lines are skipped.
func (s *FileStore) LoadMessages(id string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(s.path(id, messagesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var msgs []Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var m Message
		if json.Unmarshal(sc.Bytes(), &m) == nil {
			msgs = append(msgs, m)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return msgs, nil
}

// update runs fn on the stored record under the write lock and saves it with a fresh
// UpdatedAt. Nothing is saved when fn fails.
func (s *FileStore) update(id string, fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.readMeta(id)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.UpdatedAt = time.Now()
	return s.writeMeta(sess)
}

// writeMeta replaces meta.json through a temp file and rename.
func (s *FileStore) writeMeta(sess *Session) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}
	path := s.path(sess.ID, metaFile)
	if err := os.WriteFile(path+".tmp", data, 0o644); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		return fmt.Errorf("replace meta: %w", err)
	}
	return nil
}

func (s *FileStore) readMeta(id string) (*Session, error) {
	data, err := os.ReadFile(s.path(id, metaFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return &sess, nil
}

var _ Store = (*FileStore)(nil)
