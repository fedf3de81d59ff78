package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

const watchDebounce = 300 * time.Millisecond

// fileRecord is the on-disk JSON layout of a credential file.
type fileRecord struct {
	BearerToken string `json:"bearer_token"`
	UserID      string `json:"user_id,omitempty"`
	CreatedAt   int64  `json:"created_at,omitempty"`
	ExpiresIn   *int64 `json:"expires_in,omitempty"`
}

// FileStore persists credentials as one JSON file each inside a directory.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore returns a store rooted at dir. The directory is created on first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

// Dir returns the store directory.
func (s *FileStore) Dir() string { return s.dir }

// Load reads every *.json file in the directory, sorted by file name. A missing
// directory yields an empty list. Unreadable files are logged and skipped.
func (s *FileStore) Load(ctx context.Context) ([]Credential, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("credential store: read dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	creds := make([]Credential, 0, len(names))
	for _, name := range names {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		data, errRead := os.ReadFile(filepath.Join(s.dir, name))
		if errRead != nil {
			log.Warnf("credential store: skip %s: %v", name, errRead)
			continue
		}
		var rec fileRecord
		if errUnmarshal := json.Unmarshal(data, &rec); errUnmarshal != nil {
			log.Warnf("credential store: skip %s: %v", name, errUnmarshal)
			continue
		}
		creds = append(creds, rec.toCredential(name))
	}
	return creds, nil
}

// Save writes c to disk. When c.ID is empty a file name is derived from the user
// id and the current time. The returned credential carries the final ID.
func (s *FileStore) Save(ctx context.Context, c Credential) (Credential, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	if c.ID == "" {
		c.ID = FileName(c.UserID, s.now())
	}
	if err := validateFileName(c.ID); err != nil {
		return Credential{}, err
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}

	data, err := json.MarshalIndent(recordFrom(c), "", "  ")
	if err != nil {
		return Credential{}, fmt.Errorf("credential store: encode: %w", err)
	}
	if err = os.MkdirAll(s.dir, 0o700); err != nil {
		return Credential{}, fmt.Errorf("credential store: create dir: %w", err)
	}

	path := filepath.Join(s.dir, c.ID)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return Credential{}, fmt.Errorf("credential store: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return Credential{}, fmt.Errorf("credential store: write: %w", err)
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return Credential{}, fmt.Errorf("credential store: close: %w", err)
	}
	if err = os.Chmod(tmpName, 0o600); err != nil {
		log.Debugf("credential store: chmod %s: %v", tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return Credential{}, fmt.Errorf("credential store: rename: %w", err)
	}
	return c, nil
}

// Delete removes the credential file named id. Deleting a missing file is not an error.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateFileName(id); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("credential store: delete %s: %w", id, err)
	}
	return nil
}

// Watch calls onChange after the set of credential files changes, until ctx ends.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("credential store: create dir: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credential store: watcher: %w", err)
	}
	defer func() {
		if errClose := fw.Close(); errClose != nil {
			log.Errorf("credential store: close watcher error: %v", errClose)
		}
	}()
	if err = fw.Add(s.dir); err != nil {
		return fmt.Errorf("credential store: watch %s: %w", s.dir, err)
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(strings.ToLower(ev.Name), ".json") {
				continue
			}
			pending = time.After(watchDebounce)
		case errWatch, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warnf("credential store watcher error: %v", errWatch)
		case <-pending:
			pending = nil
			onChange()
		}
	}
}

// FileName builds codebuddy_<user>_<unix>.json, keeping only [A-Za-z0-9._-] of
// the user id and at most 20 of those characters.
func FileName(userID string, now time.Time) string {
	var b strings.Builder
	for _, r := range userID {
		if b.Len() >= 20 {
			break
		}
		if r < 128 && (r == '.' || r == '_' || r == '-' ||
			(r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')) {
			b.WriteRune(r)
		}
	}
	safe := b.String()
	if safe == "" {
		safe = "unknown"
	}
	return fmt.Sprintf("codebuddy_%s_%d.json", safe, now.Unix())
}

// SanitizeFileName turns a caller supplied name into a safe store file name.
func SanitizeFileName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !strings.HasSuffix(strings.ToLower(name), ".json") {
		name += ".json"
	}
	if err := validateFileName(name); err != nil {
		return "", err
	}
	return name, nil
}

func validateFileName(name string) error {
	if name == "" || name == ".json" || filepath.Base(name) != name || strings.HasPrefix(name, ".") ||
		strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("credential store: invalid file name %q", name)
	}
	return nil
}

func (r fileRecord) toCredential(id string) Credential {
	c := Credential{
		ID:     id,
		Bearer: strings.TrimSpace(r.BearerToken),
		UserID: r.UserID,
	}
	if r.CreatedAt > 0 {
		c.CreatedAt = time.Unix(r.CreatedAt, 0)
	}
	if r.ExpiresIn != nil && r.CreatedAt > 0 {
		c.ExpiresAt = time.Unix(r.CreatedAt+*r.ExpiresIn, 0)
	}
	return c
}

func recordFrom(c Credential) fileRecord {
	rec := fileRecord{
		BearerToken: c.Bearer,
		UserID:      c.UserID,
		CreatedAt:   c.CreatedAt.Unix(),
	}
	if !c.ExpiresAt.IsZero() {
		expiresIn := c.ExpiresAt.Unix() - rec.CreatedAt
		rec.ExpiresIn = &expiresIn
	}
	return rec
}
