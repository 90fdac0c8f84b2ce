// Package uploads stores files received over the file transfer sub-protocol.
package uploads

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	ManifestName = ".manifest.jsonl"
	tempPrefix   = ".upload-"
)

var ErrInvalidFilename = errors.New("invalid filename")

// Record is one manifest line.
type Record struct {
	Filename   string    `json:"filename"`
	Size       int64     `json:"size"`
	Sender     string    `json:"sender"`
	Remote     string    `json:"remote"`
	ReceivedAt time.Time `json:"received_at"`
	DurationMs int64     `json:"duration_ms"`
}

// Store writes uploads under a single directory. Files are staged under a
// temporary name and renamed into place on Commit, so an aborted transfer
// never replaces an existing file. Name collisions overwrite.
type Store struct {
	dir      string
	manifest bool
	mu       sync.Mutex // serializes manifest appends
	logger   zerolog.Logger
}

// New creates a store rooted at dir. The directory is created lazily.
func New(dir string, manifest bool, logger zerolog.Logger) *Store {
	return &Store{
		dir:      dir,
		manifest: manifest,
		logger:   logger.With().Str("com", "uploads").Str("dir", dir).Logger(),
	}
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// Sanitize reduces a sender declared filename to its base component. Both
// slash and backslash count as separators.
func Sanitize(name string) (string, error) {
	base := path.Base(strings.ReplaceAll(name, `\`, "/"))
	switch {
	case base == "." || base == ".." || base == "/":
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	case strings.ContainsRune(base, 0):
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidFilename)
	case base == ManifestName || strings.HasPrefix(base, tempPrefix):
		return "", fmt.Errorf("%w: reserved name %q", ErrInvalidFilename, base)
	}
	return base, nil
}

// Upload is a file being received.
type Upload struct {
	store *Store
	file  *os.File
	name  string
	tmp   string
}

// Create stages a new upload for the sanitized form of filename.
func (s *Store) Create(filename string) (*Upload, error) {
	name, err := Sanitize(filename)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	tmp := filepath.Join(s.dir, tempPrefix+uuid.NewString()+".part")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}
	return &Upload{store: s, file: f, name: name, tmp: tmp}, nil
}

// Name returns the sanitized destination filename.
func (u *Upload) Name() string {
	return u.name
}

func (u *Upload) Write(p []byte) (int, error) {
	return u.file.Write(p)
}

// Commit moves the upload into place and records it in the manifest.
// rec.Filename and rec.ReceivedAt are filled in by the store.
func (u *Upload) Commit(rec Record) (string, error) {
	if err := u.file.Close(); err != nil {
		_ = os.Remove(u.tmp)
		return "", fmt.Errorf("close upload file: %w", err)
	}

	dst := filepath.Join(u.store.dir, u.name)
	if err := os.Rename(u.tmp, dst); err != nil {
		_ = os.Remove(u.tmp)
		return "", fmt.Errorf("move upload into place: %w", err)
	}

	rec.Filename = u.name
	rec.ReceivedAt = time.Now().UTC()
	if err := u.store.appendRecord(rec); err != nil {
		// The file itself is complete; a missing manifest line is not fatal.
		u.store.logger.Warn().Err(err).Str("file", u.name).Msg("append manifest record failed")
	}
	return dst, nil
}

// Abort discards the staged file.
func (u *Upload) Abort() {
	_ = u.file.Close()
	if err := os.Remove(u.tmp); err != nil && !errors.Is(err, os.ErrNotExist) {
		u.store.logger.Warn().Err(err).Str("tmp", u.tmp).Msg("remove staged upload failed")
	}
}

func (s *Store) appendRecord(rec Record) error {
	if !s.manifest {
		return nil
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, ManifestName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// Records reads the manifest. A missing manifest yields no records.
func (s *Store) Records() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, ManifestName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return records, fmt.Errorf("parse manifest line %d: %w", len(records)+1, err)
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
