// Package attachment stores files sent along with chat messages.
package attachment

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/christopherjohns/chatline/internal/apperr"
	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrInvalidData = apperr.New(apperr.KindValidation, "INVALID_ATTACHMENT", "attachment is not valid base64 data")
	ErrTooLarge    = apperr.New(apperr.KindValidation, "ATTACHMENT_TOO_LARGE", "attachment exceeds the size limit")
	ErrStorage     = apperr.New(apperr.KindStorage, "ATTACHMENT_STORAGE", "attachment could not be stored")
)

// maxCollisionRetries bounds the search for a free file name.
const maxCollisionRetries = 16

// DiskStore writes attachments into a single directory.
type DiskStore struct {
	dir     string
	maxSize int64

	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewDiskStore creates dir if needed and returns a store writing into it.
func NewDiskStore(dir string, maxSize int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	return &DiskStore{dir: dir, maxSize: maxSize, now: time.Now}, nil
}

// Dir is the directory attachments are written to.
func (s *DiskStore) Dir() string {
	return s.dir
}

// Save decodes data, which is plain base64 or a base64 data URL, and writes
// it under a fresh "<unix-nanos>.<ext>" name. The extension comes from
// originalName, or is sniffed from the content when originalName has none.
// It returns the stored name.
func (s *DiskStore) Save(originalName, data string) (string, error) {
	raw, err := decode(data)
	if err != nil {
		return "", apperr.Wrap(ErrInvalidData, err)
	}
	if len(raw) == 0 {
		return "", ErrInvalidData
	}
	if int64(len(raw)) > s.maxSize {
		return "", ErrTooLarge
	}

	ext := extension(originalName, raw)
	for range maxCollisionRetries {
		name := fmt.Sprintf("%d%s", s.tick(), ext)
		f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", apperr.Wrap(ErrStorage, err)
		}
		if _, err := f.Write(raw); err != nil {
			f.Close()
			os.Remove(f.Name())
			return "", apperr.Wrap(ErrStorage, err)
		}
		if err := f.Close(); err != nil {
			return "", apperr.Wrap(ErrStorage, err)
		}
		return name, nil
	}
	return "", apperr.Wrap(ErrStorage, errors.New("no free file name"))
}

// tick returns a strictly increasing nanosecond timestamp.
func (s *DiskStore) tick() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.now().UnixNano()
	if n <= s.last {
		n = s.last + 1
	}
	s.last = n
	return n
}

func decode(data string) ([]byte, error) {
	payload := strings.TrimSpace(data)
	if strings.HasPrefix(payload, "data:") {
		_, after, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, errors.New("data URL without payload")
		}
		payload = after
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	return raw, nil
}

func extension(originalName string, raw []byte) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	if ext != "" && ext != "." && isSafeExt(ext[1:]) {
		return ext
	}
	return mimetype.Detect(raw).Extension()
}

func isSafeExt(ext string) bool {
	if len(ext) > 16 {
		return false
	}
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}
