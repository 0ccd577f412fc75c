package files

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrEmptyFile   = errors.New("uploaded file is empty")
	ErrTooLarge    = errors.New("uploaded file exceeds the size limit")
	ErrNotPDF      = errors.New("only PDF files are accepted")
	ErrMissingFile = errors.New("stored file is missing")
)

// Storage keeps certificate PDFs on local disk under a flat directory of
// random names. The original filename lives only in the database; nothing
// user-controlled reaches the filesystem.
type Storage struct {
	base     string
	maxBytes int64
}

func NewStorage(base string, maxBytes int64) (*Storage, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &Storage{base: base, maxBytes: maxBytes}, nil
}

// Save streams body to disk and returns the generated stored name. The body
// must start with the PDF magic bytes.
func (s *Storage) Save(body io.Reader) (storedName string, size int64, err error) {
	var magic [4]byte
	n, err := io.ReadFull(body, magic[:])
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return "", 0, ErrEmptyFile
		}
		return "", 0, err
	}
	if string(magic[:n]) != "%PDF" {
		return "", 0, ErrNotPDF
	}

	storedName = uuid.NewString() + ".pdf"
	target := filepath.Join(s.base, storedName)
	f, err := os.Create(target)
	if err != nil {
		return "", 0, err
	}

	limited := io.LimitReader(body, s.maxBytes-int64(n)+1)
	written, err := io.Copy(f, io.MultiReader(strings.NewReader(string(magic[:n])), limited))
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(target)
		return "", 0, err
	}
	if written > s.maxBytes {
		_ = os.Remove(target)
		return "", 0, ErrTooLarge
	}
	return storedName, written, nil
}

// Open returns a reader for a stored certificate. storedName is always a
// server-generated uuid, never client input.
func (s *Storage) Open(storedName string) (io.ReadSeekCloser, int64, error) {
	target := filepath.Join(s.base, filepath.Base(storedName))
	f, err := os.Open(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, ErrMissingFile
		}
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (s *Storage) Remove(storedName string) error {
	err := os.Remove(filepath.Join(s.base, filepath.Base(storedName)))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
