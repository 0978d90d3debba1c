// Package storage keeps uploaded artifacts on the local filesystem, where the
// conversion pipeline can read them by path.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/Zraffens/HackUTA-backend/constants"
	"github.com/Zraffens/HackUTA-backend/internal/common"
)

var (
	ErrUnsupportedExtension = common.NewAppError("UNSUPPORTED_FILE", "file type not allowed (pdf, jpg, jpeg, png)", common.ErrInvalidInput)
	ErrTooLarge             = common.NewAppError("FILE_TOO_LARGE", "file exceeds the upload size limit", common.ErrInvalidInput)
	ErrEmptyFile            = common.NewAppError("EMPTY_FILE", "file is empty", common.ErrInvalidInput)
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// StoredFile describes an artifact written by Save.
type StoredFile struct {
	Path        string // absolute
	Filename    string // sanitized original name
	Ext         string // normalized, no dot
	Size        int64
	ContentHash string // sha256 hex
}

type Local struct {
	root     string
	maxBytes int64
	logger   *slog.Logger
}

// NewLocal creates root if needed. maxBytes <= 0 disables the size limit.
func NewLocal(root string, maxBytes int64, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{root: abs, maxBytes: maxBytes, logger: logger}, nil
}

// Root returns the absolute upload directory.
func (s *Local) Root() string { return s.root }

// SanitizeFilename keeps only the base name with safe characters.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = unsafeChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return "upload"
	}
	return base
}

// Save streams r into <root>/<uuid hex>_<sanitized name>, hashing as it goes.
// Partial files are removed on any failure.
func (s *Local) Save(ctx context.Context, originalName string, r io.Reader) (StoredFile, error) {
	name := SanitizeFilename(originalName)
	ext := constants.NormalizeExt(filepath.Ext(name))
	if !constants.IsAllowedExt(ext) {
		return StoredFile{}, ErrUnsupportedExtension
	}

	id := uuid.New()
	path := filepath.Join(s.root, hex.EncodeToString(id[:])+"_"+name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return StoredFile{}, fmt.Errorf("create artifact: %w", err)
	}

	keep := false
	defer func() {
		if keep {
			return
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to remove partial upload", "path", path, "error", err)
		}
	}()

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(f, h), &ctxReader{ctx: ctx, r: src})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return StoredFile{}, fmt.Errorf("write artifact: %w", err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return StoredFile{}, ErrTooLarge
	}
	if n == 0 {
		return StoredFile{}, ErrEmptyFile
	}

	keep = true
	out := StoredFile{
		Path:        path,
		Filename:    name,
		Ext:         ext,
		Size:        n,
		ContentHash: hex.EncodeToString(h.Sum(nil)),
	}
	s.logger.Info("artifact stored", "path", path, "bytes", n, "sha256", out.ContentHash)
	return out, nil
}

// Exists reports whether path is a readable regular file.
func (s *Local) Exists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && st.Mode().IsRegular()
}

func (s *Local) Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", common.ErrNotFound, filepath.Base(path))
		}
		return nil, err
	}
	return f, nil
}

// Remove deletes path; a missing file is not an error.
func (s *Local) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ctxReader stops a long copy once the request is gone.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
