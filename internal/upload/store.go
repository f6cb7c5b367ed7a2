package upload

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"github.com/Brownie44l1/tumor-api/internal/config"
)

var (
	// ErrNoFile means the request carried no file part.
	ErrNoFile = errors.New("no file provided")
	// ErrNoSelectedFile means the file part had an empty filename.
	ErrNoSelectedFile = errors.New("no selected file")
	// ErrExtensionNotAllowed means the filename extension is not in the allow-list.
	ErrExtensionNotAllowed = errors.New("file type not allowed")
	// ErrNotFound means no stored upload has the requested name.
	ErrNotFound = errors.New("upload not found")
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// Store keeps uploaded scans in a directory shared by all requests. Each
// stored name is unique, so concurrent requests never write the same file.
type Store struct {
	dir     string
	allowed map[string]struct{}
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates the upload directory if needed.
func NewStore(cfg config.UploadConfig, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "create upload dir %s", cfg.Dir)
	}

	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))] = struct{}{}
	}

	return &Store{
		dir:     cfg.Dir,
		allowed: allowed,
		logger:  logger.Named("upload"),
		now:     time.Now,
	}, nil
}

// Dir is the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// SecureFilename reduces a client supplied name to an ASCII base name made of
// letters, digits, '_', '.' and '-'. It may return "".
func SecureFilename(name string) string {
	name = norm.NFKD.String(name)

	ascii := make([]rune, 0, len(name))
	for _, r := range name {
		if r < 128 {
			ascii = append(ascii, r)
		}
	}
	name = string(ascii)

	name = strings.NewReplacer("/", " ", `\`, " ").Replace(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	return strings.Trim(name, "._")
}

// Validate sanitizes filename and checks its extension against the
// allow-list. It returns the sanitized name.
func (s *Store) Validate(filename string) (string, error) {
	if filename == "" {
		return "", ErrNoSelectedFile
	}

	safe := SecureFilename(filename)
	ext := strings.TrimPrefix(filepath.Ext(safe), ".")
	if _, ok := s.allowed[strings.ToLower(ext)]; !ok || ext == "" {
		return "", errors.Wrapf(ErrExtensionNotAllowed, "%q", filename)
	}
	return safe, nil
}

// Save validates filename and writes r under a unique name. It returns the
// path of the stored file.
func (s *Store) Save(r io.Reader, filename string) (string, error) {
	safe, err := s.Validate(filename)
	if err != nil {
		return "", err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return "", errors.Wrap(err, "generate upload id")
	}
	name := fmt.Sprintf("%d_%s_%s", s.now().Unix(), id.String()[:8], safe)
	path := filepath.Join(s.dir, name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", errors.Wrap(err, "create upload")
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		s.Remove(path)
		return "", errors.Wrap(err, "write upload")
	}
	if err := f.Close(); err != nil {
		s.Remove(path)
		return "", errors.Wrap(err, "close upload")
	}

	s.logger.Debug("stored upload", zap.String("name", name))
	return path, nil
}

// Remove deletes a stored upload. A file that is already gone is not an
// error.
func (s *Store) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("remove upload", zap.String("path", path), zap.Error(err))
	}
}

// Path resolves a stored upload name to its path. Names that are not plain
// base names are reported as not found.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") || name != SecureFilename(name) {
		return "", ErrNotFound
	}

	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFound
	}
	return path, nil
}
