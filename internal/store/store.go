package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kuda/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/kuda/internal/store"

var (
	// ErrNotFound indicates no project exists under the requested name.
	ErrNotFound = errors.New("project not found")

	// ErrExists indicates a save without replace hit an existing project.
	ErrExists = errors.New("file by that name already exists")

	// ErrInvalidName indicates a name that cannot be stored.
	ErrInvalidName = errors.New("invalid project name")

	// ErrInvalidDocument indicates the project content is not valid JSON.
	ErrInvalidDocument = errors.New("project document is not valid JSON")
)

const (
	projectExt   = ".json"
	publishedExt = ".html"
	dirPerm      = 0755
	filePerm     = 0644
)

// Summary describes a stored project.
type Summary struct {
	Name      string `json:"name"`
	Published bool   `json:"published"`
}

// Store reads and writes projects in a directory.
type Store struct {
	dir    string
	logger *logging.Logger
	tracer trace.Tracer
}

// New creates a store rooted at dir. The directory is created lazily.
func New(dir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		dir:    dir,
		logger: logger.Named("store"),
		tracer: otel.Tracer(instrumentationName),
	}
}

// Dir returns the projects directory.
func (s *Store) Dir() string {
	return s.dir
}

// FileName returns the stored file name for a project.
func FileName(name string) string {
	return name + projectExt
}

// Path returns the path of a project's document.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, FileName(name))
}

// PublishedPath returns the path of a project's published HTML page.
func (s *Store) PublishedPath(name string) string {
	return filepath.Join(s.dir, name+publishedExt)
}

func (s *Store) ensureDir() error {
	if err := os.MkdirAll(s.dir, dirPerm); err != nil {
		return fmt.Errorf("creating projects directory: %w", err)
	}
	return nil
}

// List returns every project in the directory sorted by name.
func (s *Store) List(ctx context.Context) (_ []Summary, err error) {
	ctx, span := s.tracer.Start(ctx, "store.List")
	defer func() { endSpan(span, err); observe("list", err) }()

	if err := s.ensureDir(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading projects directory: %w", err)
	}

	projects := make([]Summary, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), projectExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), projectExt)
		if ValidateName(name) != nil {
			continue
		}
		projects = append(projects, Summary{
			Name:      name,
			Published: fileExists(s.PublishedPath(name)),
		})
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })

	s.logger.Debug(ctx, "listed projects", zap.Int("count", len(projects)))
	return projects, nil
}

// Exists reports whether a project document is stored under name.
func (s *Store) Exists(name string) bool {
	return ValidateName(name) == nil && fileExists(s.Path(name))
}

// Load returns the raw JSON document of a project.
func (s *Store) Load(ctx context.Context, name string) (_ json.RawMessage, err error) {
	ctx, span := s.tracer.Start(ctx, "store.Load", trace.WithAttributes(attribute.String("project", name)))
	defer func() { endSpan(span, err); observe("load", err) }()

	if err := ValidateName(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading project %s: %w", name, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDocument, FileName(name))
	}

	s.logger.Debug(ctx, "loaded project", zap.String("project", name), zap.Int("bytes", len(data)))
	return json.RawMessage(data), nil
}

// Save stores octane under name and returns the stored file name.
//
// Without replace the save fails with ErrExists when the project is
// already present, and the existing document is left untouched.
func (s *Store) Save(ctx context.Context, name string, octane []byte, replace bool) (_ string, err error) {
	ctx, span := s.tracer.Start(ctx, "store.Save", trace.WithAttributes(
		attribute.String("project", name),
		attribute.Bool("replace", replace),
	))
	defer func() { endSpan(span, err); observe("save", err) }()

	if err := ValidateName(name); err != nil {
		return "", err
	}
	if !json.Valid(octane) {
		return "", ErrInvalidDocument
	}
	if err := s.ensureDir(); err != nil {
		return "", err
	}

	tmp, err := s.writeTemp(name, octane)
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp)

	target := s.Path(name)
	if replace {
		if err := os.Rename(tmp, target); err != nil {
			return "", fmt.Errorf("replacing project %s: %w", name, err)
		}
	} else if err := linkExclusive(tmp, target); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, FileName(name))
		}
		return "", fmt.Errorf("creating project %s: %w", name, err)
	}

	DocumentBytes.Observe(float64(len(octane)))
	s.logger.Info(ctx, "project saved",
		zap.String("project", name),
		zap.Bool("replace", replace),
		zap.Int("bytes", len(octane)))
	return FileName(name), nil
}

// Delete removes a project's document. Published artefacts are kept.
func (s *Store) Delete(ctx context.Context, name string) (err error) {
	ctx, span := s.tracer.Start(ctx, "store.Delete", trace.WithAttributes(attribute.String("project", name)))
	defer func() { endSpan(span, err); observe("delete", err) }()

	if err := ValidateName(name); err != nil {
		return err
	}

	if err := os.Remove(s.Path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("removing project %s: %w", name, err)
	}

	s.logger.Info(ctx, "project deleted", zap.String("project", name))
	return nil
}

// writeTemp writes data to a hidden temporary file next to the target.
func (s *Store) writeTemp(name string, data []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, "."+name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmp, filePerm); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("setting temp file mode: %w", err)
	}
	return tmp, nil
}

// linkExclusive publishes src at dst, failing with fs.ErrExist when dst is
// present. Filesystems without hard links fall back to an O_EXCL create.
func linkExclusive(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}

	data, rerr := os.ReadFile(src)
	if rerr != nil {
		return rerr
	}
	f, ferr := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if ferr != nil {
		return ferr
	}
	if _, werr := f.Write(data); werr != nil {
		f.Close()
		os.Remove(dst)
		return werr
	}
	return f.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExists):
		return "exists"
	case errors.Is(err, ErrInvalidName), errors.Is(err, ErrInvalidDocument):
		return "invalid"
	default:
		return "error"
	}
}
