// Package static resolves files under the editor's web root.
package static

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kuda/internal/logging"
)

// ErrNotFound indicates the path does not name a regular file under the root.
var ErrNotFound = errors.New("not found")

// IndexFile is served for the web root itself.
const IndexFile = "index.html"

// Content types used by the server.
const (
	TypeJSON  = "application/json"
	TypeHTML  = "text/html"
	TypePlain = "text/plain"
)

var contentTypes = map[string]string{
	".css":  "text/css",
	".js":   "text/javascript",
	".html": TypeHTML,
	".htm":  TypeHTML,
	".txt":  TypePlain,
	".fx":   TypePlain,
	".json": TypeJSON,
	".png":  "image/png",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".gif":  "image/gif",
	".ico":  "image/x-icon",
	".woff": "application/octet-stream",
}

// ContentType maps a request path to its content type by extension.
// Paths without an extension are plain text. known is false for
// extensions outside the table, which are also served as plain text.
func ContentType(p string) (contentType string, known bool) {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return TypePlain, true
	}
	if ct, ok := contentTypes[ext]; ok {
		return ct, true
	}
	return TypePlain, false
}

// File is a resolved static file.
type File struct {
	Path        string
	ContentType string
	Size        int64
}

// Root serves files from a directory.
type Root struct {
	dir    string
	logger *logging.Logger
}

// NewRoot creates a Root for dir.
func NewRoot(dir string, logger *logging.Logger) *Root {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Root{dir: dir, logger: logger.Named("static")}
}

// Dir returns the web root directory.
func (r *Root) Dir() string {
	return r.dir
}

// Resolve maps a decoded URL path to a regular file under the root.
// ".." segments cannot climb above the root.
func (r *Root) Resolve(ctx context.Context, urlPath string) (*File, error) {
	clean := path.Clean("/" + urlPath)
	if clean == "/" {
		clean = "/" + IndexFile
	}
	full := filepath.Join(r.dir, filepath.FromSlash(clean))

	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", clean, err)
	}

	ct, known := ContentType(clean)
	if !known {
		r.logger.Debug(ctx, "unknown content type", zap.String("ext", path.Ext(clean)), zap.String("path", clean))
	}

	return &File{
		Path:        full,
		ContentType: ct,
		Size:        info.Size(),
	}, nil
}
