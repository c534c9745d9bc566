// Package publish turns a saved project into a standalone HTML package.
//
// Publishing "demo" produces:
//
//	projects/demo.html              page served from the editor's web root
//	projects/demo/demo.html         standalone page
//	projects/demo/demo.json         copy of the project document
//	projects/demo/README            publish readme followed by the model list
//	projects/demo/assets/
//	projects/demo/lib/              library files with dest "lib"
//	projects/demo/*.js              library files with an empty dest
//
// The package directory is assembled under a hidden staging name and
// renamed into place, replacing any earlier package. The web root page is
// written last, so a project only reports as published once its package
// is complete.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/kuda/internal/config"
	"github.com/fyrsmithlabs/kuda/internal/logging"
	"github.com/fyrsmithlabs/kuda/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/kuda/internal/publish"

// Template placeholders.
const (
	PlaceholderProject = "%PROJECT%"
	PlaceholderLoad    = "%LOAD%"
	PlaceholderScript  = "%SCRIPT%"
)

const doctype = "<!DOCTYPE"

// Config locates the publish template inputs.
type Config struct {
	TemplatePath string
	ReadmePath   string
	LibFiles     []config.LibFile
}

// Result describes a published project.
type Result struct {
	// Page is the file name of the web root page, e.g. "demo.html".
	Page       string
	PagePath   string
	PackageDir string
}

// Publisher renders and copies publish packages.
type Publisher struct {
	store  *store.Store
	cfg    Config
	logger *logging.Logger
	tracer trace.Tracer
}

// New creates a publisher writing next to the projects in st.
func New(st *store.Store, cfg Config, logger *logging.Logger) (*Publisher, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if cfg.TemplatePath == "" {
		return nil, errors.New("template path is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		store:  st,
		cfg:    cfg,
		logger: logger.Named("publish"),
		tracer: otel.Tracer(instrumentationName),
	}, nil
}

// Render substitutes the template placeholders.
func Render(template, project, load, script string) string {
	return strings.NewReplacer(
		PlaceholderProject, project,
		PlaceholderLoad, load,
		PlaceholderScript, script,
	).Replace(template)
}

// Publish builds the package for the saved project name. models is
// appended verbatim to the package README.
func (p *Publisher) Publish(ctx context.Context, name, models string) (_ *Result, err error) {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "publish.Publish", trace.WithAttributes(attribute.String("project", name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		observe(err, time.Since(start))
	}()

	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	if !p.store.Exists(name) {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}

	template, err := p.readTemplate()
	if err != nil {
		return nil, err
	}
	readme, err := p.readReadme()
	if err != nil {
		return nil, err
	}

	projectsDir := p.store.Dir()
	info, err := os.Stat(projectsDir)
	if err != nil {
		return nil, fmt.Errorf("stat projects directory: %w", err)
	}
	mode := info.Mode().Perm()

	staging := filepath.Join(projectsDir, fmt.Sprintf(".%s-%s.publish", name, uuid.NewString()))
	if err := p.assemble(ctx, staging, mode, name, template, readme+models); err != nil {
		_ = os.RemoveAll(staging)
		return nil, err
	}

	packageDir := filepath.Join(projectsDir, name)
	if err := swapDir(staging, packageDir); err != nil {
		_ = os.RemoveAll(staging)
		return nil, err
	}

	page := Render(template, "projects/"+name, "..", "../js")
	pagePath := p.store.PublishedPath(name)
	if err := writeFileAtomic(pagePath, []byte(page)); err != nil {
		return nil, fmt.Errorf("writing published page: %w", err)
	}

	p.logger.Info(ctx, "project published",
		zap.String("project", name),
		zap.String("package", packageDir),
		zap.Duration("duration", time.Since(start)))

	return &Result{
		Page:       filepath.Base(pagePath),
		PagePath:   pagePath,
		PackageDir: packageDir,
	}, nil
}

// assemble writes the complete package into dir.
func (p *Publisher) assemble(ctx context.Context, dir string, mode os.FileMode, name, template, readme string) error {
	for _, sub := range []string{"", "assets", "lib"} {
		if err := os.Mkdir(filepath.Join(dir, sub), mode); err != nil {
			return fmt.Errorf("creating package directory: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, lf := range p.cfg.LibFiles {
		lf := lf
		g.Go(func() error {
			destDir := filepath.Join(dir, lf.Dest)
			if err := os.MkdirAll(destDir, mode); err != nil {
				return fmt.Errorf("creating %s: %w", lf.Dest, err)
			}
			return copyFile(gctx, lf.Src, destDir)
		})
	}
	g.Go(func() error {
		return copyFile(gctx, p.store.Path(name), dir)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(dir, "README"), []byte(readme), 0644); err != nil {
		return fmt.Errorf("writing README: %w", err)
	}

	page := Render(template, name, ".", ".")
	if err := os.WriteFile(filepath.Join(dir, name+".html"), []byte(page), 0644); err != nil {
		return fmt.Errorf("writing package page: %w", err)
	}
	return nil
}

// readTemplate returns the publish template from its doctype onwards.
func (p *Publisher) readTemplate() (string, error) {
	data, err := os.ReadFile(p.cfg.TemplatePath)
	if err != nil {
		return "", fmt.Errorf("reading publish template: %w", err)
	}
	content := string(data)
	if i := strings.Index(content, doctype); i > 0 {
		content = content[i:]
	}
	return content, nil
}

func (p *Publisher) readReadme() (string, error) {
	if p.cfg.ReadmePath == "" {
		return "", nil
	}
	data, err := os.ReadFile(p.cfg.ReadmePath)
	if err != nil {
		return "", fmt.Errorf("reading publish readme: %w", err)
	}
	return string(data), nil
}

// swapDir moves staging to target, replacing target if it exists.
func swapDir(staging, target string) error {
	var old string
	if _, err := os.Stat(target); err == nil {
		old = staging + ".old"
		if err := os.Rename(target, old); err != nil {
			return fmt.Errorf("moving previous package aside: %w", err)
		}
	}
	if err := os.Rename(staging, target); err != nil {
		if old != "" {
			_ = os.Rename(old, target)
		}
		return fmt.Errorf("moving package into place: %w", err)
	}
	if old != "" {
		_ = os.RemoveAll(old)
	}
	return nil
}

func copyFile(ctx context.Context, src, dstDir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(filepath.Join(dstDir, filepath.Base(src)), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
