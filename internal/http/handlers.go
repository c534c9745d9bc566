package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kuda/internal/catalog"
	"github.com/fyrsmithlabs/kuda/internal/static"
	"github.com/fyrsmithlabs/kuda/internal/store"
)

// params returns the request parameters: the query string when present,
// otherwise the form-encoded body.
func params(c echo.Context) (url.Values, error) {
	if q := c.QueryString(); q != "" {
		return url.ParseQuery(q)
	}
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	return url.ParseQuery(string(body))
}

func badParams(err error) error {
	return echo.NewHTTPError(http.StatusBadRequest, "malformed parameters").SetInternal(err)
}

// projectError maps store errors onto responses. Unexpected errors become
// 500s through echo's error handler.
func projectError(c echo.Context, name string, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{
			ErrType: ErrTypeNotFound,
			ErrMsg:  fmt.Sprintf("No project named %s", name),
		})
	case errors.Is(err, store.ErrInvalidName):
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrType: ErrTypeInvalidName,
			ErrMsg:  err.Error(),
		})
	case errors.Is(err, store.ErrInvalidDocument):
		status := http.StatusBadRequest
		if c.Request().Method == http.MethodGet {
			// The document on disk is corrupt, not the request.
			status = http.StatusInternalServerError
		}
		return c.JSON(status, ErrorResponse{
			ErrType: ErrTypeInvalidDocument,
			ErrMsg:  err.Error(),
		})
	default:
		return err
	}
}

func (s *Server) serveFile(c echo.Context, urlPath string) error {
	ctx := c.Request().Context()
	f, err := s.deps.Root.Resolve(ctx, urlPath)
	if errors.Is(err, static.ErrNotFound) {
		return c.String(http.StatusNotFound, "not found")
	}
	if err != nil {
		return err
	}

	file, err := os.Open(f.Path)
	if err != nil {
		s.logger.Warn(ctx, "static file vanished", zap.String("path", f.Path), zap.Error(err))
		return c.String(http.StatusNotFound, "not found")
	}
	defer file.Close()

	c.Response().Header().Set(echo.HeaderContentLength, fmt.Sprint(f.Size))
	return c.Stream(http.StatusOK, f.ContentType, file)
}

// handleIndex serves the editor page.
func (s *Server) handleIndex(c echo.Context) error {
	return s.serveFile(c, "/"+static.IndexFile)
}

// handleStatic serves any other file under the web root.
func (s *Server) handleStatic(c echo.Context) error {
	return s.serveFile(c, c.Request().URL.Path)
}

// handleListProjects lists saved projects and whether they are published.
func (s *Server) handleListProjects(c echo.Context) error {
	projects, err := s.deps.Store.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ProjectsResponse{Projects: projects})
}

// handleLoadProject returns a project's Octane document.
func (s *Server) handleLoadProject(c echo.Context) error {
	p, err := params(c)
	if err != nil {
		return badParams(err)
	}
	name := p.Get("name")
	if name == "" {
		return projectError(c, name, store.ErrNotFound)
	}

	doc, err := s.deps.Store.Load(c.Request().Context(), name)
	if err != nil {
		return projectError(c, name, err)
	}
	return c.JSONBlob(http.StatusOK, doc)
}

// handleSaveProject stores a project, refusing to overwrite unless
// replace=true.
func (s *Server) handleSaveProject(c echo.Context) error {
	p, err := params(c)
	if err != nil {
		return badParams(err)
	}

	name := p.Get("name")
	if name == "" {
		name = store.DefaultName
	}
	octane := p.Get("octane")
	replace := p.Get("replace") == "true"

	file, err := s.deps.Store.Save(c.Request().Context(), name, []byte(octane), replace)
	if errors.Is(err, store.ErrExists) {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			ErrType: ErrTypeFileExists,
			ErrData: ProjectData{Name: p.Get("name"), Octane: octane},
			ErrMsg:  "File by that name already exists",
		})
	}
	if err != nil {
		return projectError(c, name, err)
	}
	return c.JSON(http.StatusOK, NameResponse{Name: file})
}

// handleDeleteProject removes a project's document.
func (s *Server) handleDeleteProject(c echo.Context) error {
	p, err := params(c)
	if err != nil {
		return badParams(err)
	}
	name := p.Get("name")
	if name == "" {
		return projectError(c, name, store.ErrNotFound)
	}

	if err := s.deps.Store.Delete(c.Request().Context(), name); err != nil {
		return projectError(c, name, err)
	}
	return c.JSON(http.StatusOK, DeleteResponse{
		Name: name,
		Msg:  "Successfully removed " + name,
	})
}

// handleListModels lists model assets.
func (s *Server) handleListModels(c echo.Context) error {
	models, err := s.deps.Catalog.Models(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ModelsResponse{Models: models})
}

// handleImportModel accepts model uploads without importing them; archive
// import is not supported.
func (s *Server) handleImportModel(c echo.Context) error {
	_, _ = io.Copy(io.Discard, c.Request().Body)
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, []byte("{}\n"))
}

// handleListPlugins lists the plugins available to the editor.
func (s *Server) handleListPlugins(c echo.Context) error {
	plugins, err := s.deps.Catalog.Plugins(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, PluginsResponse{Plugins: plugins})
}

// handleSavePlugins persists the active plugin list.
func (s *Server) handleSavePlugins(c echo.Context) error {
	p, err := params(c)
	if err != nil {
		return badParams(err)
	}

	err = s.deps.Catalog.SavePlugins(c.Request().Context(), []byte(p.Get("plugins")))
	if errors.Is(err, catalog.ErrInvalidManifest) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MessageResponse{Msg: "Initial plugins updated"})
}

// handlePublish builds the publish package of a saved project. The editor
// expects the JSON reply labelled as text/html.
func (s *Server) handlePublish(c echo.Context) error {
	p, err := params(c)
	if err != nil {
		return badParams(err)
	}
	name := p.Get("name")

	res, err := s.deps.Publisher.Publish(c.Request().Context(), name, p.Get("models"))
	if err != nil {
		return projectError(c, name, err)
	}

	body, err := json.Marshal(NameResponse{Name: res.Page})
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, echo.MIMETextHTMLCharsetUTF8, body)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}
