package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Fixed route paths.
const (
	RouteRoot     = "/"
	RouteAny      = "/*"
	RouteProjects = "/projects"
	RouteProject  = "/project"
	RouteModels   = "/models"
	RouteModel    = "/model"
	RoutePlugins  = "/plugins"
	RoutePublish  = "/publish"
	RouteHealth   = "/health"
	RouteMetrics  = "/metrics"
)

// Route is one entry of the server's route table.
type Route struct {
	Method string
	Path   string
	Name   string
	// API routes are subject to the XHR gate.
	API     bool
	Handler echo.HandlerFunc
}

// routeTable builds the complete route table once, at construction.
// Exact paths win over the GET "/*" static fallback; requests whose path
// exists only for other methods get 405 and anything else 404.
func (s *Server) routeTable() []Route {
	routes := []Route{
		{Method: http.MethodGet, Path: RouteRoot, Name: "index", Handler: s.handleIndex},
		{Method: http.MethodGet, Path: RouteAny, Name: "static", Handler: s.handleStatic},

		{Method: http.MethodGet, Path: RouteProjects, Name: "projects.list", API: true, Handler: s.handleListProjects},
		{Method: http.MethodGet, Path: RouteProject, Name: "project.load", API: true, Handler: s.handleLoadProject},
		{Method: http.MethodPost, Path: RouteProject, Name: "project.save", API: true, Handler: s.handleSaveProject},
		{Method: http.MethodDelete, Path: RouteProject, Name: "project.delete", API: true, Handler: s.handleDeleteProject},

		{Method: http.MethodGet, Path: RouteModels, Name: "models.list", Handler: s.handleListModels},
		{Method: http.MethodPost, Path: RouteModel, Name: "model.import", Handler: s.handleImportModel},

		{Method: http.MethodGet, Path: RoutePlugins, Name: "plugins.list", API: true, Handler: s.handleListPlugins},
		{Method: http.MethodPost, Path: RoutePlugins, Name: "plugins.save", API: true, Handler: s.handleSavePlugins},

		{Method: http.MethodPost, Path: RoutePublish, Name: "publish", API: true, Handler: s.handlePublish},

		{Method: http.MethodGet, Path: RouteHealth, Name: "health", Handler: s.handleHealth},
		{Method: http.MethodGet, Path: RouteMetrics, Name: "metrics", Handler: s.metricsHandler()},
	}

	if s.deps.Textures != nil && s.config.TexturesPath != "" {
		routes = append(routes, Route{
			Method:  http.MethodGet,
			Path:    s.config.TexturesPath,
			Name:    "textures",
			Handler: echo.WrapHandler(s.deps.Textures),
		})
	}

	return routes
}
