package http

import (
	"github.com/fyrsmithlabs/kuda/internal/catalog"
	"github.com/fyrsmithlabs/kuda/internal/store"
)

// Error types reported in ErrorResponse.ErrType.
const (
	ErrTypeFileExists      = "fileExists"
	ErrTypeInvalidName     = "invalidName"
	ErrTypeInvalidDocument = "invalidDocument"
	ErrTypeNotFound        = "notFound"
)

// ErrorResponse is the structured body of a rejected project request.
type ErrorResponse struct {
	ErrType string      `json:"errType"`
	ErrData interface{} `json:"errData,omitempty"`
	ErrMsg  string      `json:"errMsg"`
}

// ProjectData echoes the rejected save back to the editor so it can retry
// with replace=true.
type ProjectData struct {
	Name   string `json:"name"`
	Octane string `json:"octane"`
}

// ProjectsResponse is the response body for GET /projects.
type ProjectsResponse struct {
	Projects []store.Summary `json:"projects"`
}

// NameResponse is the response body for POST /project and POST /publish.
type NameResponse struct {
	Name string `json:"name"`
}

// DeleteResponse is the response body for DELETE /project.
type DeleteResponse struct {
	Name string `json:"name"`
	Msg  string `json:"msg"`
}

// ModelsResponse is the response body for GET /models.
type ModelsResponse struct {
	Models []catalog.Model `json:"models"`
}

// PluginsResponse is the response body for GET /plugins.
type PluginsResponse struct {
	Plugins []string `json:"plugins"`
}

// MessageResponse is the response body for POST /plugins.
type MessageResponse struct {
	Msg string `json:"msg"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}
