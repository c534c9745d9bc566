package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/kuda/internal/catalog"
	"github.com/fyrsmithlabs/kuda/internal/config"
	"github.com/fyrsmithlabs/kuda/internal/logging"
	"github.com/fyrsmithlabs/kuda/internal/publish"
	"github.com/fyrsmithlabs/kuda/internal/static"
	"github.com/fyrsmithlabs/kuda/internal/store"
	"github.com/fyrsmithlabs/kuda/internal/textures"
)

const testTemplate = `<!DOCTYPE html>
<script src="%SCRIPT%/hemi.min.js"></script>
<script>hemi.loadOctane('%LOAD%/%PROJECT%.json');</script>
`

type testEnv struct {
	root   string
	server *Server
	logger *logging.TestLogger
}

func (e *testEnv) path(rel string) string {
	return filepath.Join(e.root, filepath.FromSlash(rel))
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	root := t.TempDir()

	write := func(rel, content string) string {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		return p
	}

	write("public/index.html", "<html>editor</html>")
	write("public/css/editor.css", "body{}")
	write("public/js/editor/plugins/grid/grid.js", "// grid")
	write("public/assets/house/house.json", "{}")
	pubCfg := publish.Config{
		TemplatePath: write("PublishTemplate.html", testTemplate),
		ReadmePath:   write("PublishReadMe", "Models:\n"),
		LibFiles: []config.LibFile{
			{Src: write("public/js/hemi.min.js", "var hemi;")},
			{Src: write("public/js/o3d.min.js", "var o3d;")},
			{Src: write("public/js/lib/jshashtable.min.js", "var Hashtable;"), Dest: "lib"},
		},
	}

	tl := logging.NewTestLogger()
	st := store.New(filepath.Join(root, "public", "projects"), tl.Logger)
	pub, err := publish.New(st, pubCfg, tl.Logger)
	require.NoError(t, err)

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	srv, err := NewServer(Deps{
		Store:     st,
		Publisher: pub,
		Catalog: catalog.New(
			filepath.Join(root, "public", "js", "editor", "plugins"),
			filepath.Join(root, "public", "assets"),
			tl.Logger,
		),
		Root: static.NewRoot(filepath.Join(root, "public"), tl.Logger),
	}, tl.Logger, cfg)
	require.NoError(t, err)

	return &testEnv{root: root, server: srv, logger: tl}
}

// do sends a request with form parameters in the body, the way the editor
// does.
func (e *testEnv) do(t *testing.T, method, target string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	}
	req.Header.Set(echo.HeaderXRequestedWith, "XMLHttpRequest")
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func TestNewServer_RequiresDeps(t *testing.T) {
	_, err := NewServer(Deps{}, logging.NewNop(), nil)
	assert.Error(t, err)

	env := newTestEnv(t, nil)
	_, err = NewServer(env.server.deps, nil, nil)
	assert.Error(t, err)
}

func TestSaveThenLoad(t *testing.T) {
	env := newTestEnv(t, nil)
	octane := `{"type":"Citizen","props":[]}`

	rec := env.do(t, http.MethodPost, RouteProject, url.Values{"name": {"demo"}, "octane": {octane}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var saved NameResponse
	decode(t, rec, &saved)
	assert.Equal(t, "demo.json", saved.Name)

	rec = env.do(t, http.MethodGet, RouteProject+"?name=demo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
	assert.JSONEq(t, octane, rec.Body.String())
}

func TestSave_DefaultName(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, RouteProject, url.Values{"octane": {"{}"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var saved NameResponse
	decode(t, rec, &saved)
	assert.Equal(t, store.DefaultName+".json", saved.Name)
}

func TestSave_ExistingWithoutReplace(t *testing.T) {
	env := newTestEnv(t, nil)
	form := url.Values{"name": {"demo"}, "octane": {`{"v":1}`}}
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, RouteProject, form).Code)

	rec := env.do(t, http.MethodPost, RouteProject, url.Values{"name": {"demo"}, "octane": {`{"v":2}`}})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		ErrType string      `json:"errType"`
		ErrData ProjectData `json:"errData"`
		ErrMsg  string      `json:"errMsg"`
	}
	decode(t, rec, &body)
	assert.Equal(t, ErrTypeFileExists, body.ErrType)
	assert.Equal(t, "File by that name already exists", body.ErrMsg)
	assert.Equal(t, ProjectData{Name: "demo", Octane: `{"v":2}`}, body.ErrData)

	data, err := os.ReadFile(env.path("public/projects/demo.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(data))
}

func TestSave_Replace(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, RouteProject,
		url.Values{"name": {"demo"}, "octane": {`{"v":1}`}}).Code)

	rec := env.do(t, http.MethodPost, RouteProject,
		url.Values{"name": {"demo"}, "octane": {`{"v":2}`}, "replace": {"true"}})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, RouteProject+"?name=demo", nil)
	assert.JSONEq(t, `{"v":2}`, rec.Body.String())
}

func TestSave_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		form    url.Values
		errType string
	}{
		{
			name:    "path traversal",
			form:    url.Values{"name": {"../evil"}, "octane": {"{}"}},
			errType: ErrTypeInvalidName,
		},
		{
			name:    "hidden file",
			form:    url.Values{"name": {".demo"}, "octane": {"{}"}},
			errType: ErrTypeInvalidName,
		},
		{
			name:    "malformed document",
			form:    url.Values{"name": {"demo"}, "octane": {"{not json"}},
			errType: ErrTypeInvalidDocument,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do(t, http.MethodPost, RouteProject, tt.form)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var body ErrorResponse
			decode(t, rec, &body)
			assert.Equal(t, tt.errType, body.ErrType)
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, RouteProject+"?name=nothing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	decode(t, rec, &body)
	assert.Equal(t, ErrTypeNotFound, body.ErrType)
}

func TestProject_MissingName(t *testing.T) {
	tests := []struct {
		name   string
		method string
	}{
		{"load", http.MethodGet},
		{"delete", http.MethodDelete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			rec := env.do(t, tt.method, RouteProject, nil)
			require.Equal(t, http.StatusNotFound, rec.Code)

			var body ErrorResponse
			decode(t, rec, &body)
			assert.Equal(t, ErrTypeNotFound, body.ErrType)
		})
	}
}

func TestLoad_CorruptDocument(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, os.MkdirAll(env.path("public/projects"), 0755))
	require.NoError(t, os.WriteFile(env.path("public/projects/broken.json"), []byte("{oops"), 0644))

	rec := env.do(t, http.MethodGet, RouteProject+"?name=broken", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListProjects(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, RouteProjects, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var empty ProjectsResponse
	decode(t, rec, &empty)
	assert.Empty(t, empty.Projects)

	for _, name := range []string{"beta", "alpha"} {
		require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, RouteProject,
			url.Values{"name": {name}, "octane": {"{}"}}).Code)
	}
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, RoutePublish,
		url.Values{"name": {"beta"}}).Code)

	rec = env.do(t, http.MethodGet, RouteProjects, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got ProjectsResponse
	decode(t, rec, &got)
	assert.Equal(t, []store.Summary{
		{Name: "alpha", Published: false},
		{Name: "beta", Published: true},
	}, got.Projects)
}

func TestDeleteProject(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, RouteProject,
		url.Values{"name": {"demo"}, "octane": {"{}"}}).Code)

	rec := env.do(t, http.MethodDelete, RouteProject, url.Values{"name": {"demo"}})
	require.Equal(t, http.StatusOK, rec.Code)
	var body DeleteResponse
	decode(t, rec, &body)
	assert.Equal(t, DeleteResponse{Name: "demo", Msg: "Successfully removed demo"}, body)
	assert.NoFileExists(t, env.path("public/projects/demo.json"))

	rec = env.do(t, http.MethodDelete, RouteProject, url.Values{"name": {"demo"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublish(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, RouteProject,
		url.Values{"name": {"demo"}, "octane": {"{}"}}).Code)

	rec := env.do(t, http.MethodPost, RoutePublish, url.Values{"name": {"demo"}, "models": {"house"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), echo.MIMETextHTML)
	var body NameResponse
	decode(t, rec, &body)
	assert.Equal(t, "demo.html", body.Name)

	page, err := os.ReadFile(env.path("public/projects/demo.html"))
	require.NoError(t, err)
	assert.Contains(t, string(page), "hemi.loadOctane('../projects/demo.json')")
	assert.Contains(t, string(page), `src="../js/hemi.min.js"`)

	assert.FileExists(t, env.path("public/projects/demo/demo.html"))
	assert.FileExists(t, env.path("public/projects/demo/demo.json"))
	assert.FileExists(t, env.path("public/projects/demo/hemi.min.js"))
	assert.FileExists(t, env.path("public/projects/demo/lib/jshashtable.min.js"))
	assert.DirExists(t, env.path("public/projects/demo/assets"))

	readme, err := os.ReadFile(env.path("public/projects/demo/README"))
	require.NoError(t, err)
	assert.Equal(t, "Models:\nhouse", string(readme))
}

func TestPublish_UnknownProject(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, RoutePublish, url.Values{"name": {"ghost"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoFileExists(t, env.path("public/projects/ghost.html"))
}

func TestPublish_MissingTemplate(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, RouteProject,
		url.Values{"name": {"demo"}, "octane": {"{}"}}).Code)
	require.NoError(t, os.Remove(env.path("PublishTemplate.html")))

	rec := env.do(t, http.MethodPost, RoutePublish, url.Values{"name": {"demo"}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NoDirExists(t, env.path("public/projects/demo"))
}

func TestPlugins(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, RoutePlugins, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list PluginsResponse
	decode(t, rec, &list)
	assert.Equal(t, []string{"grid"}, list.Plugins)

	manifest := `{"plugins":["grid"]}`
	rec = env.do(t, http.MethodPost, RoutePlugins, url.Values{"plugins": {manifest}})
	require.Equal(t, http.StatusOK, rec.Code)
	var msg MessageResponse
	decode(t, rec, &msg)
	assert.Equal(t, "Initial plugins updated", msg.Msg)

	data, err := os.ReadFile(env.path("public/js/editor/plugins/plugins.json"))
	require.NoError(t, err)
	assert.Equal(t, manifest, string(data))
}

func TestModels(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, RouteModels, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body ModelsResponse
	decode(t, rec, &body)
	assert.Equal(t, []catalog.Model{{Name: "house", URL: "assets/house/house.json"}}, body.Models)
}

func TestImportModel(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, RouteModel, url.Values{"file": {"house.zip"}})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{}\n", rec.Body.String())
}

func TestStatic(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name        string
		target      string
		status      int
		contentType string
		body        string
	}{
		{name: "index", target: "/", status: http.StatusOK, contentType: static.TypeHTML, body: "<html>editor</html>"},
		{name: "stylesheet", target: "/css/editor.css", status: http.StatusOK, contentType: "text/css", body: "body{}"},
		{name: "missing", target: "/css/nothing.css", status: http.StatusNotFound, contentType: static.TypePlain, body: "not found"},
		{name: "directory", target: "/css", status: http.StatusNotFound, contentType: static.TypePlain, body: "not found"},
		{name: "traversal", target: "/../PublishTemplate.html", status: http.StatusNotFound, contentType: static.TypePlain, body: "not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, tt.target, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Header().Get(echo.HeaderContentType), tt.contentType)
			assert.Equal(t, tt.body, rec.Body.String())
		})
	}
}

func TestUnmatchedVerbsGetAResponse(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		method string
		target string
	}{
		{http.MethodPut, RouteProject},
		{http.MethodDelete, RouteProjects},
		{http.MethodPost, "/nowhere"},
		{http.MethodPut, "/nowhere"},
		{http.MethodPatch, RoutePlugins},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.target, nil)
			assert.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, rec.Code)

			var body map[string]interface{}
			decode(t, rec, &body)
			assert.Contains(t, body, "message")
		})
	}
}

func TestRequireXHR(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RequireXHR = true })
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, RouteProject,
		url.Values{"name": {"demo"}, "octane": {`{"v":1}`}}).Code)

	req := httptest.NewRequest(http.MethodGet, RouteProject+"?name=demo", nil)
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "{}\n", rec.Body.String())

	// Static files are not gated.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, "<html>editor</html>", rec.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, RouteHealth, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body HealthResponse
	decode(t, rec, &body)
	assert.Equal(t, "ok", body.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, RouteProject,
		url.Values{"name": {"demo"}, "octane": {"{}"}}).Code)

	rec := env.do(t, http.MethodGet, RouteMetrics, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kuda_store_operations_total")
}

func TestRequestLogging(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, RouteHealth, nil)

	env.logger.AssertLogged(t, zapcore.InfoLevel, "http request")
	entries := env.logger.FilterMessage("http request").All()
	require.NotEmpty(t, entries)
	assert.NotEmpty(t, entries[0].ContextMap()["request.id"])
	assert.NotEmpty(t, env.server.Echo().Routes())
}

func TestRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	names := map[string]bool{}
	for _, r := range env.server.Routes() {
		names[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /", "GET /*", "GET /projects", "GET /project", "POST /project",
		"DELETE /project", "GET /models", "POST /model", "GET /plugins",
		"POST /plugins", "POST /publish",
	} {
		assert.True(t, names[want], "missing route %s", want)
	}
	assert.False(t, names["GET /textures"], "textures route needs a broadcaster")
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.RateLimit = 1
		c.RateBurst = 2
	})

	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, env.do(t, http.MethodGet, RouteHealth, nil).Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestTexturesRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	texture := filepath.Join(env.root, "dawn.png")
	require.NoError(t, os.WriteFile(texture, []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), 0644))

	deps := env.server.deps
	deps.Textures = textures.New([]string{texture}, env.logger.Logger)
	srv, err := NewServer(deps, env.logger.Logger, DefaultConfig())
	require.NoError(t, err)

	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/textures", nil)
	require.NoError(t, err)
	defer conn.Close()

	var msg textures.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "dawn", msg.Name)
	assert.Equal(t, "image/png", msg.MIME)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}
