package textures

import (
	"context"
	"encoding/base64"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/kuda/internal/logging"
)

var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	jpgBytes = []byte("\xFF\xD8\xFF\xE0\x00\x10JFIF\x00")
)

func writeTextures(t *testing.T) []string {
	t.Helper()
	dir := t.TempDir()
	files := map[string][]byte{
		"dawn.png":  pngBytes,
		"night.jpg": jpgBytes,
	}
	paths := []string{}
	for _, name := range []string{"dawn.png", "night.jpg"} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, files[name], 0644))
		paths = append(paths, p)
	}
	return append(paths, filepath.Join(dir, "missing.jpg"))
}

func TestBroadcaster_Load(t *testing.T) {
	tl := logging.NewTestLogger()
	b := New(writeTextures(t), tl.Logger)

	msgs := b.Load(context.Background())
	require.Len(t, msgs, 2)

	assert.Equal(t, "dawn", msgs[0].Name)
	assert.Equal(t, "image/png", msgs[0].MIME)
	decoded, err := base64.StdEncoding.DecodeString(msgs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, decoded)

	assert.Equal(t, "night", msgs[1].Name)
	assert.Equal(t, "image/jpeg", msgs[1].MIME)

	tl.AssertLogged(t, zapcore.WarnLevel, "skipping texture")
}

func TestMimeOf_FallsBackToExtension(t *testing.T) {
	assert.Equal(t, "image/png", mimeOf("sky.png", []byte("not really a png")))
	assert.Equal(t, "text/plain", mimeOf("sky.raw", []byte{0x01}))
}

func TestBroadcaster_ServeHTTP(t *testing.T) {
	b := New(writeTextures(t), nil)
	srv := httptest.NewServer(b)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var got []Message
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		got = append(got, msg)
	}

	require.Len(t, got, 2)
	assert.Equal(t, "dawn", got[0].Name)
	assert.Equal(t, "night", got[1].Name)
}

func TestBroadcaster_RejectsPlainHTTP(t *testing.T) {
	b := New(nil, nil)
	srv := httptest.NewServer(b)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}
