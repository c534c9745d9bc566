// Package textures pushes the time-of-day texture images to WebSocket
// clients. Each connection receives every configured texture once, as a
// JSON message with base64 image data, and is then closed.
package textures

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/kuda/internal/logging"
	"github.com/fyrsmithlabs/kuda/internal/static"
)

const writeWait = 10 * time.Second

// Message is one texture sent to a client.
type Message struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Data string `json:"data"`
}

// Broadcaster serves the texture WebSocket endpoint.
type Broadcaster struct {
	files    []string
	upgrader websocket.Upgrader
	logger   *logging.Logger
}

// New creates a broadcaster for the given texture files.
func New(files []string, logger *logging.Logger) *Broadcaster {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Broadcaster{
		files:  files,
		logger: logger.Named("textures"),
	}
}

// Load reads and encodes every texture. Files that cannot be read are
// logged and skipped.
func (b *Broadcaster) Load(ctx context.Context) []Message {
	msgs := make([]Message, 0, len(b.files))
	for _, file := range b.files {
		data, err := os.ReadFile(file)
		if err != nil {
			b.logger.Warn(ctx, "skipping texture", zap.String("file", file), zap.Error(err))
			continue
		}
		msgs = append(msgs, Message{
			Name: strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)),
			MIME: mimeOf(file, data),
			Data: base64.StdEncoding.EncodeToString(data),
		})
	}
	return msgs
}

func mimeOf(file string, data []byte) string {
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	ct, _ := static.ContentType(file)
	return ct
}

// ServeHTTP upgrades the connection, sends the textures and closes it.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response.
		b.logger.Warn(ctx, "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	sent := 0
	for _, msg := range b.Load(ctx) {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			b.logger.Warn(ctx, "texture send failed", zap.String("texture", msg.Name), zap.Error(err))
			return
		}
		sent++
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	b.logger.Info(ctx, "textures sent", zap.Int("count", sent), zap.String("remote", r.RemoteAddr))
}
