package gateway

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/narratorlabs/narrator-core/internal/pipeline"
)

type progressFrame struct {
	Type    string `json:"type"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
}

type resultFrame struct {
	Type string `json:"type"`
	speechResponse
}

type errorFrame struct {
	Type     string `json:"type"`
	Error    string `json:"error"`
	Chunk    int    `json:"chunk,omitempty"`
	Guidance string `json:"guidance,omitempty"`
}

// handleSpeechStream runs one synthesis over a websocket: the client sends a
// single request object and receives progress frames followed by a result or
// error frame, after which the server closes the connection.
func (g *Gateway) handleSpeechStream(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: g.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", slogError(err))
		return
	}
	defer conn.Close()

	var req speechRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = conn.WriteJSON(errorFrame{Type: "error", Error: "invalid request"})
		return
	}

	resp, err := g.runSpeech(r.Context(), req, func(current, total int) {
		if werr := conn.WriteJSON(progressFrame{Type: "progress", Current: current, Total: total}); werr != nil {
			g.log.Debug("dropping progress frame", slogError(werr))
		}
	})
	if err != nil {
		g.writeStreamError(conn, err)
		return
	}

	if err := conn.WriteJSON(resultFrame{Type: "result", speechResponse: resp}); err != nil {
		g.log.Warn("failed to write result frame", slogError(err))
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (g *Gateway) writeStreamError(conn *websocket.Conn, err error) {
	guidance := pipeline.Guidance(err)
	message := err.Error()
	if guidance != "" {
		message = guidance
	}
	g.notifier.Post("error", message)

	frame := errorFrame{Type: "error", Error: err.Error(), Guidance: guidance}
	var cerr *pipeline.ChunkError
	if errors.As(err, &cerr) {
		frame.Chunk = cerr.Index
	}
	if werr := conn.WriteJSON(frame); werr != nil {
		g.log.Warn("failed to write error frame", slogError(werr))
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, ""))
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
