package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/rhinehart514/hivesync/pkg/log"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// ndjsonContentType selects stream mode on the history route.
const ndjsonContentType = "application/x-ndjson"

func wantsStream(c *gin.Context) bool {
	return strings.Contains(c.GetHeader("Accept"), ndjsonContentType)
}

// streamKey validates the live-stream target. Live streams are scoped to a
// single deployment; a bare tool key would replay every deployment's traffic
// to one viewer.
func streamKey(c *gin.Context) (types.ToolStateKey, bool) {
	key := pathKey(c)
	if key.DeploymentID == "" {
		abortWithCode(c, http.StatusBadRequest, CodeInvalidInput, "deploymentId is required for streaming")
		return key, false
	}
	return key, true
}

// streamNDJSON serves a live delivery channel as newline-delimited JSON
// frames. The connection stays open until the client disconnects or the
// server shuts down; the request context carries the cancellation either
// way.
func (s *Server) streamNDJSON(c *gin.Context) {
	key, ok := streamKey(c)
	if !ok {
		return
	}

	ch, err := s.streamer.Open(c.Request.Context(), key, callerID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	defer ch.Close()

	c.Header("Content-Type", ndjsonContentType)
	c.Header("Cache-Control", "no-cache")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	enc := json.NewEncoder(c.Writer)
	for frame := range ch.Frames() {
		if err := enc.Encode(frame); err != nil {
			return
		}
		c.Writer.Flush()
	}
}

// wsUpgrader accepts any origin. The API holds no browser session state;
// auth travels in headers, not cookies, so cross-origin upgrades carry no
// ambient credentials.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleStreamWS serves the same frames as the NDJSON stream over a
// websocket. Client messages are ignored; reading them only detects
// disconnect.
//
//	GET /v1/tools/:toolId/stream/ws?deploymentId=...
func (s *Server) handleStreamWS(c *gin.Context) {
	toolID := c.Param("toolId")
	if err := s.permissions.CanRead(c.Request.Context(), identityFrom(c), toolID); err != nil {
		abortWithError(c, err)
		return
	}
	key, ok := streamKey(c)
	if !ok {
		return
	}
	userID := callerID(c)

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	ch, err := s.streamer.Open(ctx, key, userID)
	if err != nil {
		closeWS(conn, websocket.ClosePolicyViolation, err.Error())
		return
	}
	defer ch.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for frame := range ch.Frames() {
		if err := conn.WriteJSON(frame); err != nil {
			log.Logger.Debug().
				Str("connection_id", ch.ID).
				Err(err).
				Msg("websocket write failed")
			return
		}
	}
	closeWS(conn, websocket.CloseNormalClosure, "")
}

func closeWS(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
}
