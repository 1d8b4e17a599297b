package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rhinehart514/hivesync/pkg/engine"
	"github.com/rhinehart514/hivesync/pkg/log"
	"github.com/rhinehart514/hivesync/pkg/storage"
	"github.com/rhinehart514/hivesync/pkg/types"
)

// pathKey builds the state key for GET and DELETE routes: tool from the
// path, deployment from the query string.
func pathKey(c *gin.Context) types.ToolStateKey {
	return types.ToolStateKey{
		ToolID:       c.Param("toolId"),
		DeploymentID: c.Query("deploymentId"),
	}
}

type submitBody struct {
	DeploymentID     string           `json:"deploymentId"`
	SpaceID          string           `json:"spaceId"`
	UpdateType       types.UpdateType `json:"updateType" binding:"required"`
	EventData        types.EventData  `json:"eventData"`
	TargetUsers      []string         `json:"targetUsers"`
	BroadcastToSpace *bool            `json:"broadcastToSpace"`
	RequiresAck      bool             `json:"requiresAck"`
	ExpiresInMinutes int              `json:"expiresInMinutes"`
}

// handleSubmit accepts one state update for sequencing.
//
//	POST /v1/tools/:toolId/updates
func (s *Server) handleSubmit(c *gin.Context) {
	toolID := c.Param("toolId")
	if err := s.permissions.CanWrite(c.Request.Context(), identityFrom(c), toolID); err != nil {
		abortWithError(c, err)
		return
	}

	var body submitBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithCode(c, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}

	result, err := s.engine.SubmitUpdate(c.Request.Context(), engine.SubmitRequest{
		ToolID:           toolID,
		DeploymentID:     body.DeploymentID,
		SpaceID:          body.SpaceID,
		UserID:           callerID(c),
		UpdateType:       body.UpdateType,
		EventData:        body.EventData,
		TargetUsers:      body.TargetUsers,
		BroadcastToSpace: body.BroadcastToSpace,
		RequiresAck:      body.RequiresAck,
		ExpiresInMinutes: body.ExpiresInMinutes,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// handleHistory serves the update log. With "Accept: application/x-ndjson"
// the same route becomes a live stream instead of a page.
//
//	GET /v1/tools/:toolId/updates
func (s *Server) handleHistory(c *gin.Context) {
	toolID := c.Param("toolId")
	if err := s.permissions.CanRead(c.Request.Context(), identityFrom(c), toolID); err != nil {
		abortWithError(c, err)
		return
	}

	if wantsStream(c) {
		s.streamNDJSON(c)
		return
	}

	req := engine.HistoryRequest{
		ToolID:       toolID,
		DeploymentID: c.Query("deploymentId"),
	}
	if v := c.Query("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			abortWithCode(c, http.StatusBadRequest, CodeInvalidInput, fmt.Sprintf("invalid since timestamp: %v", err))
			return
		}
		req.Since = since
	}
	if v := c.Query("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			abortWithCode(c, http.StatusBadRequest, CodeInvalidInput, fmt.Sprintf("invalid limit: %v", err))
			return
		}
		req.Limit = limit
	}
	includeSnapshot := false
	if v := c.Query("includeSnapshot"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			abortWithCode(c, http.StatusBadRequest, CodeInvalidInput, fmt.Sprintf("invalid includeSnapshot: %v", err))
			return
		}
		includeSnapshot = b
	}

	result, err := s.engine.History(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !includeSnapshot {
		result.Snapshot = nil
	}
	c.JSON(http.StatusOK, result)
}

type syncBody struct {
	DeploymentID       string                 `json:"deploymentId"`
	ClientVersion      int64                  `json:"clientVersion"`
	ClientState        map[string]any         `json:"clientState" binding:"required"`
	ConflictResolution types.ConflictStrategy `json:"conflictResolution"`
	ForceMerge         bool                   `json:"forceMerge"`
}

// handleSync reconciles a client's full state against the server's.
//
//	POST /v1/tools/:toolId/sync
func (s *Server) handleSync(c *gin.Context) {
	toolID := c.Param("toolId")
	if err := s.permissions.CanWrite(c.Request.Context(), identityFrom(c), toolID); err != nil {
		abortWithError(c, err)
		return
	}

	var body syncBody
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithCode(c, http.StatusBadRequest, CodeInvalidInput, err.Error())
		return
	}

	result, err := s.engine.Sync(c.Request.Context(), engine.SyncRequest{
		ToolID:             toolID,
		DeploymentID:       body.DeploymentID,
		UserID:             callerID(c),
		ClientVersion:      body.ClientVersion,
		ClientState:        body.ClientState,
		ConflictResolution: body.ConflictResolution,
		ForceMerge:         body.ForceMerge,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// SnapshotResponse is the GET snapshot body.
type SnapshotResponse struct {
	Snapshot   *types.StateSnapshot      `json:"snapshot"`
	SyncStatus *engine.SyncStatusSummary `json:"syncStatus"`
}

// handleSnapshot returns the current snapshot and status summary. This is a
// convenience read: a failed store read degrades to an absent snapshot
// rather than an error response.
//
//	GET /v1/tools/:toolId/snapshot
func (s *Server) handleSnapshot(c *gin.Context) {
	toolID := c.Param("toolId")
	if err := s.permissions.CanRead(c.Request.Context(), identityFrom(c), toolID); err != nil {
		abortWithError(c, err)
		return
	}

	key := pathKey(c)
	snapshot, err := s.engine.Snapshot(c.Request.Context(), key)
	if err != nil {
		if !storage.IsNotFound(err) {
			log.Error(fmt.Sprintf("Failed to read snapshot for %s: %v", key, err))
		}
		snapshot = nil
	}
	status, err := s.engine.Status(c.Request.Context(), key)
	if err != nil {
		log.Error(fmt.Sprintf("Failed to summarize sync status for %s: %v", key, err))
		status = &engine.SyncStatusSummary{Status: types.SyncStatusPending}
	}

	c.JSON(http.StatusOK, SnapshotResponse{Snapshot: snapshot, SyncStatus: status})
}

// handleCleanup deletes every event for the key older than a cutoff.
//
//	DELETE /v1/tools/:toolId/updates?olderThan=RFC3339
func (s *Server) handleCleanup(c *gin.Context) {
	toolID := c.Param("toolId")
	if err := s.permissions.CanWrite(c.Request.Context(), identityFrom(c), toolID); err != nil {
		abortWithError(c, err)
		return
	}

	raw := c.Query("olderThan")
	if raw == "" {
		abortWithCode(c, http.StatusBadRequest, CodeInvalidInput, "olderThan is required")
		return
	}
	olderThan, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		abortWithCode(c, http.StatusBadRequest, CodeInvalidInput, fmt.Sprintf("invalid olderThan timestamp: %v", err))
		return
	}

	result, err := s.engine.Cleanup(c.Request.Context(), engine.CleanupRequest{
		ToolID:       toolID,
		DeploymentID: c.Query("deploymentId"),
		OlderThan:    &olderThan,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleCleanupEvent deletes one event by ID.
//
//	DELETE /v1/tools/:toolId/updates/:updateId
func (s *Server) handleCleanupEvent(c *gin.Context) {
	toolID := c.Param("toolId")
	if err := s.permissions.CanWrite(c.Request.Context(), identityFrom(c), toolID); err != nil {
		abortWithError(c, err)
		return
	}

	result, err := s.engine.Cleanup(c.Request.Context(), engine.CleanupRequest{
		ToolID:  toolID,
		EventID: c.Param("updateId"),
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleRecordAck records the caller's acknowledgment of an update.
//
//	POST /v1/tools/:toolId/updates/:updateId/ack
func (s *Server) handleRecordAck(c *gin.Context) {
	toolID := c.Param("toolId")
	if err := s.permissions.CanWrite(c.Request.Context(), identityFrom(c), toolID); err != nil {
		abortWithError(c, err)
		return
	}

	tracking, err := s.engine.RecordAck(c.Request.Context(), toolID, c.Param("updateId"), callerID(c))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracking)
}

// handleAckStatus returns the acknowledgment tracking record for an update.
//
//	GET /v1/tools/:toolId/updates/:updateId/ack
func (s *Server) handleAckStatus(c *gin.Context) {
	toolID := c.Param("toolId")
	if err := s.permissions.CanRead(c.Request.Context(), identityFrom(c), toolID); err != nil {
		abortWithError(c, err)
		return
	}

	tracking, err := s.engine.AckStatus(c.Request.Context(), toolID, c.Param("updateId"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tracking)
}
