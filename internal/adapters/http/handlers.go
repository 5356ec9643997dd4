package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/uppjke/izuchator-sub000/internal/adapters/signal"
	"github.com/uppjke/izuchator-sub000/internal/domain"
)

// handlePresence serves the online snapshot to pollers that have no socket.
func handlePresence(ctl *signal.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		update := ctl.Presence.Snapshot(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"online_users": update.OnlineUsers,
			"last_seen":    update.LastSeen,
			"count":        len(update.OnlineUsers),
			"timestamp":    update.Timestamp,
		})
	}
}

func handleSessionMembers(ctl *signal.Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := domain.SessionID(c.Param("id"))
		if sessionID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing session id"})
			return
		}
		members := ctl.Sessions.Members(sessionID)
		c.JSON(http.StatusOK, gin.H{
			"session_id": sessionID,
			"members":    members,
			"count":      len(members),
		})
	}
}
