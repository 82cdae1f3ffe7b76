/*
Package handler provides the HTTP handlers and routing setup for the meditation community server.

This file contains the WebSocket upgrade handler: it rate-limits the handshake,
resolves the caller's identity from the validated token, upgrades the connection,
and starts the client's read and write pumps. Attaching to a room happens later,
via the join-session event on the established stream.
*/
package handler

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Sebpessy/meditation-community-sub001/internal/app/session"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/auth/jwt"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/errs"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/limiter"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/logx"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/resp"
)

// HandleWebSocket creates the HandlerFunc processing WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if ip == "" {
			ip = "unknown_ip"
		}

		if !rateLimiter.GetLimiter(ip).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		identity := jwt.GetPayloadFromContext(r)
		if identity == nil || identity.UserID == 0 {
			logx.Warn("WebSocket connection rejected: Missing or invalid identity token")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}

		profile := session.Profile{
			UserID:    identity.UserID,
			Name:      identity.Name,
			Avatar:    identity.Avatar,
			Moderator: identity.Moderator,
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := session.NewClient(deps.Manager, conn, profile)

		go client.WritePump()

		logx.Info("WebSocket connection established", "user_id", identity.UserID)

		client.ReadPump()
	}
}
