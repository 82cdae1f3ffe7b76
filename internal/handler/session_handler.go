/*
Package handler provides the HTTP handlers and routing setup for the meditation community server.

This file contains the schedule and presence endpoints consumed by clients before and
alongside the WebSocket stream: today's session date key, and the online-count polling
fallback used while the stream is down.
*/
package handler

import (
	"net/http"

	"github.com/Sebpessy/meditation-community-sub001/internal/app/session"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/errs"
	"github.com/Sebpessy/meditation-community-sub001/internal/pkg/resp"
)

// HandleTodaySession returns the session date key clients should join. The key
// is derived from the fixed civil timezone, never the client's local zone.
func HandleTodaySession(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, map[string]any{
			"sessionDate": deps.Manager.TodayKey(),
		})
	}
}

// HandleOnlineCount returns the distinct online-user count for a session date.
// Polling fallback for clients whose stream is down; defaults to today.
func HandleOnlineCount(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		if date == "" {
			date = deps.Manager.TodayKey()
		}

		if !session.IsValidDateKey(date) {
			resp.RespondError(w, r, errs.NewError(errs.ErrSessionDateInvalid))
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"count": deps.Manager.OnlineCount(date),
		})
	}
}
