package api

import (
	"encoding/json"
	"net/http"

	"github.com/0xmdrakib/2048TX/pkg/data/redis/subscription"
)

const maxWebhookBody = 64 << 10

// Mini-app lifecycle events.
const (
	eventAdded                = "miniapp_added"
	eventRemoved              = "miniapp_removed"
	eventNotificationsEnabled = "notifications_enabled"
	eventNotificationsOff     = "notifications_disabled"
)

type webhookPayload struct {
	FID    int64 `json:"fid"`
	AppFID int64 `json:"appFid"`
	Event  struct {
		Event               string `json:"event"`
		NotificationDetails *struct {
			URL   string `json:"url"`
			Token string `json:"token"`
		} `json:"notificationDetails"`
	} `json:"event"`
}

// webhook stores and acknowledges mini-app events. Once the body parses it
// always answers ok, so a store failure never blocks token activation on the
// host; failures are logged instead.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	var p webhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	ctx := r.Context()
	now := s.now().Unix()
	name := p.Event.Event

	if err := s.deps.Subscriptions.LogEvent(ctx, subscription.Event{
		TS:     now,
		Event:  name,
		FID:    p.FID,
		AppFID: p.AppFID,
	}); err != nil {
		s.log.Warnw("failed to log webhook event", "event", name, "error", err)
	}

	var err error
	switch name {
	case eventAdded, eventNotificationsEnabled:
		d := p.Event.NotificationDetails
		if d == nil || d.URL == "" || d.Token == "" {
			break
		}
		_, err = s.deps.Subscriptions.Upsert(ctx, p.FID, p.AppFID, d.URL, d.Token, now)
	case eventRemoved, eventNotificationsOff:
		err = s.deps.Subscriptions.Delete(ctx, p.FID, p.AppFID)
	default:
		s.log.Debugw("ignoring webhook event", "event", name)
	}
	if err != nil {
		s.log.Errorw("webhook event not applied", "event", name, "fid", p.FID, "app_fid", p.AppFID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) webhookProbe(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
