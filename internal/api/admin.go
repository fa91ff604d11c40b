package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/0xmdrakib/2048TX/pkg/data/redis/snapshot"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/subscription"
	"github.com/0xmdrakib/2048TX/pkg/notify"
)

func (s *Server) adminStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := s.now().Unix()

	registered, err := s.deps.Subscriptions.Count(ctx)
	if err != nil {
		s.fail(w, "admin status", err)
		return
	}
	due, err := s.deps.Subscriptions.CountDue(ctx, now)
	if err != nil {
		s.fail(w, "admin status", err)
		return
	}
	entry, ok, err := s.deps.Subscriptions.Soonest(ctx)
	if err != nil {
		s.fail(w, "admin status", err)
		return
	}

	var soonest any
	if ok {
		soonest = map[string]any{
			"member":     entry.Member,
			"nextSendAt": entry.NextSendAt,
			"inSeconds":  entry.NextSendAt - now,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"now":        now,
		"registered": registered,
		"due":        due,
		"soonest":    soonest,
	})
}

// adminReschedule sets ?hours= on every subscription, or on ?member= only.
func (s *Server) adminReschedule(w http.ResponseWriter, r *http.Request) {
	hours, err := subscription.ParseCadence(r.URL.Query().Get("hours"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "hours must be 1, 6, or 12")
		return
	}
	member := r.URL.Query().Get("member")
	if member != "" {
		if _, _, err := subscription.ParseMember(member); err != nil {
			writeError(w, http.StatusBadRequest, "member must look like fid:appFid")
			return
		}
	}

	res, err := s.deps.Dispatcher.Reschedule(r.Context(), hours, member, s.now().Unix())
	if err != nil {
		s.fail(w, "admin reschedule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"updated": res.Updated,
		"missing": res.Missing,
		"total":   res.Total,
		"hours":   res.Hours,
	})
}

// adminSendTest sends one test notification to ?fid=&appFid=, or to the
// subscription due soonest.
func (s *Server) adminSendTest(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var member string
	if fid, appFID := q.Get("fid"), q.Get("appFid"); fid != "" && appFID != "" {
		f, ferr := strconv.ParseInt(fid, 10, 64)
		a, aerr := strconv.ParseInt(appFID, 10, 64)
		if ferr != nil || aerr != nil {
			writeError(w, http.StatusBadRequest, "fid and appFid must be integers")
			return
		}
		member = subscription.Member(f, a)
	}

	res, err := s.deps.Dispatcher.SendTest(r.Context(), member)
	switch {
	case errors.Is(err, notify.ErrNoSubscriptions):
		writeError(w, http.StatusNotFound, "No registered users")
		return
	case errors.Is(err, notify.ErrSubscriptionNotFound), errors.Is(err, subscription.ErrInvalidMember):
		writeError(w, http.StatusNotFound, "No record found for member")
		return
	case err != nil:
		s.fail(w, "admin send-test", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// adminEvents lists the newest webhook events.
func (s *Server) adminEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Subscriptions.Events(r.Context(), adminEventsLimit)
	if err != nil {
		s.fail(w, "admin events", err)
		return
	}
	if events == nil {
		events = []subscription.Event{}
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].TS > events[j].TS })
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(events), "events": events})
}

// adminSnapshots lists stored window snapshots, newest first.
func (s *Server) adminSnapshots(w http.ResponseWriter, r *http.Request) {
	limit := defaultSnapshotListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxSnapshotListLimit)
	}

	snaps, err := s.deps.Snapshots.List(r.Context(), limit)
	if err != nil {
		s.fail(w, "admin snapshots", err)
		return
	}
	if snaps == nil {
		snaps = []snapshot.Stored{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "count": len(snaps), "snapshots": snaps})
}
