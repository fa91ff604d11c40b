package api

import (
	"net/http"

	"github.com/0xmdrakib/2048TX/pkg/checkpointer"
	"github.com/0xmdrakib/2048TX/pkg/indexer"
)

// cronIndex advances both streams, or the one named by ?stream=, by at most
// ?maxBlocks= blocks each.
func (s *Server) cronIndex(w http.ResponseWriter, r *http.Request) {
	maxBlocks, _, err := queryUint(r, "maxBlocks")
	if err != nil {
		writeError(w, http.StatusBadRequest, "maxBlocks must be a non-negative integer")
		return
	}

	var results []*indexer.Result
	if name := r.URL.Query().Get("stream"); name != "" {
		stream, perr := checkpointer.ParseStream(name)
		if perr != nil {
			writeError(w, http.StatusBadRequest, perr.Error())
			return
		}
		var res *indexer.Result
		res, err = s.deps.Indexer.Index(r.Context(), stream, maxBlocks)
		if res != nil {
			results = append(results, res)
		}
	} else {
		results, err = s.deps.Indexer.IndexAll(r.Context(), maxBlocks)
	}
	if results == nil {
		results = []*indexer.Result{}
	}

	if err != nil {
		s.log.Errorw("cron index failed", "error", err)
		writeJSON(w, failureStatus(err), map[string]any{
			"ok":      false,
			"error":   err.Error(),
			"streams": results,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "streams": results})
}

func (s *Server) cronFinalize(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Finalizer.FinalizeCompletedWindows(r.Context())
	if err != nil {
		s.log.Errorw("cron finalize failed", "error", err)
		body := map[string]any{"ok": false, "error": err.Error()}
		if res != nil {
			body["snappedWeeks"] = res.SnappedWindowIndices
		}
		writeJSON(w, failureStatus(err), body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"currentWeekIndex": res.CurrentWindowIndex,
		"snappedWeeks":     res.SnappedWindowIndices,
		"epochSeconds":     res.Epoch,
	})
}

// cronDispatch delivers up to ?limit= due reminders.
func (s *Server) cronDispatch(w http.ResponseWriter, r *http.Request) {
	limit, ok, err := queryUint(r, "limit")
	if err != nil || (ok && limit == 0) {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if !ok {
		limit = uint64(s.cfg.DispatchBatchLimit)
	}

	res, err := s.deps.Dispatcher.DispatchDue(r.Context(), s.now().Unix(), int64(limit))
	if err != nil {
		s.log.Errorw("cron dispatch failed", "error", err)
		body := map[string]any{"ok": false, "error": err.Error()}
		if res != nil {
			body["result"] = res
		}
		writeJSON(w, failureStatus(err), body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"due":             res.Due,
		"sent":            res.Sent,
		"invalid":         res.Invalid,
		"invalidDisabled": res.InvalidDisabled,
		"rateLimited":     res.RateLimited,
		"errors":          res.Errors,
		"stale":           res.Stale,
	})
}
