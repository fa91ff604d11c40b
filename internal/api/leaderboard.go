package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/0xmdrakib/2048TX/pkg/checkpointer"
	"github.com/0xmdrakib/2048TX/pkg/data/redis/ranking"
	"github.com/0xmdrakib/2048TX/pkg/ledger"
	"github.com/0xmdrakib/2048TX/pkg/notify"
	"github.com/0xmdrakib/2048TX/pkg/season"
	"github.com/0xmdrakib/2048TX/pkg/utils"
)

type leaderboardResponse struct {
	OK               bool            `json:"ok"`
	Scope            string          `json:"scope"`
	ChainID          int64           `json:"chainId"`
	Contract         any             `json:"contract"`
	WeekIndex        *int64          `json:"weekIndex,omitempty"`
	WeekStartsAt     string          `json:"weekStartsAt,omitempty"`
	WeekEndsAt       string          `json:"weekEndsAt,omitempty"`
	SecondsLeft      *int64          `json:"secondsLeft,omitempty"`
	UpdatedFromBlock *uint64         `json:"updatedFromBlock"`
	Top              []ranking.Entry `json:"top100"`
}

// leaderboard serves the top entries of the current window or of all time.
// refresh=1 runs a small, throttled index of that stream first.
func (s *Server) leaderboard(w http.ResponseWriter, r *http.Request) {
	noStore(w)
	ctx := r.Context()

	stream := checkpointer.StreamWeekly
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "weekly":
	case "alltime":
		stream = checkpointer.StreamAllTime
	default:
		writeError(w, http.StatusBadRequest, "scope must be weekly or alltime")
		return
	}

	now := s.now()
	if r.URL.Query().Get("refresh") == "1" {
		s.publicRefresh(r, stream)
	}

	resp := leaderboardResponse{
		OK:       true,
		Scope:    string(stream),
		ChainID:  s.cfg.ChainID,
		Contract: nullable(s.cfg.Contract),
	}

	var err error
	if stream == checkpointer.StreamWeekly {
		epoch, eerr := s.deps.Rankings.EnsureEpoch(ctx, now.Unix())
		if eerr != nil {
			s.fail(w, "leaderboard", eerr)
			return
		}
		meta := season.CurrentWindowMeta(epoch, now.Unix())
		resp.WeekIndex = &meta.Index
		resp.WeekStartsAt = isoSeconds(meta.Start)
		resp.WeekEndsAt = isoSeconds(meta.End)
		resp.SecondsLeft = &meta.SecondsLeft
		resp.Top, err = s.deps.Rankings.TopWindow(ctx, meta.Index, s.cfg.LeaderboardSize)
	} else {
		resp.Top, err = s.deps.Rankings.TopAllTime(ctx, s.cfg.LeaderboardSize)
	}
	if err != nil {
		s.fail(w, "leaderboard", err)
		return
	}
	if resp.Top == nil {
		resp.Top = []ranking.Entry{}
	}

	last, ok, err := s.deps.Checkpoints.Read(ctx, stream)
	if err != nil {
		s.fail(w, "leaderboard", err)
		return
	}
	if ok {
		resp.UpdatedFromBlock = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// publicRefresh never fails the read: a refresh error only means the
// response is as fresh as the last committed chunk.
func (s *Server) publicRefresh(r *http.Request, stream checkpointer.Stream) {
	won, err := s.claimPublicRefresh(r.Context(), s.now())
	if err != nil {
		s.log.Warnw("public refresh throttle failed", "error", err)
		return
	}
	if !won {
		return
	}
	res, err := s.deps.Indexer.Index(r.Context(), stream, s.cfg.RefreshMaxBlocks)
	if err != nil {
		s.log.Warnw("public refresh failed", "stream", stream, "error", err)
		return
	}
	s.log.Debugw("public refresh", "stream", stream, "to", res.ToHeight, "events", res.EventsProcessed)
}

// rollover runs the finalizer. It is public: the client calls it when its
// countdown reaches zero, and any later call finalizes the same windows.
func (s *Server) rollover(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Finalizer.FinalizeCompletedWindows(r.Context())
	if err != nil {
		s.fail(w, "rollover", err)
		return
	}
	meta := season.CurrentWindowMeta(res.Epoch, s.now().Unix())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"snapshots":    res.SnappedWindowIndices,
		"weekIndex":    meta.Index,
		"weekStartsAt": isoSeconds(meta.Start),
		"weekEndsAt":   isoSeconds(meta.End),
		"secondsLeft":  meta.SecondsLeft,
		"epochSeconds": res.Epoch,
	})
}

// submission decodes the ScoreSubmitted events of a mined transaction.
func (s *Server) submission(w http.ResponseWriter, r *http.Request) {
	hash, err := utils.ParseTxHash(mux.Vars(r)["txHash"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rcpt, ok, err := s.deps.Receipts.Receipt(r.Context(), hash)
	if err != nil {
		s.fail(w, "submission", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "transaction not found or pending")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":          true,
		"txHash":      rcpt.TxHash,
		"status":      rcpt.Status,
		"blockNumber": rcpt.BlockHeight,
		"events":      rcpt.Events,
	})
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	s.log.Errorw("request failed", "op", op, "error", err)
	writeError(w, failureStatus(err), err.Error())
}

// failureStatus is 502 when an upstream was unreachable, 500 otherwise.
func failureStatus(err error) int {
	if errors.Is(err, ledger.ErrUnavailable) || errors.Is(err, notify.ErrUnavailable) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
