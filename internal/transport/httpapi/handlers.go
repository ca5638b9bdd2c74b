package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"towerdefense.ai/internal/protocol"
	"towerdefense.ai/internal/sim/engine"
	"towerdefense.ai/internal/sim/settlement"
	"towerdefense.ai/internal/sim/tuning"
)

const maxBody = 16 * 1024

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, protocol.NewError("", code, msg))
}

func (h *handlers) query(ctx context.Context, fn func(*engine.Engine)) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.runner.Query(ctx, fn)
}

func (h *handlers) handleCommand(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	if len(raw) > maxBody {
		writeError(w, http.StatusRequestEntityTooLarge, protocol.ErrProtoBadRequest, "body too large")
		return
	}
	cmd, err := protocol.ValidateCommand(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	resp, err := h.runner.Submit(ctx, cmd.PKey.Uint64s(), cmd.Cmd.Uint64s())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, protocol.NewError(cmd.ID, protocol.ErrBusy, err.Error()))
		return
	}
	msg := protocol.NewResult(cmd.ID, resp.Seq, resp.Digest, resp.Result, resp.Err)
	status := http.StatusOK
	if resp.Err != nil {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, msg)
}

func parsePID(r *http.Request) ([2]uint64, error) {
	var pid [2]uint64
	for i, name := range []string{"pid0", "pid1"} {
		v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
		if err != nil {
			return pid, errors.New("bad " + name)
		}
		pid[i] = v
	}
	return pid, nil
}

func (h *handlers) handlePlayerState(w http.ResponseWriter, r *http.Request) {
	pid, err := parsePID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.ErrProtoBadRequest, err.Error())
		return
	}
	var (
		view    engine.PlayerView
		tick    uint64
		viewErr error
	)
	if err := h.query(r.Context(), func(e *engine.Engine) {
		tick = e.Tick()
		view, viewErr = e.PlayerView(pid)
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
		return
	}
	if viewErr != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrorCodeFor(viewErr), viewErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            protocol.U64(tick),
		Player:          &view,
	})
}

func (h *handlers) handleWorldState(w http.ResponseWriter, r *http.Request) {
	var view engine.WorldView
	if err := h.query(r.Context(), func(e *engine.Engine) { view = e.WorldView() }); err != nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		Tick:            protocol.U64(view.Tick),
		World:           &view,
	})
}

func (h *handlers) handleConfig(w http.ResponseWriter, r *http.Request) {
	var t tuning.Tuning
	if err := h.query(r.Context(), func(e *engine.Engine) { t = e.Tuning() }); err != nil {
		writeError(w, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type flushResponse struct {
	Tick    uint64              `json:"tick"`
	Hex     string              `json:"hex"`
	Records []settlement.Record `json:"records"`
}

func (h *handlers) authorized(r *http.Request) bool {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return ok && subtle.ConstantTimeCompare([]byte(tok), []byte(h.adminToken)) == 1
}

func (h *handlers) handleSettlementFlush(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, protocol.ErrBadRequest, "bad admin token")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	tick, data, err := h.runner.FlushSettlement(ctx)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), errors.Is(err, engine.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, protocol.ErrBusy, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	recs, err := settlement.Parse(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, protocol.ErrInternal, err.Error())
		return
	}
	if recs == nil {
		recs = []settlement.Record{}
	}
	if h.log != nil && len(recs) > 0 {
		h.log.Printf("settlement flushed: %d records, %d bytes at tick %d", len(recs), len(data), tick)
	}
	writeJSON(w, http.StatusOK, flushResponse{Tick: tick, Hex: hex.EncodeToString(data), Records: recs})
}
