package v1

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tinoosan/devsync/internal/hub"
	"github.com/tinoosan/devsync/internal/service"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type MediaHandler struct {
	l      *slog.Logger
	svc    service.Media
	events *hub.Hub
}

// NewMediaHandler builds the v1 handlers. events may be nil, in which case
// the event stream answers 503.
func NewMediaHandler(l *slog.Logger, svc service.Media, events *hub.Hub) *MediaHandler {
	if l == nil {
		l = slog.Default()
	}
	return &MediaHandler{l: l, svc: svc, events: events}
}

func (h *MediaHandler) GetMedia(w http.ResponseWriter, r *http.Request) {
	entries, err := h.svc.Catalog(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// RefreshMedia relists the device. ?thumbnails=false skips thumbnails.
func (h *MediaHandler) RefreshMedia(w http.ResponseWriter, r *http.Request) {
	withThumb := true
	if v := r.URL.Query().Get("thumbnails"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			markErr(w, err)
			http.Error(w, "invalid thumbnails flag", http.StatusBadRequest)
			return
		}
		withThumb = b
	}
	entries, err := h.svc.Refresh(r.Context(), withThumb)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *MediaHandler) DeleteMedia(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.svc.DeleteMedia(r.Context(), vars["product"], vars["name"]); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MediaHandler) GetQueue(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Queue(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *MediaHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	body, ok := r.Context().Value(ctxKeyEnqueue{}).(enqueueBody)
	if !ok {
		markErr(w, ErrEnqueueCtx)
		http.Error(w, ErrEnqueueCtx.Error(), http.StatusInternalServerError)
		return
	}
	id, err := h.svc.Enqueue(r.Context(), body.Product, body.Name)
	if err != nil {
		fail(w, err)
		return
	}
	w.Header().Set("Location", "/v1/transfers/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *MediaHandler) CancelQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelQueue(r.Context()); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *MediaHandler) GetTransfers(w http.ResponseWriter, r *http.Request) {
	ts, err := h.svc.Transfers(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *MediaHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Transfer(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *MediaHandler) GetDataFiles(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.DataFiles(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// Events streams transfer events as JSON text messages until the client
// goes away.
func (h *MediaHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		markErr(w, err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "done") }()

	msgs, unsubscribe := h.events.Subscribe(32)
	defer unsubscribe()
	// only writes from here on; CloseRead notices the client leaving
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, m); err != nil {
				h.l.Debug("event stream write", "err", err)
				return
			}
		}
	}
}
