package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/ventureflow/internal/ctxkeys"
	"github.com/BaSui01/ventureflow/pipeline"
	"github.com/BaSui01/ventureflow/store"
	"github.com/BaSui01/ventureflow/types"
)

// EventsHandler streams pipeline progress over a websocket. The stream is
// advisory; a dropped connection loses events but never state, which the
// status endpoint always has.
type EventsHandler struct {
	store  SessionStore
	bus    *pipeline.Bus
	logger *zap.Logger
}

func NewEventsHandler(st SessionStore, bus *pipeline.Bus, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{
		store:  st,
		bus:    bus,
		logger: logger.With(zap.String("component", "events_handler")),
	}
}

// HandleEvents upgrades to a websocket and relays the session's events
// until a terminal event is sent or the client goes away.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := ctxkeys.UserID(r.Context())
	if !ok {
		WriteErrorMessage(w, r, types.ErrUnauthorized, "authentication required")
		return
	}

	id := r.PathValue("id")
	session, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			WriteErrorMessage(w, r, types.ErrSessionNotFound, "session not found")
			return
		}
		WriteErrorMessage(w, r, types.ErrStoreUnavailable, "could not load session")
		return
	}
	if session.UserID != userID {
		WriteErrorMessage(w, r, types.ErrSessionNotFound, "session not found")
		return
	}

	// Subscribe before the terminal re-check so a run finishing right
	// now cannot slip between the two.
	events, cancel := h.bus.Subscribe(session.ID)
	defer cancel()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed",
			zap.String("session_id", session.ID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	ctx := r.Context()

	if session.Status.Terminal() {
		ev := pipeline.Event{
			SessionID: session.ID,
			Type:      pipeline.EventPipelineComplete,
			Status:    string(session.Status),
			Timestamp: time.Now(),
		}
		if session.Status == types.SessionFailed {
			ev.Type = pipeline.EventPipelineFailed
		}
		_ = wsjson.Write(ctx, conn, ev)
		conn.Close(websocket.StatusNormalClosure, "session already terminal")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				conn.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
			if err := wsjson.Write(ctx, conn, ev); err != nil {
				h.logger.Debug("websocket write failed",
					zap.String("session_id", session.ID), zap.Error(err))
				return
			}
			if ev.Type == pipeline.EventPipelineComplete || ev.Type == pipeline.EventPipelineFailed {
				conn.Close(websocket.StatusNormalClosure, "pipeline finished")
				return
			}
		}
	}
}
