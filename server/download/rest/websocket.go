package rest

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Watch implements domain.RestHandler. It pushes every task state of a
// started download until the task is done or the client goes away.
func (h *RestHandler) Watch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := downloadID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		states, unsubscribe, err := h.service.Watch(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		defer unsubscribe()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("websocket upgrade failed", slog.Any("err", err))
			return
		}
		defer conn.Close()

		// the client only sends close frames
		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		// the first frame is the current snapshot
		if p, err := h.service.Progress(r.Context(), id); err == nil {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(p); err != nil {
				return
			}
			// finished before we subscribed
			if p.TaskStatus.Done() {
				return
			}
		}

		for {
			select {
			case <-gone:
				return
			case <-r.Context().Done():
				return
			case st, ok := <-states:
				if !ok {
					return
				}

				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(st); err != nil {
					slog.Debug("websocket write failed", slog.Any("err", err))
					return
				}

				if st.Status.Done() {
					conn.WriteControl(
						websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task done"),
						time.Now().Add(writeWait),
					)
					return
				}
			}
		}
	}
}
