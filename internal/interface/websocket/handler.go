package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/roomies/roomies-hub/internal/domain/shared"
)

// HandlerOptions configures the upgrade handler.
type HandlerOptions struct {
	// OriginPatterns are accepted cross-origin hosts; empty allows same origin only.
	OriginPatterns []string

	// Enabled reports whether streaming is on for a household. nil means always.
	Enabled func(householdID string) bool

	Logger *slog.Logger
}

// HandleWebSocket upgrades GET /ws?household_id=... and streams that
// household's events until the client disconnects.
func HandleWebSocket(hub *Hub, opts HandlerOptions) http.HandlerFunc {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		householdID := r.URL.Query().Get("household_id")
		if !shared.ValidID(householdID) {
			http.Error(w, "household_id is required", http.StatusBadRequest)
			return
		}
		if opts.Enabled != nil && !opts.Enabled(householdID) {
			http.Error(w, "realtime updates are disabled", http.StatusNotFound)
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept failed", "household_id", householdID, "error", err)
			return
		}
		defer conn.CloseNow()

		NewClient(hub, conn, householdID).Run(r.Context())
		conn.Close(ws.StatusNormalClosure, "")
	}
}
