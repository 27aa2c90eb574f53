package websocket

import (
	"log/slog"
	"net/http"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/flock/internal/auth"
	"github.com/dukerupert/flock/internal/envelope"
)

// Verifier checks a bearer token. Browsers cannot set headers on a
// websocket handshake, so the token arrives in the query string.
type Verifier interface {
	Verify(token string) (*auth.Claims, error)
}

// HandleWebSocket authenticates the token query parameter, upgrades the
// connection and joins the caller's church group.
func HandleWebSocket(hub *Hub, verifier Verifier, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := verifier.Verify(r.URL.Query().Get("token"))
		if err != nil {
			envelope.Fail(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		conn, err := ws.Accept(w, r, &ws.AcceptOptions{
			OriginPatterns: originPatterns,
		})
		if err != nil {
			logger.Warn("websocket accept", "error", err)
			return
		}
		defer conn.CloseNow()

		client := NewClient(hub, conn, claims)
		client.Run(r.Context())
	}
}
