package ws

import (
	"net/http"
	"time"

	"messaging-service/internal/observability"
)

// ConnInfo identifies a live group connection for event reporting. It is
// captured once at handshake time; the hub treats it as immutable.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// NewConnInfo captures the caller identity and request correlation for a
// freshly upgraded connection.
func NewConnInfo(r *http.Request, userID int, traceID string) ConnInfo {
	return ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(r),
		IP:          observability.ClientIPFromRequest(r),
		RequestID:   observability.RequestIDFromRequest(r),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}
