package observability

// EventEnvelope wraps pipeline events published to the broker. EventType
// names the stream ("ws_events"), EventName the specific occurrence within
// it, and Payload carries the event body opaquely.
type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Service   string      `json:"service"`
	Payload   interface{} `json:"payload"`
}

// BuildHeaders carries request correlation onto broker messages so event
// consumers can join them back to HTTP traces.
func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
