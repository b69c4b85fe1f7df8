package protocol

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
)

const (
	TypeAck   = "ack"
	TypeError = "error"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Symbols []string `json:"symbols"`
}

// WSResponse acknowledges a request. Feed records are forwarded to the client
// verbatim, so they carry their own channel field instead of a type.
type WSResponse struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Status  string   `json:"status,omitempty"`
	Message string   `json:"message,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}
