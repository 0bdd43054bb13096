package types

// WSClientMessage represents a message from WebSocket client. Validator is a
// hex address or "*" for every validator.
type WSClientMessage struct {
	Action    string `json:"action"`
	Validator string `json:"validator"`
}

// WSServerMessage represents a message to WebSocket client
type WSServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}
