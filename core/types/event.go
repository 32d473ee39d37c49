package types

// Event is a typed record emitted by state transitions. Attributes hold the
// flattened string rendering used by the RPC event feed.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
