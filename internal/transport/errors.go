package transport

// Error is a delivery failure carrying the upstream human-readable
// description. Telegram does not expose structured error codes through
// every failure path, so downstream classification (broadcast retry,
// migration, pruning) works off this text. The adapter is the only place
// allowed to construct these.
type Error struct {
	Description string
}

func (e *Error) Error() string { return e.Description }

// NewError wraps an upstream failure description.
func NewError(description string) *Error {
	return &Error{Description: description}
}
