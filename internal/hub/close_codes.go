package hub

// Custom WebSocket close codes. Standard codes (1000, 1001) are defined by RFC 6455;
// the 4000 range is reserved for application use.
const (
	// CloseEvicted is sent to a session displaced by a newer connection for the same
	// identity.
	CloseEvicted = 4000
	// CloseMissingToken is sent when no token arrives via query or auth frame.
	CloseMissingToken = 4001
	// CloseInvalidToken is sent when the token fails signature or format checks.
	CloseInvalidToken = 4002
	// CloseInvalidPayload is sent when the token verifies but carries no usable
	// email claim.
	CloseInvalidPayload = 4003
)

// Close reasons paired with the codes above. Clients display these verbatim.
const (
	reasonEvicted        = "New connection"
	reasonMissingToken   = "Missing auth token"
	reasonInvalidToken   = "Invalid auth token"
	reasonInvalidPayload = "Invalid auth payload"
)
