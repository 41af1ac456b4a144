package bridge

import "errors"

// ErrPayloadTooLarge indicates a payload does not fit in one length-prefixed frame.
var ErrPayloadTooLarge = errors.New("payload exceeds maximum frame size")

// ErrMalformedFrame indicates a frame whose declared length is reserved by
// the strict protocol variant.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrUnknownSpeedProfile indicates a modulation speed code with no known
// pacing entry.
var ErrUnknownSpeedProfile = errors.New("unknown speed profile")
