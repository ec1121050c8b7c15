package validate

import "errors"

// ErrInvalidGameID is returned when a gameId does not match the DNS-label
// format (1-63 lowercase alphanumeric + hyphens).
var ErrInvalidGameID = errors.New("invalid game id")
