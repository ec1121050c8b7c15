package validate

import (
	"fmt"
	"regexp"
)

// gameIDRe matches DNS-label-style game ids: 1-63 lowercase alphanumeric
// or hyphens, starting and ending with alphanumeric. gameId travels in
// every envelope and in connection strings, so this keeps it safe to log,
// to use as a metrics label, and to embed in a future per-game protocol
// namespace without risking injection.
var gameIDRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// GameID checks that a gameId is DNS-label safe.
func GameID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: id cannot be empty", ErrInvalidGameID)
	}
	if !gameIDRe.MatchString(id) {
		return fmt.Errorf("%w: %q must be 1-63 lowercase alphanumeric characters or hyphens, starting and ending with alphanumeric", ErrInvalidGameID, id)
	}
	return nil
}
