package steam

import (
	"strings"

	logx "steamwatch/pkg/logx"
)

// permitted evaluates the group policy for one requester identity.
// Whitelist fails closed: an empty group list denies everyone, and that
// misconfiguration is worth a warning since it makes the command dead.
// Blacklist fails open: empty list permits everyone. Both sides of every
// comparison are trimmed.
func permitted(perm PermissionConfig, identity string, log logx.Logger) bool {
	identity = strings.TrimSpace(identity)

	member := false
	nonEmpty := false
	for _, g := range perm.Groups {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		nonEmpty = true
		if g == identity {
			member = true
		}
	}

	switch perm.Mode {
	case ModeBlacklist:
		return !member
	default: // whitelist
		if !nonEmpty {
			if !log.IsZero() {
				log.Warn("whitelist is empty; denying all status queries")
			}
			return false
		}
		return member
	}
}
