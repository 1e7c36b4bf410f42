package update

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// IsNewer reports whether the remote version is strictly greater than the
// current one under dotted-numeric ordering ("1.10" is newer than "1.9").
// Equal versions are not newer in either direction. Malformed input returns
// an error so the triggering check fails instead of guessing an order.
func IsNewer(remote, current string) (bool, error) {
	remoteVersion, err := parseVersion(remote)
	if err != nil {
		return false, fmt.Errorf("remote version %q: %w", remote, err)
	}

	currentVersion, err := parseVersion(current)
	if err != nil {
		return false, fmt.Errorf("current version %q: %w", current, err)
	}

	return remoteVersion.GreaterThan(currentVersion), nil
}

// parseVersion accepts partial versions such as "1.10" and an optional
// leading "v", which upstream version files occasionally carry.
func parseVersion(s string) (*semver.Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return nil, ErrVersionUnreadable
	}

	v, err := semver.NewVersion(s)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	return v, nil
}
