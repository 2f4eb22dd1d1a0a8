package session

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/wpp-archive/internal/config"
)

// DefaultSessionName is used when neither a flag nor config names a session.
const DefaultSessionName = "main"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name can be used as a directory under sessions/.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: must match %s", name, nameRegexp)
	}
	return nil
}

// Resolve picks the session name: the flag if set, then cfg's
// default_session, then DefaultSessionName. cfg may be nil.
func Resolve(flag string, cfg *config.Config) string {
	switch {
	case flag != "":
		return flag
	case cfg != nil && cfg.DefaultSession != "":
		return cfg.DefaultSession
	default:
		return DefaultSessionName
	}
}
