package telegram

import (
	"time"

	"tg-archiver/internal/domain"

	"github.com/gotd/td/tgerr"
)

// translate maps a raw gotd/tg error into the domain error kinds every
// other package is written against. This is the only file in the module
// that inspects tgerr's typed errors; every other file treats Session
// methods as already returning domain errors.
func (s *Session) translate(op string, err error) error {
	if err == nil {
		return nil
	}

	if rpcErr, ok := tgerr.As(err); ok {
		switch {
		case rpcErr.IsCode(420): // FLOOD_WAIT_<seconds>
			wait := time.Duration(rpcErr.Argument) * time.Second
			if wait <= 0 {
				wait = 30 * time.Second
			}
			return &domain.RateLimitedError{Session: s.name, Wait: wait, Err: err}
		case rpcErr.IsCode(403) || rpcErr.Message == "CHANNEL_PRIVATE" || rpcErr.Message == "USER_BANNED_IN_CHANNEL":
			return &domain.ForbiddenError{Session: s.name, Err: err}
		case rpcErr.Message == "AUTH_KEY_UNREGISTERED" || rpcErr.Message == "SESSION_REVOKED" || rpcErr.Message == "USER_DEACTIVATED":
			return &domain.AuthFailureError{Session: s.name, Err: err}
		}
	}

	return &domain.TransientNetworkError{Op: op, Err: err}
}
