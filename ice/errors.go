package ice

import "github.com/pkg/errors"

// Sentinel errors for the ConfigError kind of SPEC_FULL.md §7: malformed
// input returned directly to the caller with no state change. Agent
// methods return these values unwrapped, so callers can compare them
// with ==.
var (
	// ErrUnknownStream is returned when a StreamID does not reference a
	// live stream.
	ErrUnknownStream = errors.New("ice: unknown stream")
	// ErrUnknownComponent is returned when a component id is not part
	// of the referenced stream.
	ErrUnknownComponent = errors.New("ice: unknown component")
	// ErrNoRemoteCredentials reports that a stream's remote credentials
	// are not set. No Agent method returns it: checks on a stream whose
	// remote credentials are unset are sent with an empty remote ufrag
	// and password.
	ErrNoRemoteCredentials = errors.New("ice: remote credentials not set")
	// ErrInvalidCandidate is returned by AddRemoteCandidate when the
	// remote candidate has no address, and by SetRemoteCredentials when
	// the ufrag is shorter than 4 or the password shorter than 22
	// characters.
	ErrInvalidCandidate = errors.New("ice: invalid candidate")
)

// bindError wraps a socket-bind failure during AddStream as a
// ResourceError (SPEC_FULL.md §7): the partially constructed stream is
// rolled back so a returned stream id always references a complete
// stream.
func bindError(addr Addr, err error) error {
	return errors.Wrapf(err, "ice: bind host socket %s", addr)
}
