package tunnel

import "github.com/gosuda/cryptotunnel/config"

// Option configures a Tunnel at construction time using the
// functional-options pattern.
type Option func(*settings)

type settings struct {
	leaveOpen bool
	cfg       config.Options
}

func newSettings(opts []Option) settings {
	s := settings{cfg: config.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithLeaveOpen controls whether Close disposes the underlying stream.
// When true, the caller retains ownership of conn and must close it
// themselves; Close still wipes the session key either way.
func WithLeaveOpen(leaveOpen bool) Option {
	return func(s *settings) { s.leaveOpen = leaveOpen }
}

// WithOptions supplies the ambient configuration (logging, handshake
// deadline, read buffer size) described in config.Options.
func WithOptions(cfg config.Options) Option {
	return func(s *settings) { s.cfg = cfg }
}
