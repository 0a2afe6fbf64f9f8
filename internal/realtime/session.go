package realtime

import (
	"golang.org/x/time/rate"

	"github.com/clearhaul/realtime/internal/model"
)

// Session is the router-side state of one connection. It moves from
// unauthenticated to authenticated exactly once; room membership lives in the
// RoomIndex, not here. A session is only ever touched by its connection's
// read loop, so it needs no lock.
type Session struct {
	connID   string
	identity model.Identity
	authed   bool
	sink     Sink
	limiter  *rate.Limiter
}

func NewSession(sink Sink, limiter *rate.Limiter) *Session {
	return &Session{sink: sink, limiter: limiter}
}

// ConnID is empty until the handshake succeeds.
func (s *Session) ConnID() string { return s.connID }

func (s *Session) Authenticated() bool { return s.authed }

func (s *Session) Identity() model.Identity { return s.identity }
