package ftpsession

import "time"

// startKeepalive starts a goroutine that sends NOOP when the control
// connection has been idle for idleTimeout. It only runs while the
// session is Authenticated and never overlaps another command.
func (s *Session) startKeepalive() {
	if s.idleTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// a Disconnect racing Login may already have dropped the session
	if s.state != Authenticated || s.stopKeepalive != nil {
		return
	}
	stop := make(chan struct{})
	s.stopKeepalive = stop
	go s.keepalive(stop)
}

func (s *Session) keepalive(stop <-chan struct{}) {
	// Checking at half the idle timeout keeps the worst-case gap under it.
	ticker := time.NewTicker(s.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if time.Since(s.ctrl.LastActivity()) < s.idleTimeout {
				continue
			}
			if !s.claimIdle() {
				continue
			}
			s.logger.Debug("sending keep-alive NOOP")
			reply, err := s.exchange(NewCommand("NOOP", "", 200))
			if err == nil && reply.Class() != ClassSuccess {
				s.logger.Warn("keep-alive NOOP refused", "code", reply.Code, "message", reply.Message)
				err = replyError(KindCommand, "NOOP", reply)
			}
			s.end(err)
		}
	}
}

// claimIdle moves an idle Authenticated session to Busy on behalf of the
// keep-alive. Operations started meanwhile wait in begin.
func (s *Session) claimIdle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Authenticated {
		return false
	}
	s.state = Busy
	s.keepaliveBusy = true
	return true
}

// stopKeepaliveLocked stops the keep-alive goroutine. s.mu must be held.
func (s *Session) stopKeepaliveLocked() {
	if s.stopKeepalive != nil {
		close(s.stopKeepalive)
		s.stopKeepalive = nil
	}
}
