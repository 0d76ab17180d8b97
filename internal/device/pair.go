package device

import (
	"time"

	"go.pairlink.org/internal/capability"
	"go.pairlink.org/internal/notify"
	"go.pairlink.org/internal/packet"
)

func pairPacket(pair bool) *packet.Packet {
	return packet.New(TypePair).
		Set("pair", pair).
		Set("timestamp", time.Now().Unix()).
		MustFinish()
}

// Pair asks the remote device to pair, or accepts its pending request.
func (s *Session) Pair() error {
	var err error
	if !s.seq.invoke(func() { err = s.pair() }) {
		return ErrClosed
	}
	return err
}

func (s *Session) pair() error {
	state := s.State()
	switch {
	case !state.Connected:
		return ErrNotConnected
	case state.Paired:
		return nil
	case s.PairRequested():
		s.QueuePacket(pairPacket(true))
		s.setPaired(true)
		return nil
	}
	s.loggerInfo.Printf("requesting pairing")
	s.pairOutgoing = true
	s.QueuePacket(pairPacket(true))
	s.startPairTimer()
	return nil
}

// Unpair forgets the pairing on both sides. It also rejects a pending
// request of the remote device.
func (s *Session) Unpair() error {
	if !s.seq.invoke(func() {
		if s.State().Connected {
			s.QueuePacket(pairPacket(false))
		}
		s.cancelPairRequests()
		s.setPaired(false)
	}) {
		return ErrClosed
	}
	return nil
}

func (s *Session) handlePair(p *packet.Packet) {
	pair, err := p.GetBool("pair")
	if err != nil {
		s.loggerInfo.Printf("warning: dropping %s: %s", p, err)
		return
	}
	paired := s.State().Paired
	switch {
	case !pair:
		if paired || s.pairOutgoing || s.PairRequested() {
			s.loggerInfo.Printf("pairing rejected or revoked by device")
		}
		s.cancelPairRequests()
		s.setPaired(false)
	case paired:
		// the device forgot the pairing, confirm it again
		s.QueuePacket(pairPacket(true))
	case s.pairOutgoing:
		s.cancelPairRequests()
		s.setPaired(true)
	default:
		s.loggerInfo.Printf("device requests pairing")
		s.mu.Lock()
		s.pairRequested = true
		s.mu.Unlock()
		s.startPairTimer()
		s.showNotification("pair", "request", notify.Notification{
			Title: "Pairing request from " + s.Name(),
			Body:  "Accept or reject the request from the device menu.",
			Icon:  "dialog-password-symbolic",
		})
	}
}

func (s *Session) setPaired(paired bool) {
	if s.State().Paired == paired {
		return
	}
	s.cancelPairRequests()
	s.record.Paired = paired
	s.saveRecord()
	if paired {
		s.loggerInfo.Printf("paired")
	} else {
		s.loggerInfo.Printf("unpaired")
	}
	s.transition(capability.State{Connected: s.State().Connected, Paired: paired})
}

func (s *Session) startPairTimer() {
	s.stopPairTimer()
	gen := s.pairGen
	s.pairTimer = time.AfterFunc(pairTimeout, func() {
		s.seq.post(func() {
			if s.pairGen != gen {
				return
			}
			s.loggerInfo.Printf("pairing timed out")
			s.cancelPairRequests()
		})
	})
}

func (s *Session) stopPairTimer() {
	s.pairGen++
	if s.pairTimer != nil {
		s.pairTimer.Stop()
		s.pairTimer = nil
	}
}

// cancelPairRequests clears pending requests in both directions.
func (s *Session) cancelPairRequests() {
	s.stopPairTimer()
	s.pairOutgoing = false
	s.mu.Lock()
	requested := s.pairRequested
	s.pairRequested = false
	s.mu.Unlock()
	if requested {
		s.hideNotification("pair", "request")
	}
}
