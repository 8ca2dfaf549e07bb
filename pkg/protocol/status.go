package protocol

import "github.com/aretw0/parley/pkg/domain"

// deriveStatus recomputes the lifecycle status from the sequencing state.
// Every input it reads only grows, so the resulting status never moves backwards.
func deriveStatus(s *domain.SessionState) domain.SessionStatus {
	if s.Status == domain.StatusError || s.Status == domain.StatusClosed {
		return s.Status
	}

	if !confirmed(s) {
		return domain.StatusCreated
	}

	localClose := s.SendState.CloseSequenceNumber != 0
	remoteClose := s.ReceiveState.CloseSequenceNumber != 0
	remoteCloseConsumed := remoteClose &&
		s.ReceiveState.LastProcessedSequenceNumber >= s.ReceiveState.CloseSequenceNumber

	switch {
	case !localClose && !remoteClose:
		return domain.StatusConfirmed
	case localClose && remoteCloseConsumed:
		if len(s.SendState.UndeliveredMessages) > 0 {
			return domain.StatusWaitForFinalAck
		}
		return domain.StatusClosed
	default:
		return domain.StatusClosing
	}
}

// confirmed reports whether both sides have processed the Init.
// The initiator knows once its Init is acknowledged; the responder once it consumed it.
func confirmed(s *domain.SessionState) bool {
	if s.Initiator {
		return s.SendState.LastProcessedSequenceNumber >= 1
	}
	return s.ReceiveState.LastProcessedSequenceNumber >= 1
}
