package handshake

import (
	"fmt"

	"github.com/srg/ydbolt/internal/ydble"
)

// Stage is the position of a lock/unlock exchange.
type Stage int

const (
	// StageAwaitChallengeAck: challenge request written, waiting for its ack.
	StageAwaitChallengeAck Stage = iota
	// StageAwaitChallenge: waiting for the lock generated challenge.
	StageAwaitChallenge
	// StageAwaitActionAck: action written, waiting for its ack.
	StageAwaitActionAck
	// StageAwaitConfirm: waiting for the operation confirmation.
	StageAwaitConfirm
	// StageDone is terminal.
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageAwaitChallengeAck:
		return "await-challenge-ack"
	case StageAwaitChallenge:
		return "await-challenge"
	case StageAwaitActionAck:
		return "await-action-ack"
	case StageAwaitConfirm:
		return "await-confirm"
	case StageDone:
		return "done"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// step is the outcome of a transition: the next stage and the frames to
// write, in order, before entering it.
type step struct {
	next   Stage
	writes [][]byte
}

// transition consumes one complete frame at a given stage. A frame the stage
// does not expect yields *UnexpectedFrameError.
type transition func(m *Machine, f ydble.Frame) (step, error)

var transitions = map[Stage]transition{
	StageAwaitChallengeAck: (*Machine).onChallengeAck,
	StageAwaitChallenge:    (*Machine).onChallenge,
	StageAwaitActionAck:    (*Machine).onActionAck,
	StageAwaitConfirm:      (*Machine).onConfirm,
}

func (m *Machine) onChallengeAck(f ydble.Frame) (step, error) {
	if f.Flags != ydble.FlagsNotifyAck || f.SeqNo != ydble.SeqChallengeRequest {
		return step{}, m.unexpected(f, "challenge request ack")
	}
	return step{next: StageAwaitChallenge}, nil
}

func (m *Machine) onChallenge(f ydble.Frame) (step, error) {
	if f.Flags != ydble.FlagsNotify {
		return step{}, m.unexpected(f, "challenge notification")
	}
	msg, err := m.codec.ParseL2(f.Payload)
	if err != nil {
		return step{}, err
	}
	if msg.Cmd != ydble.CmdChallenge {
		return step{}, m.unexpected(f, "challenge notification")
	}
	challenge, ok := msg.Get(ydble.TagChallenge)
	if !ok {
		return step{}, m.unexpected(f, "challenge field")
	}

	action, err := m.codec.Action(m.creds.BLEID, m.creds.Token, challenge, m.hctx.Command)
	if err != nil {
		return step{}, &ActionError{Err: err}
	}
	return step{
		next:   StageAwaitActionAck,
		writes: [][]byte{m.codec.Ack(f.SeqNo), action},
	}, nil
}

func (m *Machine) onActionAck(f ydble.Frame) (step, error) {
	if f.Flags != ydble.FlagsNotifyAck || f.SeqNo != ydble.SeqAction {
		return step{}, m.unexpected(f, "action ack")
	}
	return step{next: StageAwaitConfirm}, nil
}

func (m *Machine) onConfirm(f ydble.Frame) (step, error) {
	if f.Flags != ydble.FlagsNotify {
		return step{}, m.unexpected(f, "confirmation")
	}
	msg, err := m.codec.ParseL2(f.Payload)
	if err != nil {
		return step{}, err
	}
	if msg.Cmd != ydble.CmdConfirm {
		return step{}, m.unexpected(f, "confirmation")
	}
	return step{
		next:   StageDone,
		writes: [][]byte{m.codec.Ack(f.SeqNo)},
	}, nil
}

func (m *Machine) unexpected(f ydble.Frame, want string) error {
	return &UnexpectedFrameError{Stage: m.hctx.Stage, Want: want, Frame: f}
}
