package app

import (
	"github.com/dkeye/signalrelay/internal/config"
	"github.com/dkeye/signalrelay/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	ClosePeer
)

// Policy decides what happens to a peer whose send queue is full.
type Policy interface {
	OnBackPressure(s domain.SessionID, slow *Connection) BackpressureAction
}

// SimplePolicy evicts the slow peer, which ends its session.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.SessionID, *Connection) BackpressureAction {
	return ClosePeer
}

// DropPolicy discards the frame and keeps the session.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.SessionID, *Connection) BackpressureAction {
	return DropFrame
}

func PolicyFor(name string) Policy {
	if name == config.BackpressureDrop {
		return DropPolicy{}
	}
	return SimplePolicy{}
}
