package model

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is a line within the chat log.
type ChatMessage struct {
	Role Role
	Text string
	Time time.Time
}

type SessionState int

const (
	Idle SessionState = iota
	Recording
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

type ConnectionState int

const (
	Closed ConnectionState = iota
	Open
	Error
)

func (s ConnectionState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the user-visible session status.
type Status struct {
	State SessionState
	Text  string
	Err   error
}
