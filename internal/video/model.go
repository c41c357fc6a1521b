// Package video manages consultation sessions for virtual appointments and
// relays WebRTC signalling between the two sides of a call.
package video

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("video: session not found")
	ErrNotVirtual      = errors.New("video: appointment is not virtual")
	ErrSessionEnded    = errors.New("video: session has ended")
	ErrNotHost         = errors.New("video: only the host can end the session")
)

type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

type Role string

const (
	RoleHost        Role = "host"
	RoleParticipant Role = "participant"
)

type Session struct {
	ID            string     `json:"sessionId"`
	AppointmentID string     `json:"appointmentId"`
	MeetingRoomID string     `json:"meetingRoomId"`
	Status        Status     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
}

type Participant struct {
	SessionID string     `json:"sessionId"`
	UserID    string     `json:"userId"`
	Role      Role       `json:"role"`
	JoinedAt  time.Time  `json:"joinedAt"`
	LeftAt    *time.Time `json:"leftAt,omitempty"`
}

type ICEServer struct {
	URLs []string `json:"urls"`
}

// SessionInfo is what a client needs to open a peer connection.
type SessionInfo struct {
	SessionID     string      `json:"sessionId"`
	MeetingRoomID string      `json:"meetingRoomId"`
	Status        Status      `json:"status"`
	Role          Role        `json:"role,omitempty"`
	ICEServers    []ICEServer `json:"iceServers"`
}
