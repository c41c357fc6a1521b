// Package messaging implements encrypted conversations between portal users.
package messaging

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxContentLength = 4096
	unreadable       = "[Message is corrupted or unreadable]"
)

var (
	ErrConversationNotFound = errors.New("messaging: conversation not found")
	ErrMessageNotFound      = errors.New("messaging: message not found")
	ErrNotParticipant       = errors.New("messaging: user is not a participant in this conversation")
	ErrEmptyContent         = errors.New("messaging: message content cannot be empty")
	ErrContentTooLong       = errors.New("messaging: message content exceeds maximum length of 4096 characters")
	ErrUnknownParticipant   = errors.New("messaging: participant does not exist")
)

type Conversation struct {
	ID           string        `json:"conversationId"`
	Subject      string        `json:"subject"`
	CreatedBy    string        `json:"createdBy"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (c *Conversation) has(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

type Participant struct {
	UserID    string    `json:"userId"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Message carries plaintext Content to callers; the repository only sees ciphertext.
type Message struct {
	ID             string     `json:"messageId"`
	ConversationID string     `json:"conversationId"`
	SenderID       string     `json:"senderId"`
	SenderName     string     `json:"senderName"`
	Content        string     `json:"content"`
	IsEdited       bool       `json:"isEdited"`
	IsDeleted      bool       `json:"-"`
	SentAt         time.Time  `json:"sentAt"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
}

type CreateConversationRequest struct {
	Subject        string   `json:"subject"`
	ParticipantIDs []string `json:"participantIds"`
}

func (r CreateConversationRequest) Validate() map[string]string {
	errs := map[string]string{}
	if n := len(strings.TrimSpace(r.Subject)); n > 255 {
		errs["subject"] = "Subject must not exceed 255 characters"
	}
	if len(r.ParticipantIDs) == 0 {
		errs["participantIds"] = "At least one participant is required"
	}
	if len(errs) == 0 {
		return nil
	}
	return errs
}

type SendRequest struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

type EditRequest struct {
	Content string `json:"content"`
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}
