package core

import "time"

// Event is the feature-agnostic envelope forwarded to collaborators outside
// a service: realtime streams, webhooks and analytics hooks.
type Event struct {
	Feature Feature   `json:"feature"`
	Type    string    `json:"type"`
	Key     string    `json:"key,omitempty"`
	UserID  UserID    `json:"user_id,omitempty"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload,omitempty"`
}

// NewEvent stamps an envelope with the current UTC time.
func NewEvent(feature Feature, typ string, user UserID, payload any) Event {
	return Event{Feature: feature, Type: typ, UserID: user, Time: time.Now().UTC(), Payload: payload}
}
