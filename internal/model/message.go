package model

import "time"

// Message is one inbound email as seen by the intake.
type Message struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	From    string    `json:"from"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
	// ReadError is set by sources that could not decode the message. Such
	// a unit fails without reaching the store.
	ReadError string `json:"read_error,omitempty"`
}

// Group is an ordered set of messages, typically one mail thread.
type Group struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
}
