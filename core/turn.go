package core

import "time"

// Turn is a single inbound conversation turn as delivered by the chat
// transport. The memory core does not know or care which platform
// produced it.
type Turn struct {
	// Scope identifies the owning user. All memory reads and writes
	// triggered by this turn are partitioned by Scope.
	Scope string

	// Session identifies the conversation (channel, DM thread, ...) the
	// turn belongs to. Used for short-term history, not for long-term
	// memory partitioning.
	Session string

	// Text is the raw turn content.
	Text string

	// Timestamp is when the turn occurred at the source.
	Timestamp time.Time
}

// Message roles for short-term conversation history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in a session's rolling conversation history.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}
