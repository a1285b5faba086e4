package ui

import (
	"srcgrep/internal/eventbus"
	"srcgrep/internal/session"
)

// EventMsg wraps a domain event for the UI
type EventMsg struct {
	Event eventbus.DomainEvent
}

// debounceMsg fires once typing pauses. Only the tick carrying the latest
// sequence number is acted on.
type debounceMsg struct {
	seq  int
	text string
}

// searchResultMsg carries a finished request back into the update loop
type searchResultMsg struct {
	completion session.Completion
}

// pagerMsg contains the result of a pager command
type pagerMsg struct {
	path string
	err  error
}
