package domain

import "time"

// EventType represents the type of domain event
type EventType string

// Event types
const (
	EventSearchIssued           EventType = "SearchIssued"
	EventSearchSettled          EventType = "SearchSettled"
	EventSearchFailed           EventType = "SearchFailed"
	EventSearchCleared          EventType = "SearchCleared"
	EventStaleResponseDiscarded EventType = "StaleResponseDiscarded"
	EventRepositoryChanged      EventType = "RepositoryChanged"
	EventError                  EventType = "Error"
	EventConfigLoaded           EventType = "ConfigLoaded"
	EventConfigSaved            EventType = "ConfigSaved"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	Type() EventType
}

// SearchIssuedEvent is emitted when the session sends a query to the backend
type SearchIssuedEvent struct {
	Query      string
	Repository Repository
}

func (e SearchIssuedEvent) Type() EventType { return EventSearchIssued }

// SearchSettledEvent is emitted when the current query's response is applied
type SearchSettledEvent struct {
	Query    string
	Files    int
	Duration time.Duration
}

func (e SearchSettledEvent) Type() EventType { return EventSearchSettled }

// SearchFailedEvent is emitted when the current query fails
type SearchFailedEvent struct {
	Query string
	Err   error
}

func (e SearchFailedEvent) Type() EventType { return EventSearchFailed }

// SearchClearedEvent is emitted when the query text is emptied
type SearchClearedEvent struct{}

func (e SearchClearedEvent) Type() EventType { return EventSearchCleared }

// StaleResponseDiscardedEvent is emitted when a superseded response arrives.
// It is not shown to the user.
type StaleResponseDiscardedEvent struct {
	Query  string
	Failed bool // the discarded response was an error
}

func (e StaleResponseDiscardedEvent) Type() EventType { return EventStaleResponseDiscarded }

// RepositoryChangedEvent is emitted when files in the searched worktree change
type RepositoryChangedEvent struct {
	Paths []string
}

func (e RepositoryChangedEvent) Type() EventType { return EventRepositoryChanged }

// ErrorEvent is emitted when an error occurs
type ErrorEvent struct {
	Message string
	Err     error
}

func (e ErrorEvent) Type() EventType { return EventError }

// ConfigLoadedEvent is emitted when configuration is loaded
type ConfigLoadedEvent struct {
	Path       string
	Repository Repository
}

func (e ConfigLoadedEvent) Type() EventType { return EventConfigLoaded }

// ConfigSavedEvent is emitted when configuration is saved
type ConfigSavedEvent struct {
	Path string
}

func (e ConfigSavedEvent) Type() EventType { return EventConfigSaved }
