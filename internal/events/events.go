// Package events announces writes to downstream consumers (feed renderers, caches).
package events

import (
	"context"
	"time"
)

// Kind names a change.
type Kind string

const (
	IdeaCreated    Kind = "idea.created"
	IdeaDeleted    Kind = "idea.deleted"
	IdeaStaked     Kind = "idea.staked"
	CommentAdded   Kind = "comment.added"
	CommentDeleted Kind = "comment.deleted"
	ProfileUpdated Kind = "profile.updated"
)

// Event describes one committed write. Paths lists the rendered views that are stale.
type Event struct {
	ID        string            `json:"id"`
	Kind      Kind              `json:"kind"`
	IdeaID    string            `json:"idea_id,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	Paths     []string          `json:"paths,omitempty"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Publisher sends events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev *Event) error
}

// Nop drops every event. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, *Event) error { return nil }

// FeedPath is the path of the ranked idea list.
const FeedPath = "/"

// IdeaPath returns the detail path of an idea.
func IdeaPath(id string) string { return "/i/" + id }

// UserPath returns the profile path of a user.
func UserPath(username string) string { return "/u/" + username }
