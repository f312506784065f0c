package ideas

import (
	"errors"
	"time"

	"github.com/nidhogg/tenber/internal/vitality"
)

// DefaultCategory is used when an idea is created without one.
const DefaultCategory = "Random"

// AllCategories disables the category filter.
const AllCategories = "All"

var (
	ErrNotFound        = errors.New("not found")
	ErrUnauthorized    = errors.New("authentication required")
	ErrForbidden       = errors.New("not allowed")
	ErrInvalidTitle    = errors.New("title must be at least 3 characters")
	ErrInvalidAmount   = errors.New("stake amount out of range")
	ErrOverBudget      = errors.New("stake exceeds remaining conviction budget")
	ErrInvalidUsername = errors.New("username must be 3-20 characters, alphanumeric or underscores")
	ErrUsernameTaken   = errors.New("username already taken")
	ErrEmptyComment    = errors.New("comment cannot be empty")
	ErrInvalidParent   = errors.New("parent comment belongs to another idea")
)

// Author is the public face of a user attached to ideas and comments.
type Author struct {
	Username  string `json:"username"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Idea is the read model. Vitality and Status are derived from State at read time.
type Idea struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Category    string              `json:"category"`
	AuthorID    string              `json:"author_id"`
	Author      *Author             `json:"author,omitempty"`
	Vitality    float64             `json:"vitality"`
	Status      vitality.Tier       `json:"status"`
	TotalStaked float64             `json:"total_staked"`
	UserStake   float64             `json:"user_stake"`
	CreatedAt   time.Time           `json:"created_at"`
	State       vitality.DecayState `json:"-"`
}

// Profile is a user's public profile.
type Profile struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	Bio        string    `json:"bio"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
	Reputation int       `json:"reputation"`
	CreatedAt  time.Time `json:"created_at"`
}

func (p *Profile) author() *Author {
	return &Author{Username: p.Username, AvatarURL: p.AvatarURL}
}

// Comment belongs to an idea and optionally replies to another comment.
type Comment struct {
	ID        string    `json:"id"`
	IdeaID    string    `json:"idea_id"`
	AuthorID  string    `json:"author_id"`
	ParentID  *string   `json:"parent_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Author    *Author   `json:"author"`
}

// ListFilter narrows ListIdeas. ViewerID, when set, attaches the viewer's stakes.
type ListFilter struct {
	Category string
	Search   string
	ViewerID string
}

// StakeChange asks a repository to set UserID's stake on IdeaID to Amount.
type StakeChange struct {
	IdeaID string
	UserID string
	Amount float64
	Budget float64
	At     time.Time
}

// StakeOutcome is what a repository reports after ApplyStake.
type StakeOutcome struct {
	Idea     *Idea
	Previous float64
}

// StakeResult is returned to the staking user.
type StakeResult struct {
	Idea            *Idea   `json:"idea"`
	RemainingBudget float64 `json:"budget"`
}

// UserPage is a profile together with the ideas the user backs.
type UserPage struct {
	Profile *Profile `json:"profile"`
	Staked  []*Idea  `json:"staked"`
}
