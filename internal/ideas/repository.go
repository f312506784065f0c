package ideas

import "context"

// Repository persists ideas, stakes, profiles and comments.
//
// ApplyStake is the only write that touches an idea's decay snapshot after
// creation. Implementations must run it as one serialised unit per idea and per
// user: read the snapshot and the user's stakes, check the budget, catch the
// snapshot up to StakeChange.At with the new total, and store stake and
// snapshot together. The returned idea carries the new snapshot and the user's
// stake; StakeOutcome.Previous is the stake it replaced.
type Repository interface {
	CreateIdea(ctx context.Context, idea *Idea) error
	GetIdea(ctx context.Context, id string) (*Idea, error)
	ListIdeas(ctx context.Context, f ListFilter) ([]*Idea, error)
	DeleteIdea(ctx context.Context, id string) error

	ApplyStake(ctx context.Context, change StakeChange) (*StakeOutcome, error)
	UserStakes(ctx context.Context, userID string) (map[string]float64, error)
	StakedIdeas(ctx context.Context, userID string) ([]*Idea, error)
	UsedBudget(ctx context.Context, userID string) (float64, error)

	EnsureProfile(ctx context.Context, userID string) (*Profile, error)
	GetProfileByUsername(ctx context.Context, username string) (*Profile, error)
	UpdateProfile(ctx context.Context, userID, username, bio string) (*Profile, error)

	AddComment(ctx context.Context, c *Comment) error
	GetComment(ctx context.Context, id string) (*Comment, error)
	ListComments(ctx context.Context, ideaID string) ([]*Comment, error)
	DeleteComment(ctx context.Context, id string) error
}
