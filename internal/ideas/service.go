package ideas

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nidhogg/tenber/internal/events"
	"github.com/nidhogg/tenber/internal/metrics"
	"github.com/nidhogg/tenber/internal/vitality"
	"go.uber.org/zap"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)

const minTitleLen = 3

// Service implements the read and write paths on top of a Repository.
type Service struct {
	repo      Repository
	engine    *vitality.Engine
	budget    float64
	publisher events.Publisher
	metrics   metrics.Recorder
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a service. budget is every user's conviction budget.
func NewService(repo Repository, engine *vitality.Engine, budget float64, logger *zap.Logger) *Service {
	return &Service{
		repo:      repo,
		engine:    engine,
		budget:    budget,
		publisher: events.Nop{},
		metrics:   metrics.Nop{},
		now:       time.Now,
		logger:    logger,
	}
}

// SetPublisher routes change events to p.
func (s *Service) SetPublisher(p events.Publisher) { s.publisher = p }

// SetMetrics routes instrumentation to r.
func (s *Service) SetMetrics(r metrics.Recorder) { s.metrics = r }

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Engine returns the vitality engine shared by all paths.
func (s *Service) Engine() *vitality.Engine { return s.engine }

// Budget returns the per-user conviction budget.
func (s *Service) Budget() float64 { return s.budget }

// refresh derives vitality and status for ideas at a single instant.
func (s *Service) refresh(ctx context.Context, now time.Time, list ...*Idea) {
	for _, idea := range list {
		idea.Vitality = s.engine.Compute(idea.State, now)
		idea.Status = vitality.Classify(idea.Vitality)
		idea.TotalStaked = idea.State.TotalStaked
		s.metrics.RecordTier(ctx, string(idea.Status))
	}
}

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.RecordOperation(ctx, op, status, time.Since(start))
}

func (s *Service) publish(ctx context.Context, ev *events.Event) {
	ev.Timestamp = s.now()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish event failed",
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}

// CreateIdea stores a new idea with the initial burst snapshot.
func (s *Service) CreateIdea(ctx context.Context, userID, title, description, category string) (idea *Idea, err error) {
	defer func(start time.Time) { s.observe(ctx, "create_idea", start, err) }(time.Now())

	if userID == "" {
		return nil, ErrUnauthorized
	}
	title = strings.TrimSpace(title)
	if len([]rune(title)) < minTitleLen {
		return nil, ErrInvalidTitle
	}
	category = strings.TrimSpace(category)
	if category == "" {
		category = DefaultCategory
	}
	profile, err := s.repo.EnsureProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	idea = &Idea{
		Title:       title,
		Description: strings.TrimSpace(description),
		Category:    category,
		AuthorID:    userID,
		Author:      profile.author(),
		CreatedAt:   now,
		State:       s.engine.Initial(now),
	}
	if err := s.repo.CreateIdea(ctx, idea); err != nil {
		return nil, fmt.Errorf("create idea: %w", err)
	}
	s.refresh(ctx, now, idea)

	s.logger.Info("idea kindled",
		zap.String("idea", idea.ID),
		zap.String("author", userID),
		zap.String("category", category))
	s.publish(ctx, &events.Event{
		Kind:   events.IdeaCreated,
		IdeaID: idea.ID,
		UserID: userID,
		Paths:  []string{events.FeedPath},
	})
	return idea, nil
}

// ListIdeas returns ideas ranked by their vitality at the moment of the call.
func (s *Service) ListIdeas(ctx context.Context, f ListFilter) ([]*Idea, error) {
	if strings.EqualFold(f.Category, AllCategories) {
		f.Category = ""
	}
	f.Search = strings.TrimSpace(f.Search)

	list, err := s.repo.ListIdeas(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	if err := s.attachStakes(ctx, f.ViewerID, list); err != nil {
		return nil, err
	}

	s.refresh(ctx, s.now(), list...)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Vitality != list[j].Vitality {
			return list[i].Vitality > list[j].Vitality
		}
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

func (s *Service) attachStakes(ctx context.Context, viewerID string, list []*Idea) error {
	if viewerID == "" || len(list) == 0 {
		return nil
	}
	stakes, err := s.repo.UserStakes(ctx, viewerID)
	if err != nil {
		return fmt.Errorf("viewer stakes: %w", err)
	}
	for _, idea := range list {
		idea.UserStake = stakes[idea.ID]
	}
	return nil
}

// GetIdea returns one idea with fresh vitality and the viewer's stake.
func (s *Service) GetIdea(ctx context.Context, id, viewerID string) (*Idea, error) {
	idea, err := s.repo.GetIdea(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.attachStakes(ctx, viewerID, []*Idea{idea}); err != nil {
		return nil, err
	}
	s.refresh(ctx, s.now(), idea)
	return idea, nil
}

// DeleteIdea removes an idea owned by userID, together with its stakes and comments.
func (s *Service) DeleteIdea(ctx context.Context, userID, id string) (err error) {
	defer func(start time.Time) { s.observe(ctx, "delete_idea", start, err) }(time.Now())

	if userID == "" {
		return ErrUnauthorized
	}
	idea, err := s.repo.GetIdea(ctx, id)
	if err != nil {
		return err
	}
	if idea.AuthorID != userID {
		return ErrForbidden
	}
	if err := s.repo.DeleteIdea(ctx, id); err != nil {
		return fmt.Errorf("delete idea %s: %w", id, err)
	}

	paths := []string{events.FeedPath}
	if idea.Author != nil && idea.Author.Username != "" {
		paths = append(paths, events.UserPath(idea.Author.Username))
	}
	s.logger.Info("idea deleted", zap.String("idea", id), zap.String("user", userID))
	s.publish(ctx, &events.Event{
		Kind:   events.IdeaDeleted,
		IdeaID: id,
		UserID: userID,
		Paths:  paths,
	})
	return nil
}

// Stake sets userID's stake on an idea to amount. The repository catches the
// idea's snapshot up to now before the new total takes effect.
func (s *Service) Stake(ctx context.Context, userID, ideaID string, amount float64) (res *StakeResult, err error) {
	defer func(start time.Time) { s.observe(ctx, "stake", start, err) }(time.Now())

	if userID == "" {
		return nil, ErrUnauthorized
	}
	if err := ValidateAmount(amount, s.budget); err != nil {
		return nil, err
	}
	if _, err := s.repo.EnsureProfile(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now()
	out, err := s.repo.ApplyStake(ctx, StakeChange{
		IdeaID: ideaID,
		UserID: userID,
		Amount: amount,
		Budget: s.budget,
		At:     now,
	})
	if err != nil {
		return nil, err
	}
	idea := out.Idea
	s.refresh(ctx, now, idea)
	s.metrics.RecordStake(ctx, amount-out.Previous)

	remaining, err := s.RemainingBudget(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("stake applied",
		zap.String("idea", ideaID),
		zap.String("user", userID),
		zap.Float64("amount", amount),
		zap.Float64("total_staked", idea.TotalStaked),
		zap.Float64("vitality", idea.Vitality))
	s.publish(ctx, &events.Event{
		Kind:   events.IdeaStaked,
		IdeaID: ideaID,
		UserID: userID,
		Paths:  []string{events.FeedPath, events.IdeaPath(ideaID)},
		Data: map[string]string{
			"amount":       strconv.FormatFloat(amount, 'f', -1, 64),
			"total_staked": strconv.FormatFloat(idea.TotalStaked, 'f', -1, 64),
		},
	})
	return &StakeResult{Idea: idea, RemainingBudget: remaining}, nil
}

// RemainingBudget returns how much conviction userID can still allocate.
func (s *Service) RemainingBudget(ctx context.Context, userID string) (float64, error) {
	if userID == "" {
		return 0, nil
	}
	used, err := s.repo.UsedBudget(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("used budget: %w", err)
	}
	if rem := s.budget - used; rem > 0 {
		return rem, nil
	}
	return 0, nil
}

// UserPage returns a profile and the ideas its owner backs, largest stake first.
func (s *Service) UserPage(ctx context.Context, username string) (*UserPage, error) {
	profile, err := s.repo.GetProfileByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	staked, err := s.repo.StakedIdeas(ctx, profile.ID)
	if err != nil {
		return nil, fmt.Errorf("staked ideas: %w", err)
	}
	s.refresh(ctx, s.now(), staked...)
	sort.SliceStable(staked, func(i, j int) bool {
		if staked[i].UserStake != staked[j].UserStake {
			return staked[i].UserStake > staked[j].UserStake
		}
		return staked[i].ID < staked[j].ID
	})
	return &UserPage{Profile: profile, Staked: staked}, nil
}

// Me returns the caller's own profile, creating an empty one on first use.
func (s *Service) Me(ctx context.Context, userID string) (*Profile, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	return s.repo.EnsureProfile(ctx, userID)
}

// UpdateProfile changes the caller's username and bio.
func (s *Service) UpdateProfile(ctx context.Context, userID, username, bio string) (p *Profile, err error) {
	defer func(start time.Time) { s.observe(ctx, "update_profile", start, err) }(time.Now())

	if userID == "" {
		return nil, ErrUnauthorized
	}
	if !usernameRe.MatchString(username) {
		return nil, ErrInvalidUsername
	}
	if _, err := s.repo.EnsureProfile(ctx, userID); err != nil {
		return nil, err
	}
	p, err = s.repo.UpdateProfile(ctx, userID, username, strings.TrimSpace(bio))
	if err != nil {
		return nil, err
	}
	s.publish(ctx, &events.Event{
		Kind:   events.ProfileUpdated,
		UserID: userID,
		Paths:  []string{events.UserPath(username)},
	})
	return p, nil
}

// AddComment posts a comment, optionally as a reply to parentID.
func (s *Service) AddComment(ctx context.Context, userID, ideaID, content, parentID string) (c *Comment, err error) {
	defer func(start time.Time) { s.observe(ctx, "add_comment", start, err) }(time.Now())

	if userID == "" {
		return nil, ErrUnauthorized
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyComment
	}
	if _, err := s.repo.GetIdea(ctx, ideaID); err != nil {
		return nil, err
	}
	profile, err := s.repo.EnsureProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	c = &Comment{
		IdeaID:    ideaID,
		AuthorID:  userID,
		Content:   content,
		CreatedAt: s.now(),
		Author:    profile.author(),
	}
	if parentID != "" {
		parent, err := s.repo.GetComment(ctx, parentID)
		if err != nil {
			return nil, err
		}
		if parent.IdeaID != ideaID {
			return nil, ErrInvalidParent
		}
		c.ParentID = &parentID
	}
	if err := s.repo.AddComment(ctx, c); err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	s.publish(ctx, &events.Event{
		Kind:   events.CommentAdded,
		IdeaID: ideaID,
		UserID: userID,
		Paths:  []string{events.IdeaPath(ideaID)},
	})
	return c, nil
}

// Comments lists an idea's comments, oldest first.
func (s *Service) Comments(ctx context.Context, ideaID string) ([]*Comment, error) {
	list, err := s.repo.ListComments(ctx, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	for _, c := range list {
		if c.Author == nil || c.Author.Username == "" {
			c.Author = &Author{Username: "Unknown"}
		}
	}
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// DeleteComment removes a comment written by userID.
func (s *Service) DeleteComment(ctx context.Context, userID, commentID string) (err error) {
	defer func(start time.Time) { s.observe(ctx, "delete_comment", start, err) }(time.Now())

	if userID == "" {
		return ErrUnauthorized
	}
	c, err := s.repo.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if c.AuthorID != userID {
		return ErrForbidden
	}
	if err := s.repo.DeleteComment(ctx, commentID); err != nil {
		return fmt.Errorf("delete comment %s: %w", commentID, err)
	}
	s.publish(ctx, &events.Event{
		Kind:   events.CommentDeleted,
		IdeaID: c.IdeaID,
		UserID: userID,
		Paths:  []string{events.IdeaPath(c.IdeaID)},
	})
	return nil
}

// IsClientError reports whether err stems from invalid caller input.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidTitle, ErrInvalidAmount, ErrInvalidUsername, ErrEmptyComment, ErrInvalidParent,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
