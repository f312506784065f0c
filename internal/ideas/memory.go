package ideas

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/tenber/internal/vitality"
)

// MemoryRepository keeps everything in process memory. A single mutex
// serialises ApplyStake, which is enough for one process.
type MemoryRepository struct {
	engine   *vitality.Engine
	ideas    map[string]*Idea
	stakes   map[string]map[string]float64 // userID -> ideaID -> amount
	profiles map[string]*Profile
	comments map[string]*Comment
	mu       sync.Mutex
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository(engine *vitality.Engine) *MemoryRepository {
	return &MemoryRepository{
		engine:   engine,
		ideas:    make(map[string]*Idea),
		stakes:   make(map[string]map[string]float64),
		profiles: make(map[string]*Profile),
		comments: make(map[string]*Comment),
	}
}

// copyIdea returns a detached copy with the author resolved (caller holds lock).
func (m *MemoryRepository) copyIdea(i *Idea) *Idea {
	cp := *i
	cp.Author = nil
	if p, ok := m.profiles[i.AuthorID]; ok {
		cp.Author = p.author()
	}
	return &cp
}

// CreateIdea stores a copy of idea, assigning an ID when empty.
func (m *MemoryRepository) CreateIdea(_ context.Context, idea *Idea) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idea.ID == "" {
		idea.ID = uuid.New().String()
	}
	cp := *idea
	m.ideas[idea.ID] = &cp
	return nil
}

// GetIdea retrieves a single idea by ID.
func (m *MemoryRepository) GetIdea(_ context.Context, id string) (*Idea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.ideas[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyIdea(i), nil
}

// ListIdeas returns ideas matching f in no particular order.
func (m *MemoryRepository) ListIdeas(_ context.Context, f ListFilter) ([]*Idea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	term := strings.ToLower(f.Search)
	out := make([]*Idea, 0, len(m.ideas))
	for _, i := range m.ideas {
		if f.Category != "" && i.Category != f.Category {
			continue
		}
		if term != "" &&
			!strings.Contains(strings.ToLower(i.Title), term) &&
			!strings.Contains(strings.ToLower(i.Description), term) {
			continue
		}
		out = append(out, m.copyIdea(i))
	}
	return out, nil
}

// DeleteIdea removes an idea with its stakes and comments.
func (m *MemoryRepository) DeleteIdea(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ideas[id]; !ok {
		return ErrNotFound
	}
	delete(m.ideas, id)
	for _, byIdea := range m.stakes {
		delete(byIdea, id)
	}
	for cid, c := range m.comments {
		if c.IdeaID == id {
			delete(m.comments, cid)
		}
	}
	return nil
}

// ApplyStake catches the idea up and records the new stake under the lock.
func (m *MemoryRepository) ApplyStake(_ context.Context, c StakeChange) (*StakeOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idea, ok := m.ideas[c.IdeaID]
	if !ok {
		return nil, ErrNotFound
	}
	byIdea := m.stakes[c.UserID]
	old := byIdea[c.IdeaID]
	var used float64
	for _, amt := range byIdea {
		used += amt
	}

	next, err := PlanStake(m.engine, idea.State, old, used, c)
	if err != nil {
		return nil, err
	}
	if byIdea == nil {
		byIdea = make(map[string]float64)
		m.stakes[c.UserID] = byIdea
	}
	if c.Amount > 0 {
		byIdea[c.IdeaID] = c.Amount
	} else {
		delete(byIdea, c.IdeaID)
	}
	idea.State = next

	out := m.copyIdea(idea)
	out.UserStake = c.Amount
	return &StakeOutcome{Idea: out, Previous: old}, nil
}

// UserStakes maps idea ID to the user's stake on it.
func (m *MemoryRepository) UserStakes(_ context.Context, userID string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.stakes[userID]))
	for id, amt := range m.stakes[userID] {
		out[id] = amt
	}
	return out, nil
}

// StakedIdeas returns the ideas userID backs.
func (m *MemoryRepository) StakedIdeas(_ context.Context, userID string) ([]*Idea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Idea
	for id, amt := range m.stakes[userID] {
		i, ok := m.ideas[id]
		if !ok || amt <= 0 {
			continue
		}
		cp := m.copyIdea(i)
		cp.UserStake = amt
		out = append(out, cp)
	}
	return out, nil
}

// UsedBudget sums the user's stakes.
func (m *MemoryRepository) UsedBudget(_ context.Context, userID string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var used float64
	for _, amt := range m.stakes[userID] {
		used += amt
	}
	return used, nil
}

// EnsureProfile returns the user's profile, creating an empty one if needed.
func (m *MemoryRepository) EnsureProfile(_ context.Context, userID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		p = &Profile{ID: userID, CreatedAt: time.Now()}
		m.profiles[userID] = p
	}
	cp := *p
	return &cp, nil
}

// GetProfileByUsername looks up a profile by its unique username.
func (m *MemoryRepository) GetProfileByUsername(_ context.Context, username string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.profiles {
		if p.Username != "" && p.Username == username {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateProfile sets username and bio. A username held by another user is ErrUsernameTaken.
func (m *MemoryRepository) UpdateProfile(_ context.Context, userID, username, bio string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	for id, other := range m.profiles {
		if id != userID && other.Username == username {
			return nil, ErrUsernameTaken
		}
	}
	p.Username = username
	p.Bio = bio
	cp := *p
	return &cp, nil
}

// AddComment stores a comment. A missing idea is ErrNotFound.
func (m *MemoryRepository) AddComment(_ context.Context, c *Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ideas[c.IdeaID]; !ok {
		return ErrNotFound
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	cp := *c
	m.comments[c.ID] = &cp
	return nil
}

// GetComment retrieves a comment by ID.
func (m *MemoryRepository) GetComment(_ context.Context, id string) (*Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comments[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyComment(c), nil
}

// ListComments returns an idea's comments.
func (m *MemoryRepository) ListComments(_ context.Context, ideaID string) ([]*Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Comment
	for _, c := range m.comments {
		if c.IdeaID == ideaID {
			out = append(out, m.copyComment(c))
		}
	}
	return out, nil
}

func (m *MemoryRepository) copyComment(c *Comment) *Comment {
	cp := *c
	cp.Author = nil
	if p, ok := m.profiles[c.AuthorID]; ok {
		cp.Author = p.author()
	}
	return &cp
}

// DeleteComment removes a comment and its replies.
func (m *MemoryRepository) DeleteComment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[id]; !ok {
		return ErrNotFound
	}
	// replies go with their parent
	pending := []string{id}
	for len(pending) > 0 {
		cur := pending[0]
		pending = pending[1:]
		delete(m.comments, cur)
		for cid, c := range m.comments {
			if c.ParentID != nil && *c.ParentID == cur {
				pending = append(pending, cid)
			}
		}
	}
	return nil
}
