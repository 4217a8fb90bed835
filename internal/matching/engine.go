// Package matching implements mutual-compatibility filtering and ranking over
// a snapshot of candidate profiles. It holds no state besides its shuffler.
package matching

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/rules"
)

// DefaultLimit is used when a caller passes a non-positive limit.
const DefaultLimit = 3

// Engine filters and ranks candidates under the loaded compatibility rules.
type Engine struct {
	rules *rules.Rules

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine builds an engine seeded from the clock.
func NewEngine(r *rules.Rules) *Engine {
	return NewSeededEngine(r, time.Now().UnixNano())
}

// NewSeededEngine builds an engine with a fixed shuffle seed.
func NewSeededEngine(r *rules.Rules, seed int64) *Engine {
	return &Engine{rules: r, rng: rand.New(rand.NewSource(seed))}
}

// Project turns a user and profile into the form the engine compares.
func Project(u *domain.User, p *domain.Profile) domain.Candidate {
	c := domain.Candidate{}
	if u != nil {
		c.UserID = u.ID
		c.Gender = u.Gender
	}
	if p != nil {
		c.Name = p.Name
		c.Age = p.Age
		c.Location = p.Location
		c.Intent = p.Intent
		c.PreferredGender = p.PreferredGender
		c.AgeMin = p.AgeMin
		c.AgeMax = p.AgeMax
		c.ContactPhone = p.ContactPhone
		c.Picture = p.Picture
	}
	return c
}

// Mutual reports whether a and b admit each other. It is symmetric in its arguments.
func (e *Engine) Mutual(a, b domain.Candidate) bool {
	if a.UserID == "" || a.UserID == b.UserID {
		return false
	}
	if !e.rules.Compatible(a.Intent, b.Intent) {
		return false
	}
	if !inRange(b.Age, a.AgeMin, a.AgeMax) || !inRange(a.Age, b.AgeMin, b.AgeMax) {
		return false
	}
	return a.PreferredGender.Accepts(b.Gender) && b.PreferredGender.Accepts(a.Gender)
}

// Rank returns up to limit mutual candidates for seeker. Same-location candidates
// come first; order within each tier is shuffled.
func (e *Engine) Rank(seeker domain.Candidate, pool []domain.Candidate, limit int) domain.MatchResult {
	if limit <= 0 {
		limit = DefaultLimit
	}

	var near, far []domain.Candidate
	for _, c := range pool {
		if !e.Mutual(seeker, c) {
			continue
		}
		c.Mutual = true
		c.SameLocation = SameLocation(seeker.Location, c.Location)
		if c.SameLocation {
			near = append(near, c)
		} else {
			far = append(far, c)
		}
	}

	e.shuffle(near)
	e.shuffle(far)

	ranked := append(near, far...)
	result := domain.MatchResult{MoreAvailable: len(ranked) > limit}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	result.Candidates = ranked
	return result
}

func (e *Engine) shuffle(cs []domain.Candidate) {
	if len(cs) < 2 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rng.Shuffle(len(cs), func(i, j int) { cs[i], cs[j] = cs[j], cs[i] })
}

// SameLocation compares free-text locations case-insensitively, accepting substring
// matches so "Harare" and "Avondale, Harare" rank together.
func SameLocation(a, b string) bool {
	a = normalizeLocation(a)
	b = normalizeLocation(b)
	if a == "" || b == "" {
		return false
	}
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

func normalizeLocation(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func inRange(age, lo, hi int) bool {
	if lo == 0 || hi == 0 {
		return false
	}
	return age >= lo && age <= hi
}
