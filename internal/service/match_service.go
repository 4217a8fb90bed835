package service

import (
	"context"

	"github.com/spec-kit/matchbot/internal/domain"
	"github.com/spec-kit/matchbot/internal/matching"
	"github.com/spec-kit/matchbot/internal/repository"
	"github.com/spec-kit/matchbot/internal/rules"
)

// MatchService loads a candidate snapshot and ranks it.
type MatchService struct {
	profiles repository.ProfileRepository
	engine   *matching.Engine
	rules    *rules.Rules
	limit    int
}

// MatchDependencies bundles collaborators for the match service.
type MatchDependencies struct {
	ProfileRepo repository.ProfileRepository
	Engine      *matching.Engine
	Rules       *rules.Rules
	Limit       int
}

// NewMatchService constructs the service.
func NewMatchService(deps MatchDependencies) *MatchService {
	limit := deps.Limit
	if limit <= 0 {
		limit = matching.DefaultLimit
	}
	return &MatchService{
		profiles: deps.ProfileRepo,
		engine:   deps.Engine,
		rules:    deps.Rules,
		limit:    limit,
	}
}

// FindFor returns the ranked mutual matches for a user's profile. Profiles that
// have not passed the pivot never match.
func (s *MatchService) FindFor(ctx context.Context, user *domain.User, profile *domain.Profile) (domain.MatchResult, error) {
	if user == nil || profile == nil {
		return domain.MatchResult{}, nil
	}
	seeker := matching.Project(user, profile)
	intents := s.rules.CompatibleWith(seeker.Intent)
	if len(intents) == 0 || seeker.AgeMin == 0 || seeker.AgeMax == 0 {
		return domain.MatchResult{}, nil
	}

	pool, err := s.profiles.ListCandidates(ctx, repository.CandidateFilter{
		ExcludeUserID: user.ID,
		Intents:       intents,
		Age:           seeker.Age,
		AgeMin:        seeker.AgeMin,
		AgeMax:        seeker.AgeMax,
	})
	if err != nil {
		return domain.MatchResult{}, err
	}
	return s.engine.Rank(seeker, pool, s.limit), nil
}

// Revealed loads the candidates recorded at the last preview, dropping any whose
// profile no longer exists or was reset since.
func (s *MatchService) Revealed(ctx context.Context, profile *domain.Profile) (domain.MatchResult, error) {
	if profile == nil || len(profile.MatchIDs) == 0 {
		return domain.MatchResult{}, nil
	}
	candidates, err := s.profiles.GetCandidates(ctx, profile.MatchIDs)
	if err != nil {
		return domain.MatchResult{}, err
	}
	return domain.MatchResult{Candidates: candidates}, nil
}
