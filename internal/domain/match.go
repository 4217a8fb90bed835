package domain

// Candidate is a transient projection of another user's profile for matching.
type Candidate struct {
	UserID          string
	Name            string
	Age             int
	Location        string
	Intent          Intent
	Gender          Gender
	PreferredGender Gender
	AgeMin          int
	AgeMax          int
	ContactPhone    string
	Picture         string
	Mutual          bool
	SameLocation    bool
}

// MatchResult is an ordered, truncated list of mutual candidates.
type MatchResult struct {
	Candidates    []Candidate
	MoreAvailable bool
}

// Empty reports whether no candidate was found.
func (r MatchResult) Empty() bool {
	return len(r.Candidates) == 0
}
