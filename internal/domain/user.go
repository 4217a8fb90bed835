package domain

import "time"

// Gender is the declared or derived gender of a user, or a preference over it.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderAny    Gender = "any"
)

// Accepts reports whether a preference admits the given gender.
func (g Gender) Accepts(other Gender) bool {
	if g == GenderAny {
		return true
	}
	return g != "" && g == other
}

// Opposite returns the other binary gender, or GenderAny when unknown.
func (g Gender) Opposite() Gender {
	switch g {
	case GenderMale:
		return GenderFemale
	case GenderFemale:
		return GenderMale
	default:
		return GenderAny
	}
}

// User is the messaging identity of a person talking to the bot.
type User struct {
	ID         string
	Phone      string
	State      ChatState
	Flow       string
	Gender     Gender
	IsUnlocked bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
