package conversation

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minAge = 18
	maxAge = 99

	minNameLen     = 2
	maxNameLen     = 40
	minLocationLen = 2
	maxLocationLen = 60
)

// command returns the upper-cased, trimmed input for command comparison.
func command(text string) string {
	return strings.ToUpper(strings.TrimSpace(text))
}

// choose resolves a menu reply to a zero-based option index. It accepts the option
// number ("2", "2.", "2)") or the option label, case-insensitively.
func choose(input string, labels []string) (int, bool) {
	in := strings.TrimSpace(input)
	in = strings.TrimRight(in, ".)")
	if n, err := strconv.Atoi(in); err == nil {
		if n >= 1 && n <= len(labels) {
			return n - 1, true
		}
		return 0, false
	}
	for i, label := range labels {
		if strings.EqualFold(in, label) {
			return i, true
		}
	}
	return 0, false
}

// parseAge accepts a plain integer age.
func parseAge(input string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, false
	}
	return n, true
}

// cleanName collapses whitespace and checks the name is plausible.
func cleanName(input string) (string, bool) {
	name := strings.Join(strings.Fields(input), " ")
	n := utf8.RuneCountInString(name)
	if n < minNameLen || n > maxNameLen || !hasLetter(name) {
		return "", false
	}
	for _, r := range name {
		if unicode.IsDigit(r) {
			return "", false
		}
	}
	return name, true
}

// cleanLocation collapses whitespace and title-cases each word.
func cleanLocation(input string) (string, bool) {
	words := strings.Fields(input)
	loc := strings.Join(words, " ")
	n := utf8.RuneCountInString(loc)
	if n < minLocationLen || n > maxLocationLen || !hasLetter(loc) {
		return "", false
	}
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " "), true
}

// validEmail is a shape check only; the provider performs real validation.
func validEmail(input string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(input))
	at := strings.LastIndex(email, "@")
	if at < 1 || at == len(email)-1 || strings.ContainsAny(email, " ,;") {
		return "", false
	}
	domain := email[at+1:]
	dot := strings.LastIndex(domain, ".")
	if dot < 1 || dot == len(domain)-1 {
		return "", false
	}
	return email, true
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
