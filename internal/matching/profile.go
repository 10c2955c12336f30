// Package matching implements the matchmaking core: profile compatibility
// scoring, symmetric filter checks, the FIFO waiting queue, and the shared
// anime universe computed for each matched pair.
package matching

import "strings"

// Profile is the public display profile attached to a session at matching
// time. It originates from the external profile service and is treated as
// read-only by the matcher.
type Profile struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Picture            string   `json:"picture,omitempty"`
	Bio                string   `json:"bio,omitempty"`
	Gender             string   `json:"gender,omitempty"` // "male" or "female"
	Age                int      `json:"age,omitempty"`
	Location           string   `json:"location,omitempty"`
	Premium            bool     `json:"premium,omitempty"`
	FavoriteAnime      []string `json:"favorite_anime"`
	FavoriteGenres     []string `json:"favorite_genres"`
	FavoriteThemes     []string `json:"favorite_themes"`
	FavoriteCharacters []string `json:"favorite_characters"`
}

// Interests returns the union of the profile's anime, genres, and themes,
// lowercased for case-insensitive tag matching.
func (p Profile) Interests() map[string]bool {
	set := make(map[string]bool, len(p.FavoriteAnime)+len(p.FavoriteGenres)+len(p.FavoriteThemes))
	for _, list := range [][]string{p.FavoriteAnime, p.FavoriteGenres, p.FavoriteThemes} {
		for _, tag := range list {
			set[strings.ToLower(tag)] = true
		}
	}
	return set
}

// Filter holds the criteria a waiting user applies to potential partners.
// A Filter is attached to a queue entry when the user joins matching and is
// immutable for the life of that entry.
type Filter struct {
	GenderPreference string   `json:"gender_preference,omitempty"` // "", "any", "male", "female"
	MinAge           int      `json:"min_age,omitempty"`
	MaxAge           int      `json:"max_age,omitempty"`
	Location         string   `json:"location,omitempty"` // case-insensitive substring
	InterestTags     []string `json:"interest_tags,omitempty"`
	MinCompatibility int      `json:"min_compatibility,omitempty"`
}

// Accepts reports whether the candidate profile satisfies this filter's
// gender, age, location, and interest-tag criteria. The compatibility
// minimum is checked separately by Compatible since the score depends on
// both profiles.
func (f Filter) Accepts(p Profile) bool {
	if f.GenderPreference != "" && f.GenderPreference != "any" && p.Gender != f.GenderPreference {
		return false
	}
	if f.MinAge > 0 && p.Age < f.MinAge {
		return false
	}
	if f.MaxAge > 0 && p.Age > f.MaxAge {
		return false
	}
	if f.Location != "" && !strings.Contains(strings.ToLower(p.Location), strings.ToLower(f.Location)) {
		return false
	}
	if len(f.InterestTags) > 0 {
		interests := p.Interests()
		found := false
		for _, tag := range f.InterestTags {
			if interests[strings.ToLower(tag)] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Compatibility weights. Shared favorite anime count the most, characters
// the least; the total is capped at 100.
const (
	animeWeight     = 10
	genreWeight     = 5
	themeWeight     = 4
	characterWeight = 2
	maxScore        = 100
)

// Compatibility computes the 0-100 compatibility score between two profiles
// from their shared anime, genres, themes, and characters.
func Compatibility(a, b Profile) int {
	score := len(intersect(a.FavoriteAnime, b.FavoriteAnime)) * animeWeight
	score += len(intersect(a.FavoriteGenres, b.FavoriteGenres)) * genreWeight
	score += len(intersect(a.FavoriteThemes, b.FavoriteThemes)) * themeWeight
	score += len(intersect(a.FavoriteCharacters, b.FavoriteCharacters)) * characterWeight
	if score > maxScore {
		return maxScore
	}
	return score
}

// Compatible performs the full symmetric check between two waiting entries:
// each side's filter must accept the other's profile, and the compatibility
// score must meet both sides' minimums. The score is returned so callers can
// reuse it without recomputing.
func Compatible(a, b *Entry) (int, bool) {
	if a.Profile.ID == b.Profile.ID {
		return 0, false // never pair two sessions of the same user
	}
	if !a.Filter.Accepts(b.Profile) || !b.Filter.Accepts(a.Profile) {
		return 0, false
	}
	score := Compatibility(a.Profile, b.Profile)
	if score < a.Filter.MinCompatibility || score < b.Filter.MinCompatibility {
		return 0, false
	}
	return score, true
}

// intersect returns the elements present in both slices, preserving the
// order of the first slice. Comparison is case-insensitive.
func intersect(a, b []string) []string {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	set := make(map[string]bool, len(b))
	for _, v := range b {
		set[strings.ToLower(v)] = true
	}
	var out []string
	for _, v := range a {
		if set[strings.ToLower(v)] {
			out = append(out, v)
		}
	}
	return out
}
