package matching

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// Match type classification. Pairs scoring above the threshold are
// presented as interest-based; everything else is a random connection.
const (
	MatchTypeInterest = "interest_based"
	MatchTypeRandom   = "random"

	interestThreshold = 15
)

// Universe is the shared anime universe computed once at pairing time and
// sent to both matched users. Conversation starters are derived
// deterministically from the shared content so both sides see the same
// suggestions.
type Universe struct {
	SharedAnime          []string `json:"shared_anime"`
	SharedGenres         []string `json:"shared_genres"`
	SharedThemes         []string `json:"shared_themes"`
	ConversationStarters []string `json:"conversation_starters"`
	MatchType            string   `json:"match_type"`
	MatchMessage         string   `json:"match_message"`
}

var animeStarters = []string{
	"What did you think of %s?",
	"Which character from %s is your favorite?",
	"What was your favorite arc in %s?",
	"Did you enjoy the ending of %s?",
}

var genericStarters = []string{
	"What anime are you currently watching?",
	"What got you into anime?",
	"Do you have a favorite anime genre?",
	"Any anime recommendations for me?",
	"What's the first anime you ever watched?",
	"Are you watching anything this season?",
	"What's your all-time favorite anime?",
	"Do you prefer subbed or dubbed anime?",
}

// SharedUniverse computes the overlap between two matched profiles and the
// conversation starters seeded from it. The same pair of profiles always
// produces the same universe regardless of argument order.
func SharedUniverse(a, b Profile, score int) Universe {
	u := Universe{
		SharedAnime:  sortedCopy(intersect(a.FavoriteAnime, b.FavoriteAnime)),
		SharedGenres: sortedCopy(intersect(a.FavoriteGenres, b.FavoriteGenres)),
		SharedThemes: sortedCopy(intersect(a.FavoriteThemes, b.FavoriteThemes)),
	}

	if score > interestThreshold {
		u.MatchType = MatchTypeInterest
		u.MatchMessage = fmt.Sprintf("Great match! You both love similar anime! (Compatibility: %d%%)", score)
	} else {
		u.MatchType = MatchTypeRandom
		u.MatchMessage = "Connected with a fellow anime fan! Let's chat!"
	}

	if len(u.SharedAnime) > 0 {
		anime := u.SharedAnime[0]
		tmpl := animeStarters[hashIndex(anime, len(animeStarters))]
		u.ConversationStarters = append(u.ConversationStarters, fmt.Sprintf(tmpl, anime))
	}
	if len(u.SharedGenres) > 0 && len(u.ConversationStarters) < 2 {
		u.ConversationStarters = append(u.ConversationStarters,
			fmt.Sprintf("What's your favorite %s anime?", u.SharedGenres[0]))
	}
	if len(u.SharedThemes) > 0 && len(u.ConversationStarters) < 2 {
		u.ConversationStarters = append(u.ConversationStarters,
			fmt.Sprintf("Do you enjoy %s themed anime?", u.SharedThemes[0]))
	}

	// Nothing shared: fall back to generic starters. The pair seed keeps the
	// selection stable for the two users while varying it across pairs.
	if len(u.ConversationStarters) == 0 {
		seed := pairSeed(a.ID, b.ID)
		start := hashIndex(seed, len(genericStarters))
		for i := 0; i < 3; i++ {
			u.ConversationStarters = append(u.ConversationStarters,
				genericStarters[(start+i)%len(genericStarters)])
		}
	}

	return u
}

// pairSeed builds an order-independent seed from two user IDs.
func pairSeed(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// hashIndex maps s onto [0, n) using FNV-1a.
func hashIndex(s string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % uint32(n))
}

func sortedCopy(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
