package matching

import "testing"

func TestCompatibility_Weights(t *testing.T) {
	a := Profile{
		ID:                 "a",
		FavoriteAnime:      []string{"Naruto", "One Piece"},
		FavoriteGenres:     []string{"Action", "Comedy"},
		FavoriteThemes:     []string{"Friendship"},
		FavoriteCharacters: []string{"Luffy"},
	}
	b := Profile{
		ID:                 "b",
		FavoriteAnime:      []string{"One Piece"},
		FavoriteGenres:     []string{"Comedy", "Romance"},
		FavoriteThemes:     []string{"Friendship"},
		FavoriteCharacters: []string{"Luffy"},
	}

	// 1 anime (10) + 1 genre (5) + 1 theme (4) + 1 character (2) = 21.
	if got := Compatibility(a, b); got != 21 {
		t.Errorf("expected score 21, got %d", got)
	}
}

func TestCompatibility_Symmetric(t *testing.T) {
	a := Profile{ID: "a", FavoriteAnime: []string{"Bleach", "Naruto"}, FavoriteGenres: []string{"Action"}}
	b := Profile{ID: "b", FavoriteAnime: []string{"Naruto"}, FavoriteGenres: []string{"Action", "Drama"}}

	if Compatibility(a, b) != Compatibility(b, a) {
		t.Error("compatibility should not depend on argument order")
	}
}

func TestCompatibility_CappedAt100(t *testing.T) {
	shared := make([]string, 20)
	for i := range shared {
		shared[i] = string(rune('a' + i))
	}
	a := Profile{ID: "a", FavoriteAnime: shared}
	b := Profile{ID: "b", FavoriteAnime: shared}

	if got := Compatibility(a, b); got != 100 {
		t.Errorf("expected capped score 100, got %d", got)
	}
}

func TestCompatibility_CaseInsensitive(t *testing.T) {
	a := Profile{ID: "a", FavoriteAnime: []string{"naruto"}}
	b := Profile{ID: "b", FavoriteAnime: []string{"Naruto"}}

	if got := Compatibility(a, b); got != 10 {
		t.Errorf("expected case-insensitive anime match (10), got %d", got)
	}
}

func TestFilterAccepts(t *testing.T) {
	profile := Profile{
		ID:       "p",
		Gender:   "female",
		Age:      24,
		Location: "Tokyo, Japan",
		FavoriteGenres: []string{"Romance"},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty filter accepts anyone", Filter{}, true},
		{"gender any", Filter{GenderPreference: "any"}, true},
		{"gender match", Filter{GenderPreference: "female"}, true},
		{"gender mismatch", Filter{GenderPreference: "male"}, false},
		{"age in range", Filter{MinAge: 18, MaxAge: 30}, true},
		{"too young", Filter{MinAge: 25}, false},
		{"too old", Filter{MaxAge: 21}, false},
		{"location substring", Filter{Location: "tokyo"}, true},
		{"location mismatch", Filter{Location: "osaka"}, false},
		{"interest overlap", Filter{InterestTags: []string{"romance"}}, true},
		{"no interest overlap", Filter{InterestTags: []string{"mecha"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Accepts(profile); got != tt.want {
				t.Errorf("Accepts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompatible_SymmetricCheck(t *testing.T) {
	a := &Entry{SessionID: "sa", Profile: Profile{ID: "a", Gender: "male"}, Filter: Filter{GenderPreference: "female"}}
	b := &Entry{SessionID: "sb", Profile: Profile{ID: "b", Gender: "female"}, Filter: Filter{GenderPreference: "female"}}

	// A accepts B, but B wants a female partner and A is male.
	if _, ok := Compatible(a, b); ok {
		t.Error("one-sided acceptance should not be a match")
	}

	b.Filter.GenderPreference = "any"
	if _, ok := Compatible(a, b); !ok {
		t.Error("mutually acceptable entries should match")
	}
}

func TestCompatible_MinCompatibility(t *testing.T) {
	a := &Entry{SessionID: "sa", Profile: Profile{ID: "a", FavoriteAnime: []string{"Naruto"}}, Filter: Filter{MinCompatibility: 20}}
	b := &Entry{SessionID: "sb", Profile: Profile{ID: "b", FavoriteAnime: []string{"Naruto"}}, Filter: Filter{}}

	// One shared anime scores 10, below A's minimum of 20.
	if _, ok := Compatible(a, b); ok {
		t.Error("score below either side's minimum should not match")
	}

	a.Filter.MinCompatibility = 10
	if score, ok := Compatible(a, b); !ok || score != 10 {
		t.Errorf("expected match with score 10, got ok=%v score=%d", ok, score)
	}
}

func TestCompatible_NeverSelfUser(t *testing.T) {
	// Two sessions of the same user (two devices) must never be paired.
	a := &Entry{SessionID: "s1", Profile: Profile{ID: "u1"}}
	b := &Entry{SessionID: "s2", Profile: Profile{ID: "u1"}}

	if _, ok := Compatible(a, b); ok {
		t.Error("two sessions of the same user should never match")
	}
}
