package matching

import (
	"reflect"
	"strings"
	"testing"
)

func TestSharedUniverse_Deterministic(t *testing.T) {
	a := Profile{ID: "a", FavoriteAnime: []string{"One Piece", "Naruto"}, FavoriteGenres: []string{"Action"}}
	b := Profile{ID: "b", FavoriteAnime: []string{"Naruto", "Bleach"}, FavoriteGenres: []string{"Action"}}

	u1 := SharedUniverse(a, b, 15)
	u2 := SharedUniverse(a, b, 15)
	if !reflect.DeepEqual(u1, u2) {
		t.Error("universe should be identical across calls")
	}
}

func TestSharedUniverse_OrderIndependent(t *testing.T) {
	a := Profile{ID: "a", FavoriteAnime: []string{"One Piece"}, FavoriteThemes: []string{"Friendship"}}
	b := Profile{ID: "b", FavoriteAnime: []string{"One Piece"}, FavoriteThemes: []string{"Friendship"}}

	u1 := SharedUniverse(a, b, 14)
	u2 := SharedUniverse(b, a, 14)
	if !reflect.DeepEqual(u1, u2) {
		t.Errorf("universe should not depend on argument order:\n%+v\n%+v", u1, u2)
	}
}

func TestSharedUniverse_StartersFromSharedAnime(t *testing.T) {
	a := Profile{ID: "a", FavoriteAnime: []string{"Cowboy Bebop"}}
	b := Profile{ID: "b", FavoriteAnime: []string{"Cowboy Bebop"}}

	u := SharedUniverse(a, b, 10)
	if len(u.ConversationStarters) == 0 {
		t.Fatal("expected at least one conversation starter")
	}
	if !strings.Contains(u.ConversationStarters[0], "Cowboy Bebop") {
		t.Errorf("starter should reference the shared anime, got %q", u.ConversationStarters[0])
	}
}

func TestSharedUniverse_GenericStartersWhenNothingShared(t *testing.T) {
	a := Profile{ID: "a", FavoriteAnime: []string{"Naruto"}}
	b := Profile{ID: "b", FavoriteAnime: []string{"Bleach"}}

	u := SharedUniverse(a, b, 0)
	if len(u.ConversationStarters) != 3 {
		t.Fatalf("expected 3 generic starters, got %d", len(u.ConversationStarters))
	}
	if u.MatchType != MatchTypeRandom {
		t.Errorf("expected random match type, got %q", u.MatchType)
	}
}

func TestSharedUniverse_MatchType(t *testing.T) {
	a := Profile{ID: "a", FavoriteAnime: []string{"X", "Y"}}
	b := Profile{ID: "b", FavoriteAnime: []string{"X", "Y"}}

	u := SharedUniverse(a, b, 20)
	if u.MatchType != MatchTypeInterest {
		t.Errorf("score 20 should be interest_based, got %q", u.MatchType)
	}
	if !strings.Contains(u.MatchMessage, "20%") {
		t.Errorf("match message should include the score, got %q", u.MatchMessage)
	}

	u = SharedUniverse(a, b, 15)
	if u.MatchType != MatchTypeRandom {
		t.Errorf("score 15 should be random, got %q", u.MatchType)
	}
}

func TestSharedUniverse_SortedShared(t *testing.T) {
	a := Profile{ID: "a", FavoriteGenres: []string{"Romance", "Action", "Mecha"}}
	b := Profile{ID: "b", FavoriteGenres: []string{"Mecha", "Romance", "Action"}}

	u := SharedUniverse(a, b, 15)
	want := []string{"Action", "Mecha", "Romance"}
	if !reflect.DeepEqual(u.SharedGenres, want) {
		t.Errorf("shared genres should be sorted, got %v", u.SharedGenres)
	}
}
