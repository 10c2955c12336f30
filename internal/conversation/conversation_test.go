package conversation

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/anichat/server/internal/matching"
)

func entry(sessionID, userID string) matching.Entry {
	return matching.Entry{
		SessionID: sessionID,
		Profile:   matching.Profile{ID: userID, Name: userID},
	}
}

func TestCreateAndLookup(t *testing.T) {
	m := NewManager()

	c, err := m.Create(entry("s1", "alice"), entry("s2", "bob"), 42, matching.Universe{})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if c.ID == "" {
		t.Error("expected non-empty conversation ID")
	}
	if c.Score != 42 {
		t.Errorf("expected score 42, got %d", c.Score)
	}

	got, ok := m.ForSession("s1")
	if !ok || got.ID != c.ID {
		t.Errorf("ForSession(s1) = %v, %v; want conversation %s", got.ID, ok, c.ID)
	}
	got, ok = m.ForSession("s2")
	if !ok || got.ID != c.ID {
		t.Errorf("ForSession(s2) = %v, %v; want conversation %s", got.ID, ok, c.ID)
	}
	if got.Partner("s1") != "s2" || got.Partner("s2") != "s1" {
		t.Error("Partner lookup is wrong")
	}
	if got.Partner("s3") != "" {
		t.Error("Partner for non-participant should be empty")
	}
	if m.Active() != 1 {
		t.Errorf("expected 1 active conversation, got %d", m.Active())
	}
}

func TestExclusivity(t *testing.T) {
	m := NewManager()

	if _, err := m.Create(entry("s1", "alice"), entry("s2", "bob"), 10, matching.Universe{}); err != nil {
		t.Fatalf("first Create failed: %v", err)
	}

	// Neither side may be paired again while the conversation is active.
	if _, err := m.Create(entry("s1", "alice"), entry("s3", "carol"), 10, matching.Universe{}); !errors.Is(err, ErrAlreadyPaired) {
		t.Errorf("expected ErrAlreadyPaired for busy session A, got %v", err)
	}
	if _, err := m.Create(entry("s3", "carol"), entry("s2", "bob"), 10, matching.Universe{}); !errors.Is(err, ErrAlreadyPaired) {
		t.Errorf("expected ErrAlreadyPaired for busy session B, got %v", err)
	}

	m.EndForSession("s1")
	if _, err := m.Create(entry("s1", "alice"), entry("s3", "carol"), 10, matching.Universe{}); err != nil {
		t.Errorf("Create after teardown should succeed, got %v", err)
	}
}

func TestEndIsIdempotent(t *testing.T) {
	m := NewManager()
	c, _ := m.Create(entry("s1", "alice"), entry("s2", "bob"), 10, matching.Universe{})

	ended, ok := m.EndForSession("s1")
	if !ok || ended.ID != c.ID {
		t.Fatalf("first teardown failed: %v, %v", ended.ID, ok)
	}

	// Racing teardown paths settle on a single winner.
	if _, ok := m.EndForSession("s2"); ok {
		t.Error("second teardown should report ok=false")
	}
	if _, ok := m.End(c.ID); ok {
		t.Error("End by ID after teardown should report ok=false")
	}
	if m.Active() != 0 {
		t.Errorf("expected 0 active conversations, got %d", m.Active())
	}
}

func TestTransientLog(t *testing.T) {
	m := NewManager()
	c, _ := m.Create(entry("s1", "alice"), entry("s2", "bob"), 10, matching.Universe{})

	for i := 0; i < maxLogMessages+3; i++ {
		m.Append(c.ID, Message{From: "alice", Text: fmt.Sprintf("msg-%d", i), Ts: int64(i)})
	}

	got := m.Recent(c.ID)
	if len(got) != maxLogMessages {
		t.Fatalf("expected %d retained messages, got %d", maxLogMessages, len(got))
	}
	if got[0].Text != "msg-3" {
		t.Errorf("oldest retained message = %q, want msg-3", got[0].Text)
	}
	if got[len(got)-1].Text != fmt.Sprintf("msg-%d", maxLogMessages+2) {
		t.Errorf("newest retained message = %q", got[len(got)-1].Text)
	}

	// The log dies with the conversation.
	m.EndForSession("s1")
	if got := m.Recent(c.ID); len(got) != 0 {
		t.Errorf("expected empty log after teardown, got %d messages", len(got))
	}

	// Appends to ended conversations are dropped.
	m.Append(c.ID, Message{From: "alice", Text: "late"})
	if got := m.Recent(c.ID); len(got) != 0 {
		t.Errorf("append after teardown should be dropped, got %d messages", len(got))
	}
}

func TestConcurrentCreateExclusivity(t *testing.T) {
	m := NewManager()

	// Many goroutines race to pair the same session; exactly one must win.
	const attempts = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			other := entry(fmt.Sprintf("other-%d", i), fmt.Sprintf("user-%d", i))
			if _, err := m.Create(entry("hot", "alice"), other, 10, matching.Universe{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly 1 winning Create, got %d", wins)
	}
	if m.Active() != 1 {
		t.Errorf("expected 1 active conversation, got %d", m.Active())
	}
}

func TestValidateMessage(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		hasImage bool
		wantErr  bool
	}{
		{"normal text", "hello there", false, false},
		{"empty without image", "", false, true},
		{"empty with image", "", true, false},
		{"at byte limit", string(make([]byte, MaxMessageBytes)), false, true}, // NUL bytes are valid UTF-8; size passes, but rune count > MaxTextChars
		{"over byte limit", string(make([]byte, MaxMessageBytes+1)), false, true},
		{"invalid utf8", "hi\xff\xfe", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMessage(tt.text, tt.hasImage)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMessage(%q, %v) error = %v, wantErr %v", tt.name, tt.hasImage, err, tt.wantErr)
			}
		})
	}
}
