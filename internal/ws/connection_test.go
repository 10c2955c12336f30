package ws

import (
	"net"
	"testing"
	"time"
)

func newTestConnection(t *testing.T, id string) *Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return &Connection{
		ID:        id,
		Conn:      server,
		Fd:        -1,
		CreatedAt: time.Now(),
		LastSeen:  time.Now(),
	}
}

func TestBindUser(t *testing.T) {
	c := newTestConnection(t, "s1")

	if c.UserID() != "" {
		t.Errorf("fresh connection should be anonymous, got %q", c.UserID())
	}
	if c.label() != "session=s1" {
		t.Errorf("label = %q, want session only", c.label())
	}

	c.BindUser("alice")
	if c.UserID() != "alice" {
		t.Errorf("UserID = %q, want alice", c.UserID())
	}
	if c.label() != "session=s1 user=alice" {
		t.Errorf("label = %q, want session and user", c.label())
	}

	// Rebinding replaces the identity.
	c.BindUser("bob")
	if c.UserID() != "bob" {
		t.Errorf("UserID after rebind = %q, want bob", c.UserID())
	}
}

func TestConnectionManagerAddGetRemove(t *testing.T) {
	cm := NewConnectionManager()
	c1 := newTestConnection(t, "s1")
	c2 := newTestConnection(t, "s2")

	cm.Add(c1)
	cm.Add(c2)
	if cm.Count() != 2 {
		t.Fatalf("count = %d, want 2", cm.Count())
	}
	if cm.Get("s1") != c1 {
		t.Error("Get should return the registered connection")
	}
	if cm.Get("missing") != nil {
		t.Error("Get of an unknown session should return nil")
	}

	if !cm.Remove("s1") {
		t.Fatal("first remove should succeed")
	}
	if cm.Remove("s1") {
		t.Error("second remove should report the connection already gone")
	}
	if cm.Count() != 1 {
		t.Errorf("count = %d, want 1", cm.Count())
	}
	if cm.Get("s1") != nil {
		t.Error("removed connection should not be retrievable")
	}
}

func TestConnectionManagerAll(t *testing.T) {
	cm := NewConnectionManager()
	cm.Add(newTestConnection(t, "s1"))
	cm.Add(newTestConnection(t, "s2"))

	seen := make(map[string]bool)
	for _, c := range cm.All() {
		seen[c.ID] = true
	}
	if !seen["s1"] || !seen["s2"] {
		t.Errorf("All missed a connection: %v", seen)
	}
}
