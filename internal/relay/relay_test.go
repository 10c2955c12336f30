package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/anichat/server/internal/conversation"
	"github.com/anichat/server/internal/matching"
	"github.com/anichat/server/internal/notify"
	"github.com/anichat/server/internal/presence"
	"github.com/anichat/server/internal/protocol"
	"github.com/anichat/server/internal/registry"
)

// fakeSender records every frame per session, decoded just enough to read
// the type discriminator.
type fakeSender struct {
	mu     sync.Mutex
	frames map[string][]map[string]interface{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{frames: make(map[string][]map[string]interface{})}
}

func (f *fakeSender) Send(sessionID string, data []byte) error {
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	f.mu.Lock()
	f.frames[sessionID] = append(f.frames[sessionID], decoded)
	f.mu.Unlock()
	return nil
}

// types returns the ordered event types delivered to a session.
func (f *fakeSender) types(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, fr := range f.frames[sessionID] {
		out = append(out, fr["type"].(string))
	}
	return out
}

// last returns the most recent frame of the given type, or nil.
func (f *fakeSender) last(sessionID, msgType string) map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.frames[sessionID]) - 1; i >= 0; i-- {
		if f.frames[sessionID][i]["type"] == msgType {
			return f.frames[sessionID][i]
		}
	}
	return nil
}

func (f *fakeSender) has(sessionID, msgType string) bool {
	return f.last(sessionID, msgType) != nil
}

type fixture struct {
	coord  *Coordinator
	sender *fakeSender
	reg    *registry.Registry
	queue  *matching.Queue
	convs  *conversation.Manager
	pres   *presence.Tracker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sender := newFakeSender()
	reg := registry.New()
	pres := presence.NewTracker()
	q := matching.NewQueue()
	convs := conversation.NewManager()
	hub, err := notify.NewHub(reg, sender, nil)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	coord := New(DefaultConfig(), reg, pres, q, convs, hub, sender)
	return &fixture{coord: coord, sender: sender, reg: reg, queue: q, convs: convs, pres: pres}
}

func profile(id string, anime ...string) matching.Profile {
	return matching.Profile{ID: id, Name: id, FavoriteAnime: anime}
}

func (fx *fixture) connect(sid string) {
	fx.coord.OnConnect(sid)
}

func (fx *fixture) join(sid string, p matching.Profile) {
	fx.coord.HandleJoinMatching(sid, protocol.JoinMatchingMsg{UserID: p.ID, UserData: p})
}

func TestJoinMatchingPairsCompatibleUsers(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")

	fx.join("s1", profile("alice", "One Piece", "Naruto"))
	if !fx.sender.has("s1", protocol.TypeSearching) {
		t.Fatal("first joiner should receive searching")
	}
	if fx.sender.has("s1", protocol.TypeMatchFound) {
		t.Fatal("no match should exist with one queued user")
	}

	fx.join("s2", profile("bob", "One Piece"))

	for _, sid := range []string{"s1", "s2"} {
		mf := fx.sender.last(sid, protocol.TypeMatchFound)
		if mf == nil {
			t.Fatalf("session %s: no match_found", sid)
		}
		if mf["compatibility"].(float64) < 10 {
			t.Errorf("session %s: compatibility = %v, want >= 10 for a shared anime", sid, mf["compatibility"])
		}
	}

	// Partner profiles are crossed.
	if fx.sender.last("s1", protocol.TypeMatchFound)["partner"].(map[string]interface{})["id"] != "bob" {
		t.Error("s1's partner should be bob")
	}
	if fx.sender.last("s2", protocol.TypeMatchFound)["partner"].(map[string]interface{})["id"] != "alice" {
		t.Error("s2's partner should be alice")
	}

	if fx.convs.Active() != 1 {
		t.Errorf("active conversations = %d, want 1", fx.convs.Active())
	}
	if fx.queue.Len() != 0 {
		t.Errorf("queue should be drained, len = %d", fx.queue.Len())
	}
}

func TestUsersNeverMatchThemselves(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")

	// Same user on two devices.
	fx.join("s1", profile("alice", "One Piece"))
	fx.join("s2", profile("alice", "One Piece"))

	if fx.sender.has("s1", protocol.TypeMatchFound) || fx.sender.has("s2", protocol.TypeMatchFound) {
		t.Fatal("a user must never be paired with themselves")
	}
	if fx.queue.Len() != 2 {
		t.Errorf("both sessions should stay queued, len = %d", fx.queue.Len())
	}
}

func TestCancelMatching(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.join("s1", profile("alice"))

	fx.coord.HandleCancelMatching("s1")

	if !fx.sender.has("s1", protocol.TypeMatchingCancelled) {
		t.Error("expected matching_cancelled")
	}
	if fx.queue.Len() != 0 {
		t.Errorf("queue len = %d, want 0", fx.queue.Len())
	}

	// A second cancel has nothing to remove and stays silent.
	before := len(fx.sender.types("s1"))
	fx.coord.HandleCancelMatching("s1")
	if len(fx.sender.types("s1")) != before {
		t.Error("cancel of a non-queued session should emit nothing")
	}
}

func TestMessageRelayDualEmit(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.join("s1", profile("alice", "One Piece"))
	fx.join("s2", profile("bob", "One Piece"))

	fx.coord.HandleSendMessage("s1", protocol.SendMessageMsg{Message: "nakama!"})

	recv := fx.sender.last("s2", protocol.TypeReceiveMessage)
	echo := fx.sender.last("s1", protocol.TypeMessageSent)
	if recv == nil || echo == nil {
		t.Fatal("expected receive_message for partner and message_sent echo for sender")
	}
	if recv["message"] != "nakama!" || echo["message"] != "nakama!" {
		t.Error("relayed content mismatch")
	}
	if recv["from"] != "alice" {
		t.Errorf("from = %v, want alice", recv["from"])
	}
	if recv["is_spoiler"] != false {
		t.Error("plain message should not be flagged as spoiler")
	}
}

func TestMessageSpoilerFlag(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.join("s1", profile("alice"))
	fx.join("s2", profile("bob"))

	fx.coord.HandleSendMessage("s1", protocol.SendMessageMsg{Message: "wait until the finale"})

	recv := fx.sender.last("s2", protocol.TypeReceiveMessage)
	if recv == nil {
		t.Fatal("expected receive_message")
	}
	if recv["is_spoiler"] != true {
		t.Error("spoiler keyword should flag the message")
	}
}

func TestMessageOutsideConversationRejected(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")

	fx.coord.HandleSendMessage("s1", protocol.SendMessageMsg{Message: "hello?"})

	errFrame := fx.sender.last("s1", protocol.TypeError)
	if errFrame == nil || errFrame["code"] != "not_in_chat" {
		t.Errorf("expected not_in_chat error, got %v", errFrame)
	}
}

func TestTypingIndicators(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.join("s1", profile("alice"))
	fx.join("s2", profile("bob"))

	fx.coord.HandleTypingStart("s1")
	start := fx.sender.last("s2", protocol.TypePartnerTypingStart)
	if start == nil {
		t.Fatal("partner should receive partner_typing_start")
	}
	if start["user_name"] != "alice" {
		t.Errorf("user_name = %v, want alice", start["user_name"])
	}

	fx.coord.HandleTypingStop("s1")
	if !fx.sender.has("s2", protocol.TypePartnerTypingStop) {
		t.Error("partner should receive partner_typing_stop")
	}
	if fx.sender.has("s1", protocol.TypePartnerTypingStart) {
		t.Error("typing indicators must not echo to the typist")
	}
}

func TestSkipPartnerRequeuesSkipper(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.join("s1", profile("alice"))
	fx.join("s2", profile("bob"))

	fx.coord.HandleSkipPartner("s1")

	if !fx.sender.has("s2", protocol.TypePartnerSkipped) || !fx.sender.has("s2", protocol.TypeYouWereSkipped) {
		t.Error("skipped partner should receive partner_skipped and you_were_skipped")
	}
	if fx.convs.Active() != 0 {
		t.Errorf("conversation should be gone, active = %d", fx.convs.Active())
	}
	if !fx.queue.Contains("s1") {
		t.Error("skipper should be back in the queue")
	}
	if fx.queue.Contains("s2") {
		t.Error("skipped partner must not be re-queued")
	}

	// The skipper can immediately pair with a new joiner.
	fx.connect("s3")
	fx.join("s3", profile("carol"))
	if !fx.sender.has("s1", protocol.TypeMatchFound) {
		t.Fatal("expected a fresh match for the skipper")
	}
	mf := fx.sender.last("s1", protocol.TypeMatchFound)
	if mf["partner"].(map[string]interface{})["id"] != "carol" {
		t.Errorf("skipper's new partner = %v, want carol", mf["partner"])
	}
}

func TestLeaveChat(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.join("s1", profile("alice"))
	fx.join("s2", profile("bob"))

	fx.coord.HandleLeaveChat("s1")

	if !fx.sender.has("s2", protocol.TypePartnerLeft) {
		t.Error("partner should receive partner_left")
	}
	if !fx.sender.has("s2", protocol.TypeChatEnded) || !fx.sender.has("s1", protocol.TypeChatEnded) {
		t.Error("both sides should receive chat_ended")
	}
	if fx.queue.Contains("s1") || fx.queue.Contains("s2") {
		t.Error("leave_chat must not re-queue anyone")
	}
	if fx.convs.Active() != 0 {
		t.Errorf("active conversations = %d, want 0", fx.convs.Active())
	}
}

func TestDisconnectTearsDownEverything(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.join("s1", profile("alice"))
	fx.join("s2", profile("bob"))

	fx.coord.OnDisconnect("s1")

	if !fx.sender.has("s2", protocol.TypePartnerDisconnected) {
		t.Error("partner should receive partner_disconnected")
	}
	if fx.convs.Active() != 0 {
		t.Error("conversation should be torn down")
	}
	if _, ok := fx.reg.Get("s1"); ok {
		t.Error("session should be removed from the registry")
	}
	if fx.pres.IsOnline("alice") {
		t.Error("alice's only session dropped, she should be offline")
	}
	// Remaining session saw the presence transition.
	if !fx.sender.has("s2", protocol.TypeUserOffline) {
		t.Error("remaining sessions should see user_offline")
	}
}

func TestDisconnectBetweenPopAndConversationCreate(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.join("s1", profile("alice"))
	fx.coord.HandleRegisterForNotifications("s2", protocol.RegisterForNotificationsMsg{
		UserID: "bob", UserData: profile("bob"),
	})
	fx.queue.Enqueue("s2", profile("bob"), matching.Filter{})

	// A pairing pass pops both entries, then s2 drops before the
	// conversation exists. The survivor must not be linked to a dead
	// session; it goes back in the queue instead.
	p := fx.queue.PopNextPair()
	if p == nil {
		t.Fatal("expected a pair")
	}
	fx.coord.OnDisconnect("s2")
	fx.coord.startConversation(p)

	if fx.convs.Active() != 0 {
		t.Fatalf("active conversations = %d, want 0", fx.convs.Active())
	}
	if fx.sender.has("s1", protocol.TypeMatchFound) {
		t.Error("survivor must not see match_found for a dead partner")
	}
	if !fx.queue.Contains("s1") {
		t.Error("survivor should be back in the queue")
	}
	if fx.queue.Contains("s2") {
		t.Error("disconnected session must not be re-queued")
	}

	// The survivor can still pair with the next joiner.
	fx.connect("s3")
	fx.join("s3", profile("carol"))
	mf := fx.sender.last("s1", protocol.TypeMatchFound)
	if mf == nil {
		t.Fatal("survivor should match the next joiner")
	}
	if mf["partner"].(map[string]interface{})["id"] != "carol" {
		t.Errorf("survivor's partner = %v, want carol", mf["partner"])
	}
}

func TestDisconnectWhileQueuedPurgesEntry(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.join("s1", profile("alice"))

	fx.coord.OnDisconnect("s1")

	if fx.queue.Len() != 0 {
		t.Errorf("queue len = %d, want 0 after disconnect", fx.queue.Len())
	}
}

func TestMultiDevicePresence(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.coord.HandleRegisterForNotifications("s1", protocol.RegisterForNotificationsMsg{
		UserID: "alice", UserData: profile("alice"),
	})
	fx.coord.HandleRegisterForNotifications("s2", protocol.RegisterForNotificationsMsg{
		UserID: "alice", UserData: profile("alice"),
	})

	if !fx.pres.IsOnline("alice") {
		t.Fatal("alice should be online")
	}

	fx.coord.OnDisconnect("s1")
	if !fx.pres.IsOnline("alice") {
		t.Error("alice still has a live session, she must stay online")
	}

	fx.coord.OnDisconnect("s2")
	if fx.pres.IsOnline("alice") {
		t.Error("last session dropped, alice should be offline")
	}
}

func TestRegisterForNotifications(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")

	fx.coord.HandleRegisterForNotifications("s1", protocol.RegisterForNotificationsMsg{
		UserID: "alice", UserData: profile("alice"),
	})

	ack := fx.sender.last("s1", protocol.TypeNotificationRegistered)
	if ack == nil || ack["user_id"] != "alice" {
		t.Errorf("expected registration ack for alice, got %v", ack)
	}
	if !fx.pres.IsOnline("alice") {
		t.Error("registration should mark alice online")
	}
}

func TestGetOnlineUsers(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.coord.HandleRegisterForNotifications("s1", protocol.RegisterForNotificationsMsg{
		UserID: "alice", UserData: profile("alice"),
	})
	fx.coord.HandleRegisterForNotifications("s2", protocol.RegisterForNotificationsMsg{
		UserID: "bob", UserData: profile("bob"),
	})

	fx.coord.HandleGetOnlineUsers("s1")

	snap := fx.sender.last("s1", protocol.TypeOnlineUsersUpdate)
	if snap == nil {
		t.Fatal("expected online_users_update")
	}
	users := snap["users"].([]interface{})
	if len(users) != 2 {
		t.Errorf("snapshot size = %d, want 2", len(users))
	}
}

func TestSendFriendRequestReachesAllPartnerDevices(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.connect("s3")
	fx.join("s1", profile("alice"))
	fx.join("s2", profile("bob"))
	// Bob's second device, registered for notifications only.
	fx.coord.HandleRegisterForNotifications("s3", protocol.RegisterForNotificationsMsg{
		UserID: "bob", UserData: profile("bob"),
	})

	fx.coord.HandleSendFriendRequest("s1")

	for _, sid := range []string{"s2", "s3"} {
		fr := fx.sender.last(sid, protocol.TypeFriendRequestReceived)
		if fr == nil {
			t.Fatalf("session %s: no friend_request_received", sid)
		}
		if fr["from_user"].(map[string]interface{})["id"] != "alice" {
			t.Errorf("session %s: from_user = %v, want alice", sid, fr["from_user"])
		}
	}
	if fx.sender.has("s1", protocol.TypeFriendRequestReceived) {
		t.Error("the requester must not receive their own friend request")
	}
}

func TestSearchTimeoutIsInformationalAndOncePerEntry(t *testing.T) {
	fx := newFixture(t)
	cfg := DefaultConfig()
	cfg.SearchTimeout = 0 // everything queued is instantly past the timeout
	fx.coord.config = cfg

	fx.connect("s1")
	fx.join("s1", profile("alice"))

	time.Sleep(time.Millisecond)
	fx.coord.TimeoutPass()
	if !fx.sender.has("s1", protocol.TypeSearchTimeout) {
		t.Fatal("expected search_timeout")
	}
	if !fx.queue.Contains("s1") {
		t.Fatal("entry must stay queued after search_timeout")
	}

	count := 0
	for _, typ := range fx.sender.types("s1") {
		if typ == protocol.TypeSearchTimeout {
			count++
		}
	}
	fx.coord.TimeoutPass()
	after := 0
	for _, typ := range fx.sender.types("s1") {
		if typ == protocol.TypeSearchTimeout {
			after++
		}
	}
	if after != count {
		t.Error("search_timeout must be sent once per queue entry")
	}

	// A timed-out entry can still be matched.
	fx.connect("s2")
	fx.join("s2", profile("bob"))
	if !fx.sender.has("s1", protocol.TypeMatchFound) {
		t.Error("timed-out entry should still be matchable")
	}
}

func TestJoinWhilePairedRejected(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.join("s1", profile("alice"))
	fx.join("s2", profile("bob"))

	fx.join("s1", profile("alice"))

	errFrame := fx.sender.last("s1", protocol.TypeError)
	if errFrame == nil || errFrame["code"] != "already_in_chat" {
		t.Errorf("expected already_in_chat error, got %v", errFrame)
	}
}

func TestFilterRespectedInPairing(t *testing.T) {
	fx := newFixture(t)
	fx.connect("s1")
	fx.connect("s2")
	fx.connect("s3")

	alice := profile("alice")
	alice.Gender = "female"
	bob := profile("bob")
	bob.Gender = "male"
	carol := profile("carol")
	carol.Gender = "female"

	// Alice only wants to match women.
	fx.coord.HandleJoinMatching("s1", protocol.JoinMatchingMsg{
		UserID:   "alice",
		UserData: alice,
		Filters:  matching.Filter{GenderPreference: "female"},
	})
	fx.join("s2", bob)
	if fx.sender.has("s1", protocol.TypeMatchFound) {
		t.Fatal("alice's gender filter should exclude bob")
	}

	fx.join("s3", carol)
	mf := fx.sender.last("s1", protocol.TypeMatchFound)
	if mf == nil {
		t.Fatal("alice should match carol")
	}
	if mf["partner"].(map[string]interface{})["id"] != "carol" {
		t.Errorf("alice's partner = %v, want carol", mf["partner"])
	}
}
