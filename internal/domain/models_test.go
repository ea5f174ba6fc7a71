package domain

import "testing"

func TestPairKey_CanonicalOrder(t *testing.T) {
	cases := []struct {
		a, b       string
		low, high  string
	}{
		{"alice", "bob", "alice", "bob"},
		{"bob", "alice", "alice", "bob"},
		{"zed", "zed", "zed", "zed"},
	}
	for _, tc := range cases {
		low, high := PairKey(tc.a, tc.b)
		if low != tc.low || high != tc.high {
			t.Fatalf("PairKey(%q,%q) = (%q,%q), want (%q,%q)", tc.a, tc.b, low, high, tc.low, tc.high)
		}
	}
}

func TestConnection_InvolvesAndOtherUser(t *testing.T) {
	c := &Connection{RequesterID: "alice", RecipientID: "bob"}

	if !c.Involves("alice") || !c.Involves("bob") || c.Involves("carol") {
		t.Fatalf("Involves mismatch")
	}
	if c.OtherUser("alice") != "bob" || c.OtherUser("bob") != "alice" {
		t.Fatalf("OtherUser mismatch")
	}
	if c.OtherUser("carol") != "" {
		t.Fatalf("outsider must map to empty counterpart")
	}
}

func TestConversation_Participants(t *testing.T) {
	cv := &Conversation{UserLowID: "alice", UserHighID: "bob"}

	if !cv.HasParticipant("alice") || !cv.HasParticipant("bob") || cv.HasParticipant("carol") {
		t.Fatalf("HasParticipant mismatch")
	}
	if cv.OtherParticipant("alice") != "bob" || cv.OtherParticipant("bob") != "alice" {
		t.Fatalf("OtherParticipant mismatch")
	}
	if cv.OtherParticipant("carol") != "" {
		t.Fatalf("outsider must map to empty counterpart")
	}
}

func TestReplySnapshot_IsZero(t *testing.T) {
	if !(ReplySnapshot{}).IsZero() {
		t.Fatalf("empty snapshot should be zero")
	}
	if (ReplySnapshot{MessageID: "m1"}).IsZero() {
		t.Fatalf("populated snapshot should not be zero")
	}
}
