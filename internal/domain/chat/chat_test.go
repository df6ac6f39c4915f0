package chat

import (
	"testing"
	"time"
)

func TestKindFromMime(t *testing.T) {
	tests := []struct {
		mime string
		want MediaKind
	}{
		{"image/png", KindImage},
		{"image/jpeg", KindImage},
		{"video/mp4", KindVideo},
		{"audio/ogg; codecs=opus", KindAudio},
		{"application/pdf", KindDocument},
		{"text/plain", KindDocument},
		{"", KindDocument},
		{"  IMAGE/GIF ", KindImage},
	}
	for _, tt := range tests {
		if got := KindFromMime(tt.mime); got != tt.want {
			t.Errorf("KindFromMime(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestMediaRefResolve_ExplicitTagWins(t *testing.T) {
	ref := MediaRef{MimeType: "application/octet-stream", Kind: KindAudio}
	if got := ref.Resolve(); got != KindAudio {
		t.Fatalf("Resolve() = %q, want explicit %q", got, KindAudio)
	}
	ref.Kind = ""
	if got := ref.Resolve(); got != KindDocument {
		t.Fatalf("Resolve() without tag = %q, want %q", got, KindDocument)
	}
}

func TestAudioExtension(t *testing.T) {
	if got := AudioExtension("audio/ogg; codecs=opus"); got != ".ogg" {
		t.Errorf("AudioExtension(ogg) = %q", got)
	}
	if got := AudioExtension("audio/webm"); got != ".webm" {
		t.Errorf("AudioExtension(webm) = %q", got)
	}
	if got := AudioExtension("audio/mp4"); got != ".webm" {
		t.Errorf("AudioExtension(fallback) = %q, want .webm", got)
	}
}

func TestSortMessages_OrderAndDedup(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: 3, SentAt: base.Add(2 * time.Second)},
		{ID: 2, SentAt: base},
		{ID: 1, SentAt: base},
		{ID: 2, SentAt: base}, // duplicate id
	}
	got := SortMessages(msgs)
	wantIDs := []int64{1, 2, 3}
	if len(got) != len(wantIDs) {
		t.Fatalf("got %d messages, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Errorf("position %d: got id %d, want %d", i, got[i].ID, id)
		}
	}
}

func TestDedupConversations_PrefersMostRecentlyStarted(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 1, 0)
	convs := []Conversation{
		{ID: 1, StartedAt: older, UnreadCount: 1},
		{ID: 2, StartedAt: older},
		{ID: 1, StartedAt: newer, UnreadCount: 7},
	}
	got := DedupConversations(convs)
	if len(got) != 2 {
		t.Fatalf("got %d conversations, want 2", len(got))
	}
	if got[0].ID != 1 || got[1].ID != 2 {
		t.Fatalf("order changed: %v, %v", got[0].ID, got[1].ID)
	}
	if got[0].UnreadCount != 7 {
		t.Errorf("dedup kept stale entry, unread = %d, want 7", got[0].UnreadCount)
	}
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"new-message","conversationId":42,"payload":{"id":9}}`))
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if ev.Type != EventNewMessage || ev.ConversationID != 42 {
		t.Fatalf("DecodeEvent() = %+v", ev)
	}

	if _, err := DecodeEvent([]byte(`{"type":"typing","conversationId":1}`)); err == nil {
		t.Fatal("DecodeEvent() accepted unknown event type")
	}
	if _, err := DecodeEvent([]byte(`{`)); err == nil {
		t.Fatal("DecodeEvent() accepted malformed JSON")
	}
}

func TestConversationTopic(t *testing.T) {
	if got := ConversationTopic(17); got != "conversation/17" {
		t.Fatalf("ConversationTopic(17) = %q", got)
	}
}
