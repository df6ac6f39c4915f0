package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crmsync/internal/app/compose"
	"crmsync/internal/domain/chat"
)

func newServerAndClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, CallTimeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return client
}

func TestListConversations(t *testing.T) {
	client := newServerAndClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/v1/conversations", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"items": []chat.Conversation{
			{ID: 2, Lead: chat.Lead{ID: 20, Name: "Bob"}, Channel: chat.ChannelEmail},
			{ID: 1, Lead: chat.Lead{ID: 10, Name: "Alice"}, Channel: chat.ChannelWhatsApp, UnreadCount: 2},
		}})
	})

	convs, err := client.ListConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 2)
	require.EqualValues(t, 2, convs[0].ID, "server order must be preserved")
	require.Equal(t, "Alice", convs[1].Lead.Name)
}

func TestSendMessage_PostsOutgoingShape(t *testing.T) {
	client := newServerAndClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/conversations/7/messages", r.URL.Path)
		var out chat.Outgoing
		require.NoError(t, json.NewDecoder(r.Body).Decode(&out))
		require.Equal(t, "hello", out.Body)
		require.EqualValues(t, 3, out.ReplyToID)
		json.NewEncoder(w).Encode(chat.Message{ID: 99, ConversationID: 7, Body: out.Body, SentAt: time.Now()})
	})

	msg, err := client.SendMessage(context.Background(), chat.Outgoing{ConversationID: 7, Body: "hello", ReplyToID: 3})
	require.NoError(t, err)
	require.EqualValues(t, 99, msg.ID)
}

func TestServerErrorMessageSurfaces(t *testing.T) {
	client := newServerAndClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "lead has no phone number"})
	})

	_, err := client.SendMessage(context.Background(), chat.Outgoing{ConversationID: 1, Body: "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "lead has no phone number")
}

func TestGenericErrorFallback(t *testing.T) {
	client := newServerAndClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	err := client.MarkRead(context.Background(), 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")
}

func TestDeleteConversation_NotFoundMapsToSentinel(t *testing.T) {
	client := newServerAndClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.DeleteConversation(context.Background(), 42)
	require.ErrorIs(t, err, chat.ErrConversationNotFound)
}

func TestFindConversationByLead(t *testing.T) {
	client := newServerAndClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "17", r.URL.Query().Get("lead_id"))
		json.NewEncoder(w).Encode(map[string]any{"items": []chat.Conversation{{ID: 5, Lead: chat.Lead{ID: 17}}}})
	})

	conv, err := client.FindConversationByLead(context.Background(), 17)
	require.NoError(t, err)
	require.NotNil(t, conv)
	require.EqualValues(t, 5, conv.ID)

	empty := newServerAndClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []chat.Conversation{}})
	})
	conv, err = empty.FindConversationByLead(context.Background(), 17)
	require.NoError(t, err)
	require.Nil(t, conv)
}

func TestUpload_MultipartRoundTrip(t *testing.T) {
	client := newServerAndClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "voice-20260501-103000.ogg", header.Filename)
		require.Equal(t, "audio/ogg", r.FormValue("mime_type"))
		json.NewEncoder(w).Encode(map[string]string{
			"url":       "https://cdn.example/media/" + header.Filename,
			"filename":  header.Filename,
			"mime_type": "audio/ogg",
		})
	})

	uploaded, err := client.Upload(context.Background(), compose.Attachment{
		Name:     "voice-20260501-103000.ogg",
		MimeType: "audio/ogg",
		Data:     []byte("opus bytes"),
	})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/media/voice-20260501-103000.ogg", uploaded.URL)
	require.Equal(t, "audio/ogg", uploaded.MimeType)
}
