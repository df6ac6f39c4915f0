package ginserver_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmsync/internal/app/compose"
	"crmsync/internal/app/inboxsvc"
	"crmsync/internal/domain/chat"
	"crmsync/internal/infra/config"
	ginserver "crmsync/internal/infra/http/gin"
	"crmsync/internal/infra/obs"
	"crmsync/internal/infra/storage/memory"
	"crmsync/internal/infra/store/rest"
)

type nopPublisher struct{}

func (nopPublisher) Publish(string, chat.Event) {}

type stubUploader struct{}

func (stubUploader) Upload(_ context.Context, key string, reader io.Reader, _ string) (string, error) {
	if _, err := io.ReadAll(reader); err != nil {
		return "", err
	}
	return "https://files.example.com/" + key, nil
}

func newAPI(t *testing.T) (*rest.Client, *inboxsvc.Service) {
	t.Helper()
	svc := inboxsvc.New(memory.NewConversationRepository(), memory.NewMessageRepository(), nopPublisher{}, nil)

	httpSrv := ginserver.NewServer(
		config.Config{Env: "test", HTTPAddr: ":0"},
		obs.Middleware{},
		obs.HealthHandlers{},
		ginserver.Handlers{Chat: ginserver.ChatHandler{Service: svc}},
	)
	ts := httptest.NewServer(httpSrv.Handler)
	t.Cleanup(ts.Close)

	api, err := rest.NewClient(rest.Config{BaseURL: ts.URL, CallTimeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	return api, svc
}

func TestConversationLifecycleOverHTTP(t *testing.T) {
	api, _ := newAPI(t)
	ctx := context.Background()

	conv, err := api.CreateConversation(ctx, 7, chat.ChannelWhatsApp, nil)
	require.NoError(t, err)
	require.NotZero(t, conv.ID)
	assert.Equal(t, chat.StatusOpen, conv.Status)

	list, err := api.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, conv.ID, list[0].ID)

	found, err := api.FindConversationByLead(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, conv.ID, found.ID)

	missing, err := api.FindConversationByLead(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, api.DeleteConversation(ctx, conv.ID))
	list, err = api.ListConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSendAndListMessagesOverHTTP(t *testing.T) {
	api, svc := newAPI(t)
	ctx := context.Background()

	conv, err := api.CreateConversation(ctx, 7, chat.ChannelWhatsApp, nil)
	require.NoError(t, err)

	inbound, err := svc.Ingest(ctx, inboxsvc.Inbound{Lead: chat.Lead{ID: 7}, Channel: chat.ChannelWhatsApp, Body: "hi, got a question"})
	require.NoError(t, err)

	sent, err := api.SendMessage(ctx, chat.Outgoing{ConversationID: conv.ID, Body: "sure, go ahead", ReplyToID: inbound.ID})
	require.NoError(t, err)
	assert.Equal(t, chat.DirectionOutbound, sent.Direction)
	require.NotNil(t, sent.ReplyTo)
	assert.Equal(t, inbound.ID, sent.ReplyTo.MessageID)
	assert.Equal(t, "hi, got a question", sent.ReplyTo.Preview)

	msgs, err := api.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, inbound.ID, msgs[0].ID)
	assert.Equal(t, sent.ID, msgs[1].ID)
}

func TestMarkReadOverHTTP(t *testing.T) {
	api, svc := newAPI(t)
	ctx := context.Background()

	inbound, err := svc.Ingest(ctx, inboxsvc.Inbound{Lead: chat.Lead{ID: 7}, Channel: chat.ChannelEmail, Body: "ping"})
	require.NoError(t, err)

	require.NoError(t, api.MarkRead(ctx, inbound.ConversationID))
	list, err := api.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 0, list[0].UnreadCount)

	assert.ErrorIs(t, api.MarkRead(ctx, 9999), chat.ErrConversationNotFound)
}

func TestUploadOverHTTP(t *testing.T) {
	svc := inboxsvc.New(memory.NewConversationRepository(), memory.NewMessageRepository(), nopPublisher{}, nil)
	httpSrv := ginserver.NewServer(
		config.Config{Env: "test", HTTPAddr: ":0"},
		obs.Middleware{},
		obs.HealthHandlers{},
		ginserver.Handlers{
			Chat:   ginserver.ChatHandler{Service: svc},
			Upload: ginserver.UploadHandler{Uploader: stubUploader{}},
		},
	)
	ts := httptest.NewServer(httpSrv.Handler)
	defer ts.Close()

	api, err := rest.NewClient(rest.Config{BaseURL: ts.URL, CallTimeout: 2 * time.Second}, nil)
	require.NoError(t, err)
	uploaded, err := api.Upload(context.Background(), compose.Attachment{
		Name:     "floorplan.png",
		MimeType: "image/png",
		Data:     []byte{0x89, 0x50, 0x4e, 0x47},
	})
	require.NoError(t, err)
	assert.Equal(t, "floorplan.png", uploaded.Filename)
	assert.Equal(t, "image/png", uploaded.MimeType)
	assert.Contains(t, uploaded.URL, "floorplan.png")
}

func TestHealthEndpoints(t *testing.T) {
	httpSrv := ginserver.NewServer(
		config.Config{Env: "test", HTTPAddr: ":0"},
		obs.Middleware{},
		obs.HealthHandlers{},
		ginserver.Handlers{},
	)
	ts := httptest.NewServer(httpSrv.Handler)
	defer ts.Close()

	for _, path := range []string{"/livez", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
