package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/chatsync/internal/blob"
	"github.com/chatsync/internal/connectivity"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/outbox"
	"github.com/chatsync/internal/session"
	"github.com/chatsync/internal/storage/memory"
	"github.com/chatsync/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAgent struct {
	sc  *session.Client
	mon *connectivity.Monitor
	mem *memory.Client
	srv *httptest.Server
}

func newAgent(t *testing.T, mem *memory.Client, user string, online bool) *testAgent {
	t.Helper()
	mon := connectivity.NewMonitor(online)
	blobs := blob.New(t.TempDir(), 1<<20, "")
	sc, err := session.New(session.Deps{
		Backend: mem,
		Typing:  mem,
		Outbox:  memory.NewOutbox(),
		Signal:  mon,
		Blobs:   blobs,
		UserID:  user,
		Config:  session.Config{Outbox: outbox.Config{DrainInterval: time.Hour}},
	})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sc.Run(ctx) }()

	hub := ws.NewHub(8)
	r := chi.NewRouter()
	NewAPI(sc, mon, blobs, hub, ws.Options{}, "*").Routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		hub.Shutdown()
		cancel()
		require.NoError(t, <-done)
	})
	return &testAgent{sc: sc, mon: mon, mem: mem, srv: srv}
}

func (a *testAgent) do(t *testing.T, method, path string, body any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		model.ErrNotFound:         http.StatusNotFound,
		model.ErrPermissionDenied: http.StatusForbidden,
		model.ErrAlreadyMember:    http.StatusConflict,
		model.ErrInvalidState:     http.StatusUnprocessableEntity,
		model.ErrFatal:            http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(fmt.Errorf("op: %w", err)), err.Error())
	}
}

func TestHealth(t *testing.T) {
	a := newAgent(t, memory.New(), "alice", true)
	code, body := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","online":true}`, string(body))
}

func TestOfflineSendThenConnectivityDrains(t *testing.T) {
	a := newAgent(t, memory.New(), "alice", false)

	code, body := a.do(t, http.MethodPost, "/api/conversations/direct", CreateDirectRequest{UserID: "bob"})
	require.Equal(t, http.StatusOK, code, string(body))
	var conv model.Conversation
	require.NoError(t, json.Unmarshal(body, &conv))

	code, body = a.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/messages", SendMessageRequest{Content: "hi"})
	require.Equal(t, http.StatusAccepted, code, string(body))
	var sent SendMessageResponse
	require.NoError(t, json.Unmarshal(body, &sent))

	code, body = a.do(t, http.MethodGet, "/api/outbox", nil)
	require.Equal(t, http.StatusOK, code)
	var pending []model.QueuedMessage
	require.NoError(t, json.Unmarshal(body, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, sent.LocalID, pending[0].LocalID)

	code, _ = a.do(t, http.MethodPut, "/api/connectivity", map[string]bool{"online": true})
	require.Equal(t, http.StatusOK, code)

	require.Eventually(t, func() bool {
		_, body := a.do(t, http.MethodGet, "/api/conversations/"+conv.ID+"/messages", nil)
		var page model.Page
		return json.Unmarshal(body, &page) == nil && len(page.Messages) == 1 && page.Messages[0].ClientID == sent.LocalID
	}, 2*time.Second, 10*time.Millisecond)

	code, body = a.do(t, http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), conv.ID)
}

func TestErrorMapping(t *testing.T) {
	mem := memory.New()
	alice := newAgent(t, mem, "alice", true)
	bob := newAgent(t, mem, "bob", true)

	code, _ := alice.do(t, http.MethodGet, "/api/conversations/missing/messages", nil)
	assert.Equal(t, http.StatusNotFound, code)

	_, body := alice.do(t, http.MethodPost, "/api/conversations/group", CreateGroupRequest{Name: "team", MemberIDs: []string{"bob"}})
	var group model.Conversation
	require.NoError(t, json.Unmarshal(body, &group))
	base := "/api/conversations/" + group.ID

	code, _ = bob.do(t, http.MethodPost, base+"/members", MemberRequest{UserID: "carol"})
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = alice.do(t, http.MethodPost, base+"/members", MemberRequest{UserID: "bob"})
	assert.Equal(t, http.StatusConflict, code)
	code, _ = alice.do(t, http.MethodPost, base+"/members", MemberRequest{UserID: "carol"})
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = alice.do(t, http.MethodPost, base+"/admin", MemberRequest{UserID: "dave"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	code, _ = alice.do(t, http.MethodPost, base+"/admin", MemberRequest{UserID: "bob"})
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = bob.do(t, http.MethodDelete, base+"/members/carol", nil)
	assert.Equal(t, http.StatusNoContent, code)

	_, body = alice.do(t, http.MethodPost, "/api/conversations/direct", CreateDirectRequest{UserID: "bob"})
	var direct model.Conversation
	require.NoError(t, json.Unmarshal(body, &direct))
	code, _ = alice.do(t, http.MethodPost, "/api/conversations/"+direct.ID+"/members", MemberRequest{UserID: "carol"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, _ = alice.do(t, http.MethodPost, "/api/conversations/direct", map[string]any{"user_id": 5})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestReactionsAndRead(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	a := newAgent(t, mem, "alice", true)
	conv, err := a.sc.Conversations().CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	msg, err := a.sc.Messages().SendMessage(ctx, conv.ID, "bob", "hey", nil, "c1")
	require.NoError(t, err)

	path := "/api/messages/" + msg.ID + "/reactions"
	for i := 0; i < 2; i++ {
		code, _ := a.do(t, http.MethodPost, path, ReactionRequest{Emoji: "👍"})
		require.Equal(t, http.StatusNoContent, code)
	}
	code, body := a.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, code)
	var groups []model.ReactionGroup
	require.NoError(t, json.Unmarshal(body, &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, 1, groups[0].Count)

	code, _ = a.do(t, http.MethodDelete, path+"/%F0%9F%91%8D", nil)
	require.Equal(t, http.StatusNoContent, code)
	stored, err := a.sc.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Reactions)

	code, _ = a.do(t, http.MethodPost, "/api/conversations/"+conv.ID+"/read", nil)
	require.Equal(t, http.StatusNoContent, code)
	stored, err = a.sc.Messages().Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsReadBy("alice"))
}

func TestOutboxDiscard(t *testing.T) {
	ctx := context.Background()
	a := newAgent(t, memory.New(), "alice", false)
	conv, err := a.sc.Conversations().CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	localID, err := a.sc.SendTo(ctx, conv.ID, "draft", nil)
	require.NoError(t, err)

	code, _ := a.do(t, http.MethodPost, "/api/outbox/"+localID+"/retry", nil)
	assert.Equal(t, http.StatusAccepted, code)
	code, _ = a.do(t, http.MethodDelete, "/api/outbox/"+localID, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = a.do(t, http.MethodDelete, "/api/outbox/"+localID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPresence(t *testing.T) {
	a := newAgent(t, memory.New(), "alice", true)
	code, _ := a.do(t, http.MethodPut, "/api/presence", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = a.do(t, http.MethodPut, "/api/presence", map[string]bool{"online": true})
	assert.Equal(t, http.StatusAccepted, code)
	require.Eventually(t, func() bool {
		_, body := a.do(t, http.MethodGet, "/api/presence/alice", nil)
		return strings.Contains(string(body), `"online":true`)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileUploadAndServe(t *testing.T) {
	a := newAgent(t, memory.New(), "alice", true)
	png := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, bytes.Repeat([]byte{1}, 64)...)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "pic.png")
	require.NoError(t, err)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(a.srv.URL+"/api/files", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var up FileUploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&up))
	assert.Equal(t, "image/png", up.ContentType)
	assert.Equal(t, "pic.png", up.FileName)

	got, err := http.Get(a.srv.URL + up.URL)
	require.NoError(t, err)
	defer got.Body.Close()
	require.Equal(t, http.StatusOK, got.StatusCode)
	data, err := io.ReadAll(got.Body)
	require.NoError(t, err)
	assert.Equal(t, png, data)

	missing, err := http.Get(a.srv.URL + "/files/nope.png")
	require.NoError(t, err)
	missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestWSRejectsNonMemberBeforeUpgrade(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	alice := newAgent(t, mem, "alice", true)
	eve := newAgent(t, mem, "eve", true)
	conv, err := alice.sc.Conversations().CreateDirect(ctx, "alice", "bob")
	require.NoError(t, err)
	code, _ := eve.do(t, http.MethodGet, "/ws/conversations/"+conv.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
}
