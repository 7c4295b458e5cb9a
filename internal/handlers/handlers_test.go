package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marshtalk/internal/database"
	"marshtalk/internal/engine"
	"marshtalk/internal/models"
	"marshtalk/internal/stream"
	"marshtalk/internal/utils"
)

func newTestServer(t *testing.T) (*httptest.Server, *database.MemoryStore, *stream.Hub) {
	t.Helper()
	store := database.NewMemoryStore()
	hub := stream.NewHub()
	metrics := utils.NewMetricsCollector()
	system := actor.NewActorSystem()
	eng := engine.NewEngine(system, store, metrics)

	server := NewServer(system, eng, store, hub, metrics)
	ts := httptest.NewServer(NewRouter(server, nil))
	t.Cleanup(ts.Close)
	return ts, store, hub
}

func registerUser(t *testing.T, ts *httptest.Server, username string) (uuid.UUID, string) {
	t.Helper()
	body, _ := json.Marshal(RegisterUserRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: "password123",
	})
	resp, err := http.Post(ts.URL+"/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var user models.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&user))

	loginBody, _ := json.Marshal(LoginRequest{Username: username, Password: "password123"})
	loginResp, err := http.Post(ts.URL+"/auth/login", "application/json", bytes.NewReader(loginBody))
	require.NoError(t, err)
	defer loginResp.Body.Close()
	require.Equal(t, http.StatusOK, loginResp.StatusCode)

	var login LoginResponse
	require.NoError(t, json.NewDecoder(loginResp.Body).Decode(&login))
	require.True(t, login.Success)
	require.NotEmpty(t, login.Token)

	return user.ID, login.Token
}

func doJSON(t *testing.T, method, url, token string, payload interface{}) *http.Response {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestAuthFlow(t *testing.T) {
	ts, _, _ := newTestServer(t)

	_, token := registerUser(t, ts, "alice")
	assert.NotEmpty(t, token)

	// Duplicate username is rejected.
	body, _ := json.Marshal(RegisterUserRequest{Username: "alice", Password: "password123"})
	resp, err := http.Post(ts.URL+"/auth/register", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Wrong password fails.
	loginBody, _ := json.Marshal(LoginRequest{Username: "alice", Password: "wrong"})
	loginResp, err := http.Post(ts.URL+"/auth/login", "application/json", bytes.NewReader(loginBody))
	require.NoError(t, err)
	defer loginResp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, loginResp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/threads")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConversationFlow(t *testing.T) {
	ts, _, _ := newTestServer(t)

	aliceID, aliceToken := registerUser(t, ts, "alice")
	bobID, bobToken := registerUser(t, ts, "bob")

	// Alice opens the thread with Bob.
	var created CreateThreadResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/threads", aliceToken, CreateThreadRequest{OtherUserID: bobID.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &created)

	// Opening the same pair from the other side lands on the same thread.
	var again CreateThreadResponse
	resp = doJSON(t, http.MethodPost, ts.URL+"/threads", bobToken, CreateThreadRequest{OtherUserID: aliceID.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &again)
	assert.Equal(t, created.ThreadID, again.ThreadID)

	threadURL := fmt.Sprintf("%s/threads/%s", ts.URL, created.ThreadID)

	// Alice sends a message.
	var message models.Message
	resp = doJSON(t, http.MethodPost, threadURL+"/messages", aliceToken, PostMessageRequest{Text: "hey bob"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	decodeInto(t, resp, &message)
	require.NotNil(t, message.AuthorID)
	assert.Equal(t, aliceID, *message.AuthorID)

	// Blank messages are rejected.
	resp = doJSON(t, http.MethodPost, threadURL+"/messages", aliceToken, PostMessageRequest{Text: "   "})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Bob sees one unread conversation.
	var unread UnreadTotalResponse
	resp = doJSON(t, http.MethodGet, ts.URL+"/unread", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &unread)
	assert.Equal(t, 1, unread.Total)

	// Bob reads the thread; the badge drops to zero.
	var marked MarkReadResponse
	resp = doJSON(t, http.MethodPost, threadURL+"/read", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &marked)

	resp = doJSON(t, http.MethodGet, ts.URL+"/unread", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &unread)
	assert.Equal(t, 0, unread.Total)

	// Alice can see Bob's read mark.
	var pair models.ReadPair
	resp = doJSON(t, http.MethodGet, threadURL+"/read", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &pair)
	require.NotNil(t, pair.PeerReadAt)
	assert.False(t, pair.PeerReadAt.Before(message.CreatedAt))

	// Outsiders cannot post into the thread.
	_, carolToken := registerUser(t, ts, "carol")
	resp = doJSON(t, http.MethodPost, threadURL+"/messages", carolToken, PostMessageRequest{Text: "let me in"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHideThreadClearsHistoryForCallerOnly(t *testing.T) {
	ts, _, _ := newTestServer(t)

	aliceID, aliceToken := registerUser(t, ts, "alice")
	bobID, bobToken := registerUser(t, ts, "bob")

	var created CreateThreadResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/threads", aliceToken, CreateThreadRequest{OtherUserID: bobID.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &created)

	threadURL := fmt.Sprintf("%s/threads/%s", ts.URL, created.ThreadID)

	resp = doJSON(t, http.MethodPost, threadURL+"/messages", aliceToken, PostMessageRequest{Text: "before hide"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Bob hides the thread.
	resp = doJSON(t, http.MethodDelete, threadURL, bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	var bobThreads []*models.ThreadListEntry
	resp = doJSON(t, http.MethodGet, ts.URL+"/threads", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &bobThreads)
	assert.Empty(t, bobThreads)

	// Alice still sees it.
	var aliceThreads []*models.ThreadListEntry
	resp = doJSON(t, http.MethodGet, ts.URL+"/threads", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &aliceThreads)
	require.Len(t, aliceThreads, 1)

	// Messages sent while hidden do not resurface the thread for Bob.
	resp = doJSON(t, http.MethodPost, threadURL+"/messages", aliceToken, PostMessageRequest{Text: "while hidden"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, ts.URL+"/threads", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &bobThreads)
	assert.Empty(t, bobThreads)

	// Re-opening brings the thread back with a clean slate.
	var reopened CreateThreadResponse
	resp = doJSON(t, http.MethodPost, ts.URL+"/threads", bobToken, CreateThreadRequest{OtherUserID: aliceID.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &reopened)
	assert.Equal(t, created.ThreadID, reopened.ThreadID)

	var bobMessages []*models.Message
	resp = doJSON(t, http.MethodGet, threadURL+"/messages", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &bobMessages)
	assert.Empty(t, bobMessages)

	// Only messages after the reopen are visible to Bob.
	resp = doJSON(t, http.MethodPost, threadURL+"/messages", aliceToken, PostMessageRequest{Text: "still here"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, threadURL+"/messages", bobToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &bobMessages)
	require.Len(t, bobMessages, 1)
	assert.Equal(t, "still here", bobMessages[0].Text)
}

func TestTypingReachesPeerOnly(t *testing.T) {
	ts, _, hub := newTestServer(t)

	aliceID, aliceToken := registerUser(t, ts, "alice")
	bobID, _ := registerUser(t, ts, "bob")

	var created CreateThreadResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/threads", aliceToken, CreateThreadRequest{OtherUserID: bobID.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &created)

	bobSub := hub.Subscribe(bobID)
	defer bobSub.Close()
	aliceSub := hub.Subscribe(aliceID)
	defer aliceSub.Close()

	resp = doJSON(t, http.MethodPost, fmt.Sprintf("%s/threads/%s/typing", ts.URL, created.ThreadID), aliceToken, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	require.Len(t, bobSub.C, 1)
	event := <-bobSub.C
	assert.Equal(t, "typing", event.Type)
	assert.Empty(t, aliceSub.C)
}

func TestAdminMaintenanceEndpoints(t *testing.T) {
	ts, store, _ := newTestServer(t)

	_, aliceToken := registerUser(t, ts, "alice")
	bobID, _ := registerUser(t, ts, "bob")

	var created CreateThreadResponse
	resp := doJSON(t, http.MethodPost, ts.URL+"/threads", aliceToken, CreateThreadRequest{OtherUserID: bobID.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &created)

	// Remove Bob.
	resp = doJSON(t, http.MethodPost, fmt.Sprintf("%s/admin/users/%s/remove", ts.URL, bobID), aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	_, err := store.GetUser(context.Background(), bobID)
	assert.Error(t, err)

	// Sweeping a store with no ghosts removes nothing.
	var swept engine.SweepGhostsResult
	resp = doJSON(t, http.MethodPost, ts.URL+"/admin/ghosts/sweep", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &swept)
	assert.Empty(t, swept.RemovedIDs)

	// Bob's removal left a half-empty thread with no messages; backfill
	// deletes it as unrecoverable.
	var report models.BackfillReport
	resp = doJSON(t, http.MethodPost, ts.URL+"/admin/threads/backfill", aliceToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &report)
	assert.Zero(t, report.Recovered)
	assert.Equal(t, 1, report.Unrecoverable)
}
