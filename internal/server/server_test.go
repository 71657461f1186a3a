package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"intouch/internal/cache"
	"intouch/internal/config"
	"intouch/internal/featureflags"
	"intouch/internal/middleware"
	"intouch/internal/models"
	"intouch/internal/service"
	"intouch/internal/storage"
	"intouch/internal/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testJWTSecret = "test-secret-that-is-long-enough-for-hs256"
	testPassword  = "Correct-Horse-42"
)

type fiberMap = map[string]any

type testServer struct {
	*Server
	mr *miniredis.Miniredis
}

// newTestServer wires a Server over in-memory SQLite, miniredis and an
// in-memory blob store, with the gateway subscribed to Redis.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	t.Setenv("APP_ENV", "test")

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := &config.Config{
		Port:                  "8080",
		JWTSecret:             testJWTSecret,
		FeatureFlags:          "typing_indicators=on,membership_notices=on",
		AvatarMaxUploadSizeMB: 2,
		FileMaxUploadSizeMB:   2,
	}

	s, err := NewServerWithDeps(cfg, testutil.NewTestDB(t), rdb, storage.NewMemoryStore())
	require.NoError(t, err)
	require.NoError(t, s.gateway.StartWiring(s.shutdownCtx))
	t.Cleanup(func() {
		s.shutdownFn()
		_ = s.gateway.Shutdown(context.Background())
		_ = rdb.Close()
	})
	return &testServer{Server: s, mr: mr}
}

// tokenFor signs an access token the way AuthService does.
func tokenFor(t *testing.T, userID string) string {
	t.Helper()
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iss": middleware.TokenIssuer,
		"aud": middleware.TokenAudience,
		"exp": now.Add(time.Hour).Unix(),
		"iat": now.Unix(),
		"jti": uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.App().Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAuthFlow_RegisterLoginRefreshLogout(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/auth/register", "", service.RegisterInput{
		Email:     "ada@example.com",
		Password:  testPassword,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Age:       36,
		Sex:       "F",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	profile := decode[models.UserProfile](t, resp)
	assert.Equal(t, "ada@example.com", profile.Email)
	assert.NotEmpty(t, profile.ID)

	resp = ts.do(t, http.MethodPost, "/api/auth/register", "", service.RegisterInput{
		Email: "ada@example.com", Password: testPassword, FirstName: "Ada", LastName: "Again",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeConflict, decode[models.ErrorResponse](t, resp).Code)

	resp = ts.do(t, http.MethodPost, "/api/auth/login", "", fiberMap{"email": "ada@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/auth/login", "", fiberMap{"email": "ada@example.com", "password": testPassword})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pair := decode[service.TokenPair](t, resp)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	resp = ts.do(t, http.MethodGet, "/api/users/me", pair.AccessToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, profile.ID, decode[models.UserProfile](t, resp).ID)

	resp = ts.do(t, http.MethodPost, "/api/auth/refresh", "", fiberMap{"refresh_token": pair.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rotated := decode[service.TokenPair](t, resp)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	resp = ts.do(t, http.MethodPost, "/api/auth/logout", rotated.AccessToken, fiberMap{"refresh_token": rotated.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/users/me", rotated.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "access token is blacklisted after logout")

	resp = ts.do(t, http.MethodPost, "/api/auth/refresh", "", fiberMap{"refresh_token": rotated.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAccountFlow_EmailChangeNeedsConfirmation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/auth/register", "", service.RegisterInput{
		Email: "ada@example.com", Password: testPassword, FirstName: "Ada", LastName: "Lovelace", Age: 36, Sex: "F",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	profile := decode[models.UserProfile](t, resp)
	token := tokenFor(t, profile.ID)

	resp = ts.do(t, http.MethodPost, "/api/account/change-email", token, fiberMap{"password": testPassword, "newEmail": "ada@new.example.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ada@example.com", decode[models.UserProfile](t, resp).Email)

	code, err := ts.mr.Get(cache.EmailChangeKey(profile.ID, "ada@new.example.com"))
	require.NoError(t, err)

	resp = ts.do(t, http.MethodGet, "/api/auth/confirm-email-change?userId="+profile.ID+"&email=ada@new.example.com", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/auth/confirm-email-change?userId="+profile.ID+"&email=ada@new.example.com&token="+code, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/users/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ada@new.example.com", decode[models.UserProfile](t, resp).Email)
}

func TestInviteToPlatform(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.do(t, http.MethodPost, "/api/auth/register", "", service.RegisterInput{
		Email: "ada@example.com", Password: testPassword, FirstName: "Ada", LastName: "Lovelace", Age: 36, Sex: "F",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	token := tokenFor(t, decode[models.UserProfile](t, resp).ID)

	resp = ts.do(t, http.MethodPost, "/api/users/invite?email=grace@example.com", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/users/invite?email=ada@example.com", token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, models.CodeConflict, decode[models.ErrorResponse](t, resp).Code)
}

func TestAuthRequired_RejectsMissingAndForgedTokens(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/users/me", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, models.CodeUnauthorized, decode[models.ErrorResponse](t, resp).Code)
}

func TestAuthRequired_WSTicketIsSingleUse(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.CreateUser(t, ts.db, "Grace", "Hopper")

	resp := ts.do(t, http.MethodPost, "/api/ws/ticket", tokenFor(t, user.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Ticket    string `json:"ticket"`
		ExpiresIn int    `json:"expires_in"`
	}](t, resp)
	require.NotEmpty(t, body.Ticket)
	assert.Equal(t, 60, body.ExpiresIn)

	userID, err := ts.consumeWSTicket(context.Background(), body.Ticket)
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)

	_, err = ts.consumeWSTicket(context.Background(), body.Ticket)
	assert.ErrorIs(t, err, errInvalidTicket)

	// A spent ticket on the upgrade path is refused before the upgrade.
	resp = ts.do(t, http.MethodGet, "/api/ws/chat?ticket="+body.Ticket, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthRequired_WSTicketExpires(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.CreateUser(t, ts.db, "Grace", "Hopper")

	resp := ts.do(t, http.MethodPost, "/api/ws/ticket", tokenFor(t, user.ID), nil)
	ticket := decode[struct {
		Ticket string `json:"ticket"`
	}](t, resp).Ticket

	ts.mr.FastForward(61 * time.Second)
	_, err := ts.consumeWSTicket(context.Background(), ticket)
	assert.ErrorIs(t, err, errInvalidTicket)
}

func TestRelationFlow_InviteAcceptAndList(t *testing.T) {
	ts := newTestServer(t)
	alice := testutil.CreateUser(t, ts.db, "Alice", "Smith")
	bob := testutil.CreateUser(t, ts.db, "Bob", "Jones")
	aliceTok, bobTok := tokenFor(t, alice.ID), tokenFor(t, bob.ID)

	resp := ts.do(t, http.MethodPost, "/api/relations/"+bob.ID+"/invite", aliceTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[models.Result](t, resp).Succeeded)

	resp = ts.do(t, http.MethodPost, "/api/relations/"+bob.ID+"/invite", aliceTok, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "duplicate invitation")

	resp = ts.do(t, http.MethodGet, "/api/relations/pending", bobTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	pending := decode[models.PagedResult[models.RelationUser]](t, resp)
	require.Len(t, pending.Items, 1)
	assert.Equal(t, alice.ID, pending.Items[0].ID)

	resp = ts.do(t, http.MethodPost, "/api/relations/"+alice.ID+"/accept", bobTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/relations?type=friend", aliceTok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(paginationHeader))
	friends := decode[models.PagedResult[models.RelationUser]](t, resp)
	require.Len(t, friends.Items, 1)
	assert.Equal(t, bob.ID, friends.Items[0].ID)

	resp = ts.do(t, http.MethodGet, "/api/relations/"+bob.ID, aliceTok, nil)
	rel := decode[map[string]string](t, resp)
	assert.Equal(t, string(models.RelationFriend), rel["outgoing"])
	assert.Equal(t, string(models.RelationFriend), rel["incoming"])
}

func TestRelationFlow_BlockIsHiddenFromTarget(t *testing.T) {
	ts := newTestServer(t)
	alice := testutil.CreateUser(t, ts.db, "Alice", "Smith")
	bob := testutil.CreateUser(t, ts.db, "Bob", "Jones")

	resp := ts.do(t, http.MethodPost, "/api/relations/"+bob.ID+"/block", tokenFor(t, alice.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/relations/"+alice.ID, tokenFor(t, bob.ID), nil)
	rel := decode[map[string]string](t, resp)
	assert.Empty(t, rel["incoming"])

	resp = ts.do(t, http.MethodPost, "/api/relations/"+alice.ID+"/invite", tokenFor(t, bob.ID), nil)
	assert.NotEqual(t, http.StatusOK, resp.StatusCode, "blocked users cannot invite")
}

func TestRelationRoutes_RejectNonUUID(t *testing.T) {
	ts := newTestServer(t)
	alice := testutil.CreateUser(t, ts.db, "Alice", "Smith")

	resp := ts.do(t, http.MethodPost, "/api/relations/42/invite", tokenFor(t, alice.ID), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, []string{"Invalid user ID"}, decode[models.ErrorResponse](t, resp).Errors)
}

func TestChatFlow_PrivateChatMessages(t *testing.T) {
	ts := newTestServer(t)
	alice := testutil.CreateUser(t, ts.db, "Alice", "Smith")
	bob := testutil.CreateUser(t, ts.db, "Bob", "Jones")
	carol := testutil.CreateUser(t, ts.db, "Carol", "White")
	testutil.MakeFriends(t, ts.db, alice.ID, bob.ID)
	aliceTok := tokenFor(t, alice.ID)

	resp := ts.do(t, http.MethodPost, "/api/chat/private", aliceTok, fiberMap{"email": bob.Email})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chat := decode[models.ChatView](t, resp)
	assert.Equal(t, models.ChatPrivate, chat.Type)
	assert.Len(t, chat.Members, 2)

	for _, content := range []string{"one", "two", "three"} {
		resp = ts.do(t, http.MethodPost, "/api/chat/"+chat.ID+"/messages", aliceTok, fiberMap{"content": content})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp = ts.do(t, http.MethodGet, "/api/chat/"+chat.ID+"/messages?pageNumber=1&pageSize=2", tokenFor(t, bob.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var meta models.PageMeta
	require.NoError(t, json.Unmarshal([]byte(resp.Header.Get(paginationHeader)), &meta))
	assert.Equal(t, int64(3), meta.TotalCount)
	assert.Equal(t, 2, meta.TotalPages)
	assert.True(t, meta.HasNext)
	page := decode[models.PagedResult[models.MessageView]](t, resp)
	assert.Len(t, page.Items, 2)
	assert.Equal(t, meta, page.PageMeta)

	// Outsiders cannot tell the chat exists.
	resp = ts.do(t, http.MethodPost, "/api/chat/"+chat.ID+"/messages", tokenFor(t, carol.ID), fiberMap{"content": "hi"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/api/chat/"+chat.ID, tokenFor(t, carol.ID), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/chat", aliceTok, nil)
	chats := decode[models.PagedResult[models.ChatView]](t, resp)
	require.Len(t, chats.Items, 1)
	assert.Equal(t, chat.ID, chats.Items[0].ID)
}

func TestChatFlow_PrivateChatRequiresFriendship(t *testing.T) {
	ts := newTestServer(t)
	alice := testutil.CreateUser(t, ts.db, "Alice", "Smith")
	bob := testutil.CreateUser(t, ts.db, "Bob", "Jones")

	resp := ts.do(t, http.MethodPost, "/api/chat/private", tokenFor(t, alice.ID), fiberMap{"email": bob.Email})
	assert.NotEqual(t, http.StatusCreated, resp.StatusCode)
}

func TestChatFlow_GroupMembershipChangesPostNotices(t *testing.T) {
	ts := newTestServer(t)
	owner := testutil.CreateUser(t, ts.db, "Olive", "Owner")
	a := testutil.CreateUser(t, ts.db, "Amy", "Adams")
	b := testutil.CreateUser(t, ts.db, "Ben", "Brown")
	c := testutil.CreateUser(t, ts.db, "Cal", "Clark")
	for _, u := range []string{a.ID, b.ID, c.ID} {
		testutil.MakeFriends(t, ts.db, owner.ID, u)
	}
	ownerTok := tokenFor(t, owner.ID)

	resp := ts.do(t, http.MethodPost, "/api/chat/group", ownerTok, fiberMap{
		"name":      "Book club",
		"memberIds": []string{a.ID, b.ID},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chat := decode[models.ChatView](t, resp)
	assert.Len(t, chat.Members, 3)

	resp = ts.do(t, http.MethodPut, "/api/chat/"+chat.ID, tokenFor(t, a.ID), fiberMap{
		"name":      "Hijacked",
		"memberIds": []string{a.ID, b.ID},
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/chat/"+chat.ID+"/members", ownerTok, fiberMap{"userId": c.ID})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/api/chat/"+chat.ID+"/leave", tokenFor(t, b.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/chat/"+chat.ID+"/messages", ownerTok, nil)
	page := decode[models.PagedResult[models.MessageView]](t, resp)
	require.Len(t, page.Items, 2)
	for _, m := range page.Items {
		assert.Equal(t, models.MessageSystem, m.Type)
	}

	resp = ts.do(t, http.MethodGet, "/api/chat/"+chat.ID, ownerTok, nil)
	view := decode[models.ChatView](t, resp)
	ids := make([]string, 0, len(view.Members))
	for _, m := range view.Members {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{owner.ID, a.ID, c.ID}, ids)
}

func TestGetFeatureFlags(t *testing.T) {
	ts := newTestServer(t)
	user := testutil.CreateUser(t, ts.db, "Flag", "Reader")

	resp := ts.do(t, http.MethodGet, "/api/features", tokenFor(t, user.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	flags := decode[[]featureflags.State](t, resp)
	require.Len(t, flags, 2)
	assert.Equal(t, featureflags.State{Name: "membership_notices", Rule: "on", Enabled: true}, flags[0])
	assert.Equal(t, "typing_indicators", flags[1].Name)
}

func TestServeBlob(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.blobs.Put(context.Background(), "files/x.txt", []byte("hello"), "text/plain"))

	resp := ts.do(t, http.MethodGet, "/api/blobs/files/x.txt", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(raw))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	resp = ts.do(t, http.MethodGet, "/api/blobs/files/missing.txt", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
