package user

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	myMiddleware "chatcore/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestHandler_RegisterAndLogin(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewHandler(svc)

	w := httptest.NewRecorder()
	body := `{"email":"ann@example.com","username":"ann","password":"pw"}`
	h.Register(w, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotContains(t, w.Body.String(), "password")

	w = httptest.NewRecorder()
	h.Register(w, httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body)))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"ann@example.com","password":"pw"}`)))
	require.Equal(t, http.StatusOK, w.Code)

	var res LoginResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, "ann", res.User.Username)

	w = httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"ann@example.com","password":"bad"}`)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_UpdateColor(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := newTestService(t)
	h := NewHandler(svc)

	u, err := svc.Register(ctx, &RegisterRequest{Email: "a@b.c", Username: "a", Password: "pw"})
	require.NoError(t, err)

	tests := []struct {
		name       string
		pathID     string
		callerID   int
		body       string
		wantStatus int
	}{
		{name: "own profile", pathID: "1", callerID: u.ID, body: `{"color":"#123456"}`, wantStatus: http.StatusOK},
		{name: "someone else", pathID: "2", callerID: u.ID, body: `{"color":"#123456"}`, wantStatus: http.StatusForbidden},
		{name: "bad color", pathID: "1", callerID: u.ID, body: `{"color":"blue"}`, wantStatus: http.StatusBadRequest},
		{name: "bad id", pathID: "x", callerID: u.ID, body: `{"color":"#123456"}`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPut, "/api/users/"+tt.pathID+"/color", strings.NewReader(tt.body))
			r = r.WithContext(myMiddleware.WithUserID(r.Context(), tt.callerID, "a"))
			r = withURLParam(r, "id", tt.pathID)

			w := httptest.NewRecorder()
			h.UpdateColor(w, r)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}

	assert.Len(t, pub.changes, 1)
}

func TestHandler_UpdateAvatarRequiresAuth(t *testing.T) {
	svc, _, _ := newTestService(t)
	h := NewHandler(svc)

	r := httptest.NewRequest(http.MethodPut, "/api/users/1/avatar", strings.NewReader(`{"avatar":"x"}`))
	r = withURLParam(r, "id", "1")
	w := httptest.NewRecorder()
	h.UpdateAvatar(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_SearchUsers(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	h := NewHandler(svc)

	_, err := svc.Register(ctx, &RegisterRequest{Email: "a@b.c", Username: "alice", Password: "pw"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.SearchUsers(w, httptest.NewRequest(http.MethodGet, "/api/users/search?q=ali", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var users []User
	require.NoError(t, json.NewDecoder(w.Body).Decode(&users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)

	w = httptest.NewRecorder()
	h.SearchUsers(w, httptest.NewRequest(http.MethodGet, "/api/users/search?q=zzz", nil))
	assert.JSONEq(t, `[]`, w.Body.String())
}
