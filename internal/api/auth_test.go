package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npezzotti/go-roomchat/internal/types"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), 42),
			userId:   42,
			expected: true,
		},
		{
			name:     "user set",
			ctx:      WithUser(context.Background(), types.User{Id: 7}),
			userId:   7,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %d", tc.userId)
		})
	}
}

func TestCurrentUser(t *testing.T) {
	_, ok := CurrentUser(context.Background())
	assert.False(t, ok)

	user := types.User{Id: 3, Username: "c", Nickname: "C"}
	got, ok := CurrentUser(WithUser(context.Background(), user))
	assert.True(t, ok)
	assert.Equal(t, user, got)
}

func TestIssueToken(t *testing.T) {
	app := &GoChatApp{signingKey: []byte("secret")}

	token, err := IssueToken(app.signingKey, 12, time.Hour)
	require.NoError(t, err)

	userId, err := app.extractUserIdFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, 12, userId)

	expired, err := IssueToken(app.signingKey, 12, -time.Hour)
	require.NoError(t, err)
	_, err = app.extractUserIdFromToken(expired)
	assert.Error(t, err, "expected expired token to be rejected")
}

func Test_tokenFromRequest(t *testing.T) {
	tcases := []struct {
		name  string
		setup func(r *http.Request)
		token string
		found bool
	}{
		{
			name:  "none",
			setup: func(r *http.Request) {},
		},
		{
			name:  "cookie",
			setup: func(r *http.Request) { r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "c"}) },
			token: "c",
			found: true,
		},
		{
			name:  "bearer header",
			setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer h") },
			token: "h",
			found: true,
		},
		{
			name:  "query string",
			setup: func(r *http.Request) { r.URL.RawQuery = "token=q" },
			token: "q",
			found: true,
		},
		{
			name: "cookie wins",
			setup: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "c"})
				r.URL.RawQuery = "token=q"
			},
			token: "c",
			found: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			tc.setup(req)

			token, ok := tokenFromRequest(req)
			assert.Equal(t, tc.found, ok)
			assert.Equal(t, tc.token, token)
		})
	}
}
