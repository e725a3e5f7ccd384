package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relaygate/config"
	"relaygate/internal/core"
)

func TestAuthMiddleware(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	limit := int64(100)

	keys := []config.APIKeyConfig{
		{Key: "sk-premium", ID: "vip", Premium: true, ExpiresAt: &future, UsageLimit: &limit},
		{Key: "sk-basic", ID: "basic"},
		{Key: "sk-expired", ID: "old", Premium: true, ExpiresAt: &past},
	}

	tests := []struct {
		name             string
		keys             []config.APIKeyConfig
		authHeader       string
		expectedStatus   int
		expectedBody     string
		expectedIdentity *core.CallerIdentity
	}{
		{
			name:           "no keys configured - anonymous",
			authHeader:     "",
			expectedStatus: http.StatusOK,
			expectedBody:   "ok",
		},
		{
			name:             "premium key",
			keys:             keys,
			authHeader:       "Bearer sk-premium",
			expectedStatus:   http.StatusOK,
			expectedBody:     "ok",
			expectedIdentity: &core.CallerIdentity{ID: "vip", Premium: true, ExpiresAt: &future, UsageLimit: &limit},
		},
		{
			name:             "basic key",
			keys:             keys,
			authHeader:       "Bearer sk-basic",
			expectedStatus:   http.StatusOK,
			expectedBody:     "ok",
			expectedIdentity: &core.CallerIdentity{ID: "basic"},
		},
		{
			name:           "missing authorization header",
			keys:           keys,
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"missing authorization header","type":"authentication_error"}}`,
		},
		{
			name:           "invalid authorization format",
			keys:           keys,
			authHeader:     "sk-basic",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"invalid authorization header format, expected 'Bearer <token>'","type":"authentication_error"}}`,
		},
		{
			name:           "unknown key",
			keys:           keys,
			authHeader:     "Bearer wrong-key",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"invalid api key","type":"authentication_error"}}`,
		},
		{
			name:           "expired key",
			keys:           keys,
			authHeader:     "Bearer sk-expired",
			expectedStatus: http.StatusUnauthorized,
			expectedBody:   `{"error":{"message":"api key expired","type":"authentication_error"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			var seen *core.CallerIdentity
			handler := func(c echo.Context) error {
				seen = core.GetCallerIdentity(c.Request().Context())
				return c.String(http.StatusOK, "ok")
			}

			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetPath("/v1/chat/completions")

			err := authMiddleware(tt.keys, []string{"/health"}, func() time.Time { return now })(handler)(c)
			require.NoError(t, err)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			if tt.expectedStatus == http.StatusOK {
				assert.Equal(t, tt.expectedBody, rec.Body.String())
			} else {
				assert.JSONEq(t, tt.expectedBody, rec.Body.String())
			}
			assert.Equal(t, tt.expectedIdentity, seen)
		})
	}
}

func TestAuthMiddleware_SkipPaths(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/health")

	mw := AuthMiddleware([]config.APIKeyConfig{{Key: "k"}}, []string{"/health"})
	err := mw(func(c echo.Context) error { return c.String(http.StatusOK, "ok") })(c)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_PremiumGatingThroughAuth(t *testing.T) {
	mock := &mockGateway{response: `{}`}
	srv := newTestServer(mock, &Config{APIKeys: []config.APIKeyConfig{{Key: "sk-vip", ID: "vip", Premium: true}}})

	rec := post(srv, `{}`, map[string]string{"Authorization": "Bearer sk-vip"})

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, mock.identity)
	assert.True(t, mock.identity.Premium)
	assert.Equal(t, "vip", mock.identity.ID)
}
