package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForeignOriginIsRejected(t *testing.T) {
	b := newBridge(t)

	req := b.request(http.MethodPost, "/api/voice/v1/join", "")
	req.Header.Set("Origin", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, b.serve(req).Code)
	assert.Nil(t, b.vc.Snapshot().ChannelID, "microphone never captured")

	req = b.request(http.MethodGet, "/api/state", "")
	req.Header.Set("Origin", "https://evil.example")
	assert.Equal(t, http.StatusForbidden, b.serve(req).Code)

	req = b.request(http.MethodPost, "/api/voice/mute", "")
	req.Header.Set("Origin", "null")
	assert.Equal(t, http.StatusForbidden, b.serve(req).Code)
}

func TestRebindingHostIsRejected(t *testing.T) {
	b := newBridge(t)
	req := httptest.NewRequest(http.MethodGet, "http://evil.example:8090/api/csrf-token", nil)
	req.Header.Set("Origin", "http://evil.example:8090")
	assert.Equal(t, http.StatusForbidden, b.serve(req).Code)
}

func TestTrustedOrigins(t *testing.T) {
	b := newBridge(t)

	req := b.request(http.MethodPost, "/api/voice/v1/join", "")
	req.Header.Set("Origin", bridgeURL)
	assert.Equal(t, http.StatusOK, b.serve(req).Code)

	req = b.request(http.MethodPost, "/api/voice/mute", "")
	req.Header.Set("Origin", "http://localhost:5173")
	w := b.serve(req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	pre := httptest.NewRequest(http.MethodOptions, bridgeURL+"/api/voice/mute", nil)
	pre.Header.Set("Origin", "http://localhost:5173")
	pre.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = b.serve(pre)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), TokenHeader)
}

func TestMutationsNeedSessionToken(t *testing.T) {
	b := newBridge(t)

	req := b.request(http.MethodPost, "/api/voice/v1/join", "")
	req.Header.Del(TokenHeader)
	assert.Equal(t, http.StatusForbidden, b.serve(req).Code)

	req = b.request(http.MethodPost, "/api/voice/v1/join", "")
	req.Header.Set(TokenHeader, "guess")
	assert.Equal(t, http.StatusForbidden, b.serve(req).Code)

	// A token is only good with the session it was issued to.
	other := newBridge(t)
	req = b.request(http.MethodPost, "/api/voice/v1/join", "")
	req.Header.Set(TokenHeader, other.token)
	assert.Equal(t, http.StatusForbidden, b.serve(req).Code)

	// Without a session cookie a fresh session is minted and cannot match.
	req = httptest.NewRequest(http.MethodPost, bridgeURL+"/api/voice/v1/join", nil)
	req.Header.Set(TokenHeader, b.token)
	assert.Equal(t, http.StatusForbidden, b.serve(req).Code)

	assert.Nil(t, b.vc.Snapshot().ChannelID)

	req = b.request(http.MethodGet, "/api/state", "")
	req.Header.Del(TokenHeader)
	assert.Equal(t, http.StatusOK, b.serve(req).Code, "reads need no token")

	assert.Equal(t, http.StatusOK, b.do(http.MethodPost, "/api/voice/v1/join", "").Code)
}

func TestEventStreamChecksOriginAndToken(t *testing.T) {
	b := newBridge(t)
	srv := httptest.NewServer(b.engine)
	t.Cleanup(srv.Close)

	_, resp, err := b.dialEvents(srv, b.token, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = b.dialEvents(srv, "", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	assert.Equal(t, 0, b.rt.hub.Len(), "rejected sockets never subscribe")

	sock, _, err := b.dialEvents(srv, b.token, http.Header{"Origin": {"http://localhost:5173"}})
	require.NoError(t, err)
	require.NoError(t, sock.Close())
}

func TestOriginAllowed(t *testing.T) {
	allowed := []string{"http://localhost:5173"}
	cases := map[string]bool{
		"":                      true,
		"http://127.0.0.1:8090": true,
		"http://localhost:5173": true,
		"http://localhost:3000": false,
		"https://evil.example":  false,
		"null":                  false,
	}
	for origin, want := range cases {
		r := httptest.NewRequest(http.MethodGet, bridgeURL+"/api/events", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		assert.Equal(t, want, originAllowed(r, allowed), origin)
	}

	assert.True(t, loopbackHost("localhost:8090"))
	assert.True(t, loopbackHost("[::1]:8090"))
	assert.True(t, loopbackHost("127.0.0.1"))
	assert.False(t, loopbackHost("evil.example:8090"))
	assert.False(t, loopbackHost("192.168.1.4:8090"))
}
