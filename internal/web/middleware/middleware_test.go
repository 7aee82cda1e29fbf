package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/fieldexport/internal/core"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name       string
		trusted    []string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"no proxies configured", nil, "203.0.113.5:4000", map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.5"},
		{"untrusted proxy", []string{"10.0.0.0/8"}, "203.0.113.5:4000", map[string]string{"X-Real-IP": "1.2.3.4"}, "203.0.113.5"},
		{"trusted x-real-ip", []string{"10.0.0.0/8"}, "10.1.2.3:4000", map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
		{"trusted forwarded chain", []string{"10.0.0.1"}, "10.0.0.1:4000", map[string]string{"X-Forwarded-For": "5.6.7.8, 10.0.0.9"}, "5.6.7.8"},
		{"malformed header ignored", []string{"10.0.0.0/8"}, "10.1.2.3:4000", map[string]string{"X-Real-IP": "not-an-ip"}, "10.1.2.3"},
		{"invalid cidr skipped", []string{"bogus", "10.0.0.0/8"}, "10.1.2.3:4000", map[string]string{"X-Real-IP": "1.2.3.4"}, "1.2.3.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = core.IPAddressFromContext(r.Context())
			}))

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), r)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute, ByIP)
	defer rl.Stop()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"), "third request in the window")
	assert.True(t, rl.Allow("b"), "keys are independent")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"), "window reset")
}

func TestByUser(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(core.ContextWithIPAddress(r.Context(), "1.2.3.4"))
	assert.Equal(t, "ip:1.2.3.4", ByUser(r))

	r = r.WithContext(core.ContextWithUserID(r.Context(), 42))
	assert.Equal(t, "user:42", ByUser(r))
}

func TestIsValidAPIKey(t *testing.T) {
	keys := []string{"alpha", "beta"}
	assert.True(t, isValidAPIKey("beta", keys))
	assert.False(t, isValidAPIKey("gamma", keys))
	assert.False(t, isValidAPIKey("alpha", nil))
}

func TestLoggerSeesUser(t *testing.T) {
	h := Logger(UserIdentity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, int64(12), core.UserIDFromContext(r.Context()))
		holder, ok := r.Context().Value(userHolderKey{}).(*userHolder)
		if assert.True(t, ok) {
			assert.Equal(t, int64(12), holder.id)
		}
		w.WriteHeader(http.StatusTeapot)
	})))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(UserIDHeader, "12")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, http.StatusTeapot, w.Code)
}
