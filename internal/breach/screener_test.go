package breach

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/elskow/memorial-auth/internal/config"
)

// SHA-1("password") = 5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8
const passwordSuffix = "1E4C9B93F3F0682250B6CF8331B7EE68FD8"

func newRangeServer(t *testing.T, seen *atomic.Value) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.URL.Path)
		assert.Equal(t, "true", r.Header.Get("Add-Padding"))
		if r.URL.Path == "/range/5BAA6" {
			fmt.Fprintf(w, "0018A45C4D1DEF81644B54AB7F969B88D65:1\r\n%s:3861493\r\nFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF:0\r\n", passwordSuffix)
			return
		}
		fmt.Fprint(w, "0018A45C4D1DEF81644B54AB7F969B88D65:1\r\n")
	}))
}

func newTestScreener(t *testing.T, baseURL string) *Screener {
	return NewScreener(&config.BreachConfig{
		Enabled: true,
		BaseURL: baseURL,
		Timeout: time.Second,
	}, zaptest.NewLogger(t))
}

func TestDigest(t *testing.T) {
	prefix, suffix := digest("password")
	assert.Equal(t, "5BAA6", prefix)
	assert.Equal(t, passwordSuffix, suffix)
}

func TestScreener_IsBreached(t *testing.T) {
	var seen atomic.Value
	srv := newRangeServer(t, &seen)
	defer srv.Close()

	s := newTestScreener(t, srv.URL)
	ctx := context.Background()

	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{name: "known breached password", password: "password", want: true},
		{name: "random high entropy password", password: "q8#Lm2!vZr7@Tn4$Wx9pKd", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.IsBreached(ctx, tt.password))

			prefix, _ := digest(tt.password)
			assert.Equal(t, "/range/"+prefix, seen.Load(), "only the prefix is sent")
		})
	}
}

func TestScreener_PaddingRowsIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%s:0\r\n", passwordSuffix)
	}))
	defer srv.Close()

	assert.False(t, newTestScreener(t, srv.URL).IsBreached(context.Background(), "password"))
}

func TestScreener_FailsOpen(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		assert.False(t, newTestScreener(t, srv.URL).IsBreached(context.Background(), "password"))
	})

	t.Run("network failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		var breached bool
		require.NotPanics(t, func() {
			breached = newTestScreener(t, url).IsBreached(context.Background(), "password")
		})
		assert.False(t, breached)
	})

	t.Run("timeout", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(2 * time.Second):
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()

		s := NewScreener(&config.BreachConfig{Enabled: true, BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, zaptest.NewLogger(t))
		assert.False(t, s.IsBreached(context.Background(), "password"))
	})
}

func TestScreener_Disabled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	s := NewScreener(&config.BreachConfig{Enabled: false, BaseURL: srv.URL}, zaptest.NewLogger(t))
	assert.False(t, s.IsBreached(context.Background(), "password"))
	assert.Zero(t, calls.Load())
}
