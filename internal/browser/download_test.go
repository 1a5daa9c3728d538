package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloader_FetchSendsCookiesAndReturnsBody(t *testing.T) {
	var gotCookie string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte("%PDF-1.4 fake contents"))
	}))
	defer server.Close()

	d, err := NewDownloader(100)
	require.NoError(t, err)

	cookies := []*http.Cookie{{Name: "session", Value: "abc123"}}
	data, err := d.Fetch(context.Background(), server.URL, cookies)
	require.NoError(t, err)

	assert.Equal(t, "abc123", gotCookie)
	assert.Contains(t, string(data), "%PDF")
}

func TestDownloader_NonOKStatusIsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	d, err := NewDownloader(100)
	require.NoError(t, err)

	_, err = d.Fetch(context.Background(), server.URL, nil)
	assert.Error(t, err)
}

func TestDownloader_RateLimitDelaysSecondRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	d, err := NewDownloader(2) // 2 req/s, burst 1
	require.NoError(t, err)

	_, err = d.Fetch(context.Background(), server.URL, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = d.Fetch(context.Background(), server.URL, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}
