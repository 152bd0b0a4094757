package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFeed(t *testing.T, handler http.HandlerFunc) *HTTPFeed {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	feed, err := NewHTTPFeed(HTTPFeedConfig{BaseURL: srv.URL + "/", APIKey: "k", RateLimitPerMinute: 6000})
	require.NoError(t, err)
	return feed
}

func TestNewHTTPFeed_RequiresBaseURL(t *testing.T) {
	_, err := NewHTTPFeed(HTTPFeedConfig{})
	assert.Error(t, err)
}

func TestHTTPFeed_Quotes(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quotes", r.URL.Path)
		assert.Equal(t, "600519,000001", r.URL.Query().Get("codes"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		w.Write([]byte(`[{"code":"600519.SH","price":1650.5,"previous_close":"1640"},{"code":"000001","price":11.2}]`))
	})

	quotes, err := feed.Quotes(context.Background(), []string{"600519", "000001"})
	require.NoError(t, err)
	require.Len(t, quotes, 2)
	assert.True(t, quotes["600519"].Price.Equal(d(1650.5)))
	assert.True(t, quotes["600519"].PreviousClose.Equal(d(1640)))
}

func TestHTTPFeed_QuoteNotFound(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	_, err := feed.Quote(context.Background(), "600000")
	assert.ErrorIs(t, err, ErrNoQuote)
}

func TestHTTPFeed_ServerError(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	})

	_, err := feed.Index(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestHTTPFeed_IndexDecode(t *testing.T) {
	feed := newTestFeed(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"SSE Composite","level":3350.12,"change_pct":-0.31}`))
	})

	idx, err := feed.Index(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SSE Composite", idx.Name)
	assert.True(t, idx.ChangePct.Equal(d(-0.31)))
}
