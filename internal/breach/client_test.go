package breach

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SHA-1("password") = 5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8
const (
	passwordPrefix = "5BAA6"
	passwordSuffix = "1E4C9B93F3F0682250B6CF8331B7EE68FD8"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{BaseURL: server.URL, Transport: http.DefaultTransport})
}

func TestHashPassword(t *testing.T) {
	prefix, suffix := hashPassword("password")
	assert.Equal(t, passwordPrefix, prefix)
	assert.Equal(t, passwordSuffix, suffix)
}

func TestMatchSuffix(t *testing.T) {
	body := []byte("0018A45C4D1DEF81644B54AB7F969B88D65:1\r\n" +
		"1e4c9b93f3f0682250b6cf8331b7ee68fd8:3730471\r\n" +
		"garbage\r\n" +
		"011053FD0102E94D6AE2F8B83D76FAF94F6:0\r\n")

	assert.Equal(t, 3730471, matchSuffix(body, passwordSuffix))
	assert.Equal(t, 0, matchSuffix(body, "011053FD0102E94D6AE2F8B83D76FAF94F6"))
	assert.Equal(t, 0, matchSuffix(body, "FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFF"))
	assert.Equal(t, 0, matchSuffix(nil, passwordSuffix))
}

func TestClient_Lookup_SendsPrefixOnly(t *testing.T) {
	var gotPath, gotPadding, gotUA string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPadding = r.Header.Get("Add-Padding")
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprintf(w, "%s:42\r\nAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA:0\r\n", passwordSuffix)
	}))

	count, err := c.Lookup(context.Background(), "password")
	require.NoError(t, err)
	assert.Equal(t, 42, count)
	assert.Equal(t, "/range/"+passwordPrefix, gotPath)
	assert.Equal(t, "true", gotPadding)
	assert.Equal(t, "passvault", gotUA)
	assert.True(t, c.IsBreached(context.Background(), "password"))
}

func TestClient_IsBreached_NotInCorpus(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0018A45C4D1DEF81644B54AB7F969B88D65:1\n")
	}))

	assert.False(t, c.IsBreached(context.Background(), "Tr0ub4dor&3"))
}

func TestClient_Lookup_RetriesServerErrors(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "%s:7\n", passwordSuffix)
	}))

	count, err := c.Lookup(context.Background(), "password")
	require.NoError(t, err)
	assert.Equal(t, 7, count)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClient_Lookup_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := c.Lookup(context.Background(), "password")
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, int32(maxRetries+1), atomic.LoadInt32(&calls))
}

func TestClient_Lookup_ClientErrorNotRetried(t *testing.T) {
	var calls int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))

	_, err := c.Lookup(context.Background(), "password")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.False(t, c.IsBreached(context.Background(), "password"))
}

func TestClient_IsBreached_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(Config{BaseURL: url, Transport: http.DefaultTransport})
	assert.False(t, c.IsBreached(context.Background(), "password"))
}

func TestNewClient_Defaults(t *testing.T) {
	c := NewClient(Config{})
	assert.Equal(t, DefaultBaseURL, c.baseURL)
	assert.Equal(t, defaultTimeout, c.http.Timeout)
	assert.NotNil(t, c.http.Transport)
}

func TestFuncAndNop(t *testing.T) {
	var got string
	f := Func(func(_ context.Context, pw string) bool {
		got = pw
		return true
	})
	assert.True(t, f.IsBreached(context.Background(), "x"))
	assert.Equal(t, "x", got)
	assert.False(t, Nop.IsBreached(context.Background(), "password"))
}
