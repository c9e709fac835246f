package feeds

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rriggio/energino/pkg/telemetry"
)

func testReport() telemetry.Report {
	return telemetry.Report{
		Magic:        "Energino",
		Revision:     1,
		Voltage:      11.984,
		Current:      0.801,
		Power:        9.6,
		RelayOn:      true,
		Period:       2000,
		Samples:      400,
		VoltageError: 53,
		CurrentError: 26,
	}
}

func TestDefaultTopic(t *testing.T) {
	assert.Equal(t, "energino/42", DefaultTopic(42))
	assert.Equal(t, "energino/0", DefaultTopic(0))
}

func TestHTTP_Publish(t *testing.T) {
	var gotMethod, gotPath, gotKey, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-ApiKey")
		gotType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	feed := NewHTTP(srv.URL+"/v2/feeds", 42, "secret-key", zerolog.Nop())
	err := feed.Publish(context.Background(), testReport())
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/v2/feeds/42.csv", gotPath)
	assert.Equal(t, "secret-key", gotKey)
	assert.Equal(t, "text/csv", gotType)
	assert.Equal(t, "voltage,11.984\ncurrent,0.801\npower,9.60\nswitch,1\n", gotBody)
}

func TestHTTP_RelayOff(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer srv.Close()

	rep := testReport()
	rep.RelayOn = false
	feed := NewHTTP(srv.URL, 1, "k", zerolog.Nop())
	require.NoError(t, feed.Publish(context.Background(), rep))

	assert.Contains(t, gotBody, "switch,0\n")
}

func TestHTTP_NoKeyNoHeader(t *testing.T) {
	var hasKey bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasKey = r.Header["X-Apikey"]
	}))
	defer srv.Close()

	feed := NewHTTP(srv.URL, 1, "", zerolog.Nop())
	require.NoError(t, feed.Publish(context.Background(), testReport()))

	assert.False(t, hasKey)
}

func TestHTTP_TrailingSlash(t *testing.T) {
	feed := NewHTTP("http://collector/v2/feeds/", 7, "", zerolog.Nop())
	assert.Equal(t, "http://collector/v2/feeds/7.csv", feed.url)
}

func TestHTTP_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	feed := NewHTTP(srv.URL, 1, "wrong", zerolog.Nop())
	err := feed.Publish(context.Background(), testReport())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestHTTP_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	feed := NewHTTP(srv.URL, 1, "", zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.Error(t, feed.Publish(ctx, testReport()))
}

type stubFeed struct {
	published int
	closed    int
	err       error
}

func (f *stubFeed) Publish(context.Context, telemetry.Report) error {
	f.published++
	return f.err
}

func (f *stubFeed) Close() error {
	f.closed++
	return f.err
}

func TestMulti_PublishesToAll(t *testing.T) {
	ok1 := &stubFeed{}
	bad := &stubFeed{err: errors.New("broker gone")}
	ok2 := &stubFeed{}
	m := Multi{ok1, bad, ok2}

	err := m.Publish(context.Background(), testReport())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker gone")
	assert.Equal(t, 1, ok1.published)
	assert.Equal(t, 1, bad.published)
	assert.Equal(t, 1, ok2.published, "a failing feed does not starve the rest")
}

func TestMulti_Empty(t *testing.T) {
	var m Multi
	assert.NoError(t, m.Publish(context.Background(), testReport()))
	assert.NoError(t, m.Close())
}

func TestMulti_Close(t *testing.T) {
	f1 := &stubFeed{}
	f2 := &stubFeed{}
	m := Multi{f1, f2}

	require.NoError(t, m.Close())
	assert.Equal(t, 1, f1.closed)
	assert.Equal(t, 1, f2.closed)
}
