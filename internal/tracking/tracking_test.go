package tracking

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

type recordingDoer struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (d *recordingDoer) Do(req *http.Request) (*http.Response, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, req.URL.String())
	if d.err != nil {
		return nil, d.err
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}, nil
}

func (d *recordingDoer) calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.urls))
	copy(out, d.urls)
	return out
}

func TestNewDetails(t *testing.T) {
	d := NewDetails("mdtn", "300x250", "Summer Sälé")
	assert.Equal(t, "MDTN", d.Billable)
	assert.Equal(t, "summer_sale-300x250", d.Creative)
	assert.Equal(t, Params{PO: "MDTN", C: "summer_sale-300x250"}, d.Params())

	fallback := NewDetails("", "", "")
	assert.Equal(t, "UNDEFINED_ENTITY", fallback.Billable)
	assert.Equal(t, "no_style-NO_SIZE", fallback.Creative)
}

func TestTrackAtMostOnce(t *testing.T) {
	doer := &recordingDoer{}
	c := NewClient(NewDetails("mdtn", "300x250", "style"), WithDoer(doer))

	assert.True(t, c.Track(Impression))
	assert.False(t, c.Track(Impression))
	assert.True(t, c.Track(Exit))
	assert.False(t, c.Track(Exit))
	c.Wait()

	calls := doer.calls()
	require.Len(t, calls, 2)
	assert.True(t, c.Fired(Impression))
	assert.True(t, c.Fired(Exit))
}

func TestBeaconURL(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1700000000123))
	c := NewClient(NewDetails("mdtn", "300x250", "style"), WithClock(mock), WithEndpoint("https://track.test/"))

	u, err := url.Parse(c.BeaconURL(Impression))
	require.NoError(t, err)
	assert.Equal(t, "track.test", u.Host)
	q := u.Query()
	assert.Equal(t, "style-300x250", q.Get("c"))
	assert.Equal(t, "MDTN", q.Get("po"))
	assert.Equal(t, "impression", q.Get("count"))
	assert.Equal(t, "1700000000123", q.Get("ord"))
}

func TestTrackFailureIsSilent(t *testing.T) {
	doer := &recordingDoer{err: errors.New("offline")}
	c := NewClient(NewDetails("", "", ""), WithDoer(doer))

	assert.True(t, c.Track(Impression))
	c.Wait()
	assert.Len(t, doer.calls(), 1)
	assert.False(t, c.Track(Impression), "failed beacons are not retried")
}

func TestTrackAgainstHTTPServer(t *testing.T) {
	var mu sync.Mutex
	var counts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		counts = append(counts, r.URL.Query().Get("count"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(NewDetails("pbls", "NO_SIZE", "x"), WithEndpoint(srv.URL+"/"), WithDoer(srv.Client()))
	c.Track(Impression)
	c.Track(Impression)
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"impression"}, counts)
}
