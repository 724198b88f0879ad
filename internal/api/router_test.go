package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m1k1o/go-segmentbuffer/internal/player"
	"github.com/m1k1o/go-segmentbuffer/pkg/engine"
)

type fakePlayer struct {
	time      float64
	rendition string
	switchErr error
}

func (p *fakePlayer) Start(ctx context.Context) error { return nil }
func (p *fakePlayer) Wait(ctx context.Context) error  { return nil }
func (p *fakePlayer) Shutdown()                       {}

func (p *fakePlayer) Status() player.Status {
	return player.Status{
		Time:   p.time,
		Engine: engine.Status{Rendition: p.rendition},
	}
}

func (p *fakePlayer) Renditions() []engine.Rendition {
	return []engine.Rendition{
		{ID: "v1", Resolution: "640x360"},
		{ID: "v2", Resolution: "1280x720"},
	}
}

func (p *fakePlayer) Seek(t float64) error {
	if t < 0 {
		return fmt.Errorf("%w: %v", player.ErrInvalidTime, t)
	}
	p.time = t
	return nil
}

func (p *fakePlayer) SwitchRendition(ctx context.Context, key string) error {
	if p.switchErr != nil {
		return p.switchErr
	}
	if key != "v1" && key != "v2" {
		return fmt.Errorf("%w: %q", engine.ErrUnknownRendition, key)
	}
	p.rendition = key
	return nil
}

func newTestServer(t *testing.T, p player.Manager) *httptest.Server {
	router := chi.NewRouter()
	New(p).Mount(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string, out any) int {
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	if out != nil {
		assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestStatus(t *testing.T) {
	p := &fakePlayer{time: 3.5, rendition: "v1"}
	srv := newTestServer(t, p)

	var status player.Status
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/status", &status))
	assert.Equal(t, 3.5, status.Time)
	assert.Equal(t, "v1", status.Engine.Rendition)

	var renditions []engine.Rendition
	assert.Equal(t, http.StatusOK, do(t, http.MethodGet, srv.URL+"/renditions", &renditions))
	assert.Len(t, renditions, 2)
	assert.Equal(t, "1280x720", renditions[1].Resolution)
}

func TestSeek(t *testing.T) {
	p := &fakePlayer{}
	srv := newTestServer(t, p)

	var status player.Status
	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/seek/42.5", &status))
	assert.Equal(t, 42.5, status.Time)

	var body map[string]string
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/seek/abc", &body))
	assert.Contains(t, body["error"], "invalid seek time")

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPost, srv.URL+"/seek/-1", &body))

	assert.Equal(t, http.StatusMethodNotAllowed, do(t, http.MethodGet, srv.URL+"/seek/1", nil))
}

func TestSwitchRendition(t *testing.T) {
	p := &fakePlayer{rendition: "v1"}
	srv := newTestServer(t, p)

	var status player.Status
	assert.Equal(t, http.StatusOK, do(t, http.MethodPost, srv.URL+"/rendition/v2", &status))
	assert.Equal(t, "v2", status.Engine.Rendition)

	var body map[string]string
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodPost, srv.URL+"/rendition/v9", &body))
	assert.Contains(t, body["error"], "unknown rendition")

	p.switchErr = player.ErrNotStarted
	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, srv.URL+"/rendition/v1", &body))

	p.switchErr = fmt.Errorf("boom")
	assert.Equal(t, http.StatusInternalServerError, do(t, http.MethodPost, srv.URL+"/rendition/v1", &body))
	assert.Equal(t, "boom", body["error"])
}
