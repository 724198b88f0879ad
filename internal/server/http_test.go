package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url string) (int, string) {
	res, err := http.Get(url)
	require.NoError(t, err)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func TestRouter(t *testing.T) {
	s := New(&Config{PProf: true})
	s.Mount(func(r *chi.Mux) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("pong"))
		})
		r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
			panic("boom")
		})
	})

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	status, body := get(t, srv.URL+"/ping")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pong", body)

	status, _ = get(t, srv.URL+"/missing")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = get(t, srv.URL+"/panic")
	assert.Equal(t, http.StatusInternalServerError, status)

	status, _ = get(t, srv.URL+pprofPath+"/")
	assert.Equal(t, http.StatusOK, status)
}

func TestStartShutdown(t *testing.T) {
	s := New(&Config{Bind: "127.0.0.1:0"})
	s.Mount(func(r *chi.Mux) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("pong"))
		})
	})

	require.NoError(t, s.Start())

	status, body := get(t, "http://"+s.Addr()+"/ping")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pong", body)

	require.NoError(t, s.Shutdown())

	taken := New(&Config{Bind: s.Addr()})
	other := New(&Config{Bind: "127.0.0.1:0"})
	require.NoError(t, other.Start())
	defer other.Shutdown()

	taken.server.Addr = other.Addr()
	assert.Error(t, taken.Start())
}
