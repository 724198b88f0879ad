package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/m1k1o/go-segmentbuffer/internal/player"
	"github.com/m1k1o/go-segmentbuffer/pkg/engine"
)

type ApiManagerCtx struct {
	logger zerolog.Logger
	player player.Manager
}

func New(p player.Manager) *ApiManagerCtx {
	return &ApiManagerCtx{
		logger: log.With().Str("module", "api").Logger(),
		player: p,
	}
}

func (a *ApiManagerCtx) Mount(r *chi.Mux) {
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		//nolint
		w.Write([]byte("pong"))
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		a.json(w, http.StatusOK, a.player.Status())
	})

	r.Get("/renditions", func(w http.ResponseWriter, r *http.Request) {
		a.json(w, http.StatusOK, a.player.Renditions())
	})

	r.Post("/rendition/{key}", func(w http.ResponseWriter, r *http.Request) {
		key := chi.URLParam(r, "key")

		if err := a.player.SwitchRendition(r.Context(), key); err != nil {
			a.error(w, err)
			return
		}

		a.logger.Info().Str("key", key).Msg("rendition switched")
		a.json(w, http.StatusOK, a.player.Status())
	})

	r.Post("/seek/{time}", func(w http.ResponseWriter, r *http.Request) {
		t, err := strconv.ParseFloat(chi.URLParam(r, "time"), 64)
		if err != nil {
			a.error(w, player.ErrInvalidTime)
			return
		}

		if err := a.player.Seek(t); err != nil {
			a.error(w, err)
			return
		}

		a.json(w, http.StatusOK, a.player.Status())
	})
}

type errorStatus struct {
	err    error
	status int
}

var errorStatuses = []errorStatus{
	{player.ErrInvalidTime, http.StatusBadRequest},
	{engine.ErrUnknownRendition, http.StatusNotFound},
	{player.ErrNotStarted, http.StatusConflict},
	{engine.ErrNotInitialized, http.StatusConflict},
	{engine.ErrAdActive, http.StatusConflict},
	{engine.ErrDestroyed, http.StatusGone},
}

func (a *ApiManagerCtx) error(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if match, ok := lo.Find(errorStatuses, func(e errorStatus) bool {
		return errors.Is(err, e.err)
	}); ok {
		status = match.status
	}

	if status >= 500 {
		a.logger.Warn().Err(err).Msg("request failed")
	}

	a.json(w, status, map[string]string{"error": err.Error()})
}

func (a *ApiManagerCtx) json(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn().Err(err).Msg("unable to write response")
	}
}
