package segmentbuffer

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-segmentbuffer/internal/api"
	"github.com/m1k1o/go-segmentbuffer/internal/config"
	"github.com/m1k1o/go-segmentbuffer/internal/player"
	"github.com/m1k1o/go-segmentbuffer/internal/server"
)

var Service *Main

func init() {
	Service = &Main{
		PlayerConfig: &config.Player{},
		ServerConfig: &server.Config{},
	}
}

type Main struct {
	PlayerConfig *config.Player
	ServerConfig *server.Config

	logger     zerolog.Logger
	player     *player.ManagerCtx
	apiManager *api.ApiManagerCtx
	server     *server.ServerManagerCtx
}

func (main *Main) Preflight() {
	main.logger = log.With().Str("service", "main").Logger()
}

func (main *Main) Start(ctx context.Context, manifestURL string) error {
	main.player = player.New(main.PlayerConfig.PlayerConfig(manifestURL))
	if err := main.player.Start(ctx); err != nil {
		return err
	}

	if main.ServerConfig.Bind == "" {
		return nil
	}

	main.apiManager = api.New(main.player)

	main.server = server.New(main.ServerConfig)
	main.server.Mount(main.apiManager.Mount)
	return main.server.Start()
}

func (main *Main) Shutdown() {
	if main.server != nil {
		if err := main.server.Shutdown(); err != nil {
			main.logger.Err(err).Msg("server shutdown with an error")
		} else {
			main.logger.Debug().Msg("server shutdown")
		}
	}

	if main.player != nil {
		main.player.Shutdown()
		main.logger.Debug().Msg("player shutdown")
	}
}

func (main *Main) PlayCommand(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	main.logger.Info().Str("manifest", args[0]).Msg("starting playback")
	if err := main.Start(ctx, args[0]); err != nil {
		main.logger.Err(err).Msg("unable to start playback")
		main.Shutdown()
		return
	}
	main.logger.Info().Msg("main ready")

	if err := main.player.Wait(ctx); err != nil {
		main.logger.Warn().Err(err).Msg("interrupted, attempting graceful shutdown")
	} else {
		status := main.player.Status()
		main.logger.Info().
			Float64("time", status.Time).
			Int("stalls", status.Stalls).
			Int64("bytes", status.Fetch.Bytes).
			Int64("failures", status.Fetch.Failures).
			Msg("playback complete")
	}

	main.Shutdown()
	main.logger.Info().Msg("shutdown complete")
}
