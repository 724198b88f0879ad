package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/m1k1o/go-segmentbuffer"
	"github.com/m1k1o/go-segmentbuffer/internal/config"
)

func init() {
	configs := []config.Config{
		segmentbuffer.Service.PlayerConfig,
		segmentbuffer.Service.ServerConfig,
	}

	command := &cobra.Command{
		Use:   "play <manifest-url>",
		Short: "buffer a DASH presentation with a headless player",
		Long:  `Loads a DASH manifest and plays it with a simulated clock, writing each track to a file and serving a control api.`,
		Args:  cobra.ExactArgs(1),
		// runs after the config file is read
		PreRun: func(cmd *cobra.Command, args []string) {
			for _, cfg := range configs {
				cfg.Set()
			}
			segmentbuffer.Service.Preflight()
		},
		Run: segmentbuffer.Service.PlayCommand,
	}

	for _, cfg := range configs {
		if err := cfg.Init(command); err != nil {
			log.Panic().Err(err).Msg("unable to run play command")
		}
	}

	rootCmd.AddCommand(command)
}
