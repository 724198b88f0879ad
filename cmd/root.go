package cmd

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Default configuration path
const defCfgPath = "/etc/segmentbuffer/"

// ENV prefix for configuration
const envPrefix = "SEGMENTBUFFER"

// Configuration file name, without extension
const cfgName = "segmentbuffer"

var rootCmd = &cobra.Command{
	Use:     "segmentbuffer",
	Short:   "Adaptive media segment buffering CLI.",
	Long:    `Buffers DASH presentations segment by segment into media sinks.`,
	Version: "1.0.0",
}

// called every time the config file changes on disk
var onConfigLoad []func()

func init() {
	var cfgFile string
	var logging logConfig

	// only the log level is reloaded, everything else is read once per run
	onConfigLoad = append(onConfigLoad, func() {
		logging.Set()
		setLogLevel(logging.Level)
	})

	cobra.OnInitialize(func() {
		// config file
		if err := initConfiguration(cfgFile); err != nil {
			panic(err)
		}

		// log configuration
		logging.Set()
		initLogging(logging)

		watchConfiguration()
	})

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "configuration file path")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	_ = logging.Init(rootCmd)
}

func Execute() error {
	return rootCmd.Execute()
}

//
// Configuration initialization
//

func initConfiguration(cfgFile string) error {
	// use configuration file if provided
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(cfgName)

		// system wide configuration, linux only
		if runtime.GOOS == "linux" {
			viper.AddConfigPath(defCfgPath)
		}

		// next to the binary
		viper.AddConfigPath(".")
	}

	// SEGMENTBUFFER_BUFFER_LOW_WATER_MARK sets buffer.low-water-mark
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// read config file
	err := viper.ReadInConfig()
	if err == nil {
		return nil
	}

	// a missing default file is fine, an explicit one must exist
	var notFound viper.ConfigFileNotFoundError
	if cfgFile == "" && errors.As(err, &notFound) {
		return nil
	}

	return fmt.Errorf("fatal error config file: %w", err)
}

func watchConfiguration() {
	file := viper.ConfigFileUsed()
	if file == "" {
		log.Warn().Msg("preflight complete without config file")
		return
	}

	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("op", e.Op.String()).Msg("config file reloaded")

		// call load config
		for _, loadConfig := range onConfigLoad {
			loadConfig()
		}
	})

	viper.WatchConfig()

	log.Info().Str("config", file).Msg("preflight complete with config file")
}
