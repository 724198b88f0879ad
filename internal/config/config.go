package config

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/m1k1o/go-segmentbuffer/internal/player"
	"github.com/m1k1o/go-segmentbuffer/pkg/engine"
	"github.com/m1k1o/go-segmentbuffer/pkg/fetcher"
)

type Config interface {
	Init(cmd *cobra.Command) error
	Set()
}

type Buffer struct {
	LowWaterMark      float64       `mapstructure:"low-water-mark"`
	HighWaterMark     float64       `mapstructure:"high-water-mark"`
	MonitorInterval   time.Duration `mapstructure:"monitor-interval"`
	SeekRetention     float64       `mapstructure:"seek-retention"`
	AdOverlay         bool          `mapstructure:"ad-overlay"`
	SegmentRetries    int           `mapstructure:"segment-retries"`
	SegmentRetryDelay time.Duration `mapstructure:"segment-retry-delay"`
	PrefetchCount     int           `mapstructure:"prefetch-count"`
	ClearOnSwitch     bool          `mapstructure:"clear-on-switch"`
}

type Fetch struct {
	MaxConcurrent   int           `mapstructure:"max-concurrent"`
	MaxRetries      int           `mapstructure:"max-retries"`
	RetryBaseDelay  time.Duration `mapstructure:"retry-base-delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DisableCache    bool          `mapstructure:"disable-cache"`
	UserAgent       string        `mapstructure:"user-agent"`
	MaxResponseSize int64         `mapstructure:"max-response-size"`
	CacheExpiration time.Duration `mapstructure:"cache-expiration"`
}

type Player struct {
	Output    string
	Rendition string
	Rate      float64
	Tick      time.Duration

	Buffer        Buffer
	Fetch         Fetch
	Ads           []player.Ad
	MaxAdDuration float64
}

func (Player) Init(cmd *cobra.Command) error {
	cmd.PersistentFlags().String("output", "", "directory the media sinks are written to")
	if err := viper.BindPFlag("output", cmd.PersistentFlags().Lookup("output")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("rendition", "", "initial video rendition, id or WxH")
	if err := viper.BindPFlag("rendition", cmd.PersistentFlags().Lookup("rendition")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("rate", 1, "playback speed of the simulated clock")
	if err := viper.BindPFlag("rate", cmd.PersistentFlags().Lookup("rate")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("tick", 250*time.Millisecond, "resolution of the simulated clock")
	if err := viper.BindPFlag("tick", cmd.PersistentFlags().Lookup("tick")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("max-ad-duration", 30, "seconds, longer ads are skipped")
	if err := viper.BindPFlag("max-ad-duration", cmd.PersistentFlags().Lookup("max-ad-duration")); err != nil {
		return err
	}

	//
	// buffer
	//

	cmd.PersistentFlags().Float64("buffer.low-water-mark", 10, "seconds of buffer ahead considered steady")
	if err := viper.BindPFlag("buffer.low-water-mark", cmd.PersistentFlags().Lookup("buffer.low-water-mark")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("buffer.high-water-mark", 30, "seconds of buffer ahead never exceeded")
	if err := viper.BindPFlag("buffer.high-water-mark", cmd.PersistentFlags().Lookup("buffer.high-water-mark")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("buffer.monitor-interval", time.Second, "how often buffer ahead is re-checked")
	if err := viper.BindPFlag("buffer.monitor-interval", cmd.PersistentFlags().Lookup("buffer.monitor-interval")); err != nil {
		return err
	}

	cmd.PersistentFlags().Float64("buffer.seek-retention", 0, "seconds kept around a seek target")
	if err := viper.BindPFlag("buffer.seek-retention", cmd.PersistentFlags().Lookup("buffer.seek-retention")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("buffer.ad-overlay", false, "allow ads to be overlaid on the video track")
	if err := viper.BindPFlag("buffer.ad-overlay", cmd.PersistentFlags().Lookup("buffer.ad-overlay")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("buffer.segment-retries", 2, "retries of a failed segment before it is skipped")
	if err := viper.BindPFlag("buffer.segment-retries", cmd.PersistentFlags().Lookup("buffer.segment-retries")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("buffer.segment-retry-delay", 500*time.Millisecond, "delay between segment retries")
	if err := viper.BindPFlag("buffer.segment-retry-delay", cmd.PersistentFlags().Lookup("buffer.segment-retry-delay")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("buffer.prefetch-count", 2, "segments fetched right after a rendition switch")
	if err := viper.BindPFlag("buffer.prefetch-count", cmd.PersistentFlags().Lookup("buffer.prefetch-count")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("buffer.clear-on-switch", false, "drop buffered media on rendition switch")
	if err := viper.BindPFlag("buffer.clear-on-switch", cmd.PersistentFlags().Lookup("buffer.clear-on-switch")); err != nil {
		return err
	}

	//
	// fetch
	//

	cmd.PersistentFlags().Int("fetch.max-concurrent", 4, "maximum requests in flight")
	if err := viper.BindPFlag("fetch.max-concurrent", cmd.PersistentFlags().Lookup("fetch.max-concurrent")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int("fetch.max-retries", 3, "attempts per request")
	if err := viper.BindPFlag("fetch.max-retries", cmd.PersistentFlags().Lookup("fetch.max-retries")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("fetch.retry-base-delay", 100*time.Millisecond, "base of the exponential retry backoff")
	if err := viper.BindPFlag("fetch.retry-base-delay", cmd.PersistentFlags().Lookup("fetch.retry-base-delay")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("fetch.timeout", 10*time.Second, "timeout of a single attempt")
	if err := viper.BindPFlag("fetch.timeout", cmd.PersistentFlags().Lookup("fetch.timeout")); err != nil {
		return err
	}

	cmd.PersistentFlags().Bool("fetch.disable-cache", false, "do not keep fetched segments in memory")
	if err := viper.BindPFlag("fetch.disable-cache", cmd.PersistentFlags().Lookup("fetch.disable-cache")); err != nil {
		return err
	}

	cmd.PersistentFlags().Duration("fetch.cache-expiration", 0, "how long fetched segments are kept in memory, 0 until playback stops")
	if err := viper.BindPFlag("fetch.cache-expiration", cmd.PersistentFlags().Lookup("fetch.cache-expiration")); err != nil {
		return err
	}

	cmd.PersistentFlags().String("fetch.user-agent", fetcher.DefaultUserAgent, "user agent sent with every request")
	if err := viper.BindPFlag("fetch.user-agent", cmd.PersistentFlags().Lookup("fetch.user-agent")); err != nil {
		return err
	}

	cmd.PersistentFlags().Int64("fetch.max-response-size", 0, "maximum decoded response size in bytes, 0 for unlimited")
	if err := viper.BindPFlag("fetch.max-response-size", cmd.PersistentFlags().Lookup("fetch.max-response-size")); err != nil {
		return err
	}

	return nil
}

func (p *Player) Set() {
	p.Output = viper.GetString("output")
	if p.Output == "" {
		cwd, _ := os.Getwd()
		p.Output = cwd
	}

	p.Rendition = viper.GetString("rendition")
	p.Rate = viper.GetFloat64("rate")
	p.Tick = viper.GetDuration("tick")
	p.MaxAdDuration = viper.GetFloat64("max-ad-duration")

	p.Buffer = Buffer{
		LowWaterMark:      viper.GetFloat64("buffer.low-water-mark"),
		HighWaterMark:     viper.GetFloat64("buffer.high-water-mark"),
		MonitorInterval:   viper.GetDuration("buffer.monitor-interval"),
		SeekRetention:     viper.GetFloat64("buffer.seek-retention"),
		AdOverlay:         viper.GetBool("buffer.ad-overlay"),
		SegmentRetries:    viper.GetInt("buffer.segment-retries"),
		SegmentRetryDelay: viper.GetDuration("buffer.segment-retry-delay"),
		PrefetchCount:     viper.GetInt("buffer.prefetch-count"),
		ClearOnSwitch:     viper.GetBool("buffer.clear-on-switch"),
	}

	p.Fetch = Fetch{
		MaxConcurrent:   viper.GetInt("fetch.max-concurrent"),
		MaxRetries:      viper.GetInt("fetch.max-retries"),
		RetryBaseDelay:  viper.GetDuration("fetch.retry-base-delay"),
		Timeout:         viper.GetDuration("fetch.timeout"),
		DisableCache:    viper.GetBool("fetch.disable-cache"),
		UserAgent:       viper.GetString("fetch.user-agent"),
		MaxResponseSize: viper.GetInt64("fetch.max-response-size"),
		CacheExpiration: viper.GetDuration("fetch.cache-expiration"),
	}

	// ads are only read from the config file
	if err := viper.UnmarshalKey("ads", &p.Ads); err != nil {
		log.Panic().Err(err).Msg("unable to unmarshal ads config")
	}

	if p.Buffer.HighWaterMark < p.Buffer.LowWaterMark {
		log.Warn().
			Float64("low", p.Buffer.LowWaterMark).
			Float64("high", p.Buffer.HighWaterMark).
			Msg("high water mark below low water mark, using low water mark")
		p.Buffer.HighWaterMark = p.Buffer.LowWaterMark
	}
}

// PlayerConfig builds the player configuration for a manifest.
func (p *Player) PlayerConfig(manifestURL string) player.Config {
	return player.Config{
		ManifestURL:   manifestURL,
		Output:        p.Output,
		Rendition:     p.Rendition,
		Rate:          p.Rate,
		Tick:          p.Tick,
		Ads:           p.Ads,
		MaxAdDuration: p.MaxAdDuration,
		Engine: engine.Config{
			LowWaterMark:      p.Buffer.LowWaterMark,
			HighWaterMark:     p.Buffer.HighWaterMark,
			MonitorInterval:   p.Buffer.MonitorInterval,
			SeekRetention:     p.Buffer.SeekRetention,
			AdOverlay:         p.Buffer.AdOverlay,
			SegmentRetries:    p.Buffer.SegmentRetries,
			SegmentRetryDelay: p.Buffer.SegmentRetryDelay,
			PrefetchCount:     p.Buffer.PrefetchCount,
			ClearOnSwitch:     p.Buffer.ClearOnSwitch,
		},
		Fetcher: fetcher.Config{
			MaxConcurrent:   p.Fetch.MaxConcurrent,
			MaxRetries:      p.Fetch.MaxRetries,
			RetryBaseDelay:  p.Fetch.RetryBaseDelay,
			Timeout:         p.Fetch.Timeout,
			DisableCache:    p.Fetch.DisableCache,
			UserAgent:       p.Fetch.UserAgent,
			MaxResponseSize: p.Fetch.MaxResponseSize,
			CacheExpiration: p.Fetch.CacheExpiration,
		},
	}
}
