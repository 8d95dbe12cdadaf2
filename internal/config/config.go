package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/spf13/viper"
)

// Config is the plain-value configuration surface consumed by the playback
// engine. All values are read once at startup; the engine never touches viper
// directly.
type Config struct {
	// Directory containing one clip file per language, named <language>.<ext>.
	ClipsDir      string
	ClipExtension string

	// Substring filter applied to output device names during discovery.
	DeviceFilter string

	// Seconds of silence before a random clip auto-plays.
	FallbackTime time.Duration
	// Duration of the fade-out applied when a new clip supersedes a playing one.
	FadeoutLength time.Duration

	// "abort" or "fadeout".
	OverlapStrategy string

	// Frames per block delivered to the realtime callback.
	BlockSize int
	// Depth of the feeder queue, in blocks.
	QueueCapacity int
	// Number of blocks of each clip held in memory, enqueued before storage reads.
	PreloadBlocks int

	// When non-zero, clips are resampled to this rate at load/stream time.
	// Zero keeps each clip's native rate.
	OutputSampleRate int

	LogLevel string
	LogFile  string

	// Listen address for the Prometheus /metrics endpoint. Empty disables it.
	MetricsAddr string

	// Maps a single-character key to a language name.
	KeyMap map[string]string
}

func setViperDefaults() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("logfile", "")
	viper.SetDefault("clipsdir", "clips")
	viper.SetDefault("clipextension", "wav")
	viper.SetDefault("devicefilter", "bcm2835")
	viper.SetDefault("fallbacktime", 600)
	viper.SetDefault("fadeoutlength", 5)
	viper.SetDefault("overlapstrategy", "fadeout")
	viper.SetDefault("blocksize", 1024)
	viper.SetDefault("queuecapacity", 1024)
	viper.SetDefault("preloadblocks", 128)
	viper.SetDefault("outputsamplerate", 0)
	viper.SetDefault("metricsaddr", "")
}

// Load reads the config file at configFilePath into a Config. A missing file
// is not an error: the defaults describe a working single-device setup.
func Load(configFilePath string) (Config, error) {
	setViperDefaults()

	viper.SetConfigFile(configFilePath)
	if err := viper.ReadInConfig(); err != nil {
		_, notFound := err.(viper.ConfigFileNotFoundError)
		if notFound || errors.Is(err, fs.ErrNotExist) {
			slog.Info("no config file found, using defaults", "configFilePath", configFilePath)
		} else {
			return Config{}, fmt.Errorf("reading config %s: %w", configFilePath, err)
		}
	}

	cfg := Config{
		ClipsDir:         viper.GetString("clipsdir"),
		ClipExtension:    viper.GetString("clipextension"),
		DeviceFilter:     viper.GetString("devicefilter"),
		FallbackTime:     time.Duration(viper.GetInt("fallbacktime")) * time.Second,
		FadeoutLength:    time.Duration(viper.GetInt("fadeoutlength")) * time.Second,
		OverlapStrategy:  viper.GetString("overlapstrategy"),
		BlockSize:        viper.GetInt("blocksize"),
		QueueCapacity:    viper.GetInt("queuecapacity"),
		PreloadBlocks:    viper.GetInt("preloadblocks"),
		OutputSampleRate: viper.GetInt("outputsamplerate"),
		LogLevel:         viper.GetString("loglevel"),
		LogFile:          viper.GetString("logfile"),
		MetricsAddr:      viper.GetString("metricsaddr"),
		KeyMap:           viper.GetStringMapString("keymap"),
	}

	if cfg.OverlapStrategy != "abort" && cfg.OverlapStrategy != "fadeout" {
		return Config{}, fmt.Errorf("unknown overlapstrategy %q", cfg.OverlapStrategy)
	}
	if cfg.BlockSize <= 0 || cfg.QueueCapacity <= 0 || cfg.PreloadBlocks < 0 {
		return Config{}, fmt.Errorf("blocksize, queuecapacity must be positive and preloadblocks non-negative")
	}

	return cfg, nil
}
