// patreonviewer/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	DataDir          string        `mapstructure:"DATA_DIR"`
	Port             string        `mapstructure:"PORT"`
	FFBin            string        `mapstructure:"FF_BIN"`
	FFProbeBin       string        `mapstructure:"FFPROBE_BIN"`
	FFVideoArgs      string        `mapstructure:"FF_VIDEO_ARGS"`
	FFTimeout        time.Duration `mapstructure:"FF_TIMEOUT"`
	DLCommand        string        `mapstructure:"DL_COMMAND"`
	TargetHeight     int           `mapstructure:"TARGET_HEIGHT"`
	MaxLogEntries    int           `mapstructure:"MAX_LOG_ENTRIES"`
	SSEKeepAlive     time.Duration `mapstructure:"SSE_KEEPALIVE"`
	ThrottleCPU      float64       `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64         `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64         `mapstructure:"THROTTLE_FREEDISK"`
	AuthEnable       bool          `mapstructure:"AUTH_ENABLE"`
	AuthKey          string        `mapstructure:"AUTH_KEY"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("DATA_DIR", "./data")
	vp.SetDefault("PORT", "3000")
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FFPROBE_BIN", "ffprobe")
	vp.SetDefault("FF_VIDEO_ARGS", "")
	vp.SetDefault("FF_TIMEOUT", "0s")
	vp.SetDefault("DL_COMMAND", "patreon-dl-bridge")
	vp.SetDefault("TARGET_HEIGHT", 480)
	vp.SetDefault("MAX_LOG_ENTRIES", 500)
	vp.SetDefault("SSE_KEEPALIVE", "15s")
	vp.SetDefault("THROTTLE_CPU", 0.0)
	vp.SetDefault("THROTTLE_FREEMEM", 0)
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "")

	vp.SetConfigName("patreon_viewer_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/patreon-viewer/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("PVIEWER")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
