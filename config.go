package synthpub

import (
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Configuration keys. Each is also read from the upper-cased environment
// variable of the same name.
const (
	KeyAPIKey       = "api_key"
	KeySessionID    = "session_id"
	KeyToken        = "token"
	KeySignalingURL = "signaling_url"
	KeyDuration     = "duration"
	KeyLogLevel     = "log_level"
	KeySeed         = "seed"
)

// DefaultDuration is how long the program publishes before stopping.
const DefaultDuration = 30 * time.Second

// Config is the process configuration.
type Config struct {
	Credentials

	SignalingURL string
	Duration     time.Duration
	LogLevel     logrus.Level
	Seed         uint64
}

// NewViper returns a viper instance with defaults and environment bindings
// for every configuration key.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeySignalingURL, "ws://localhost:8080")
	v.SetDefault(KeyDuration, DefaultDuration.String())
	v.SetDefault(KeyLogLevel, logrus.InfoLevel.String())
	v.SetDefault(KeySeed, 0)

	v.AutomaticEnv()
	for _, key := range []string{KeyAPIKey, KeySessionID, KeyToken, KeySignalingURL, KeyDuration, KeyLogLevel, KeySeed} {
		_ = v.BindEnv(key, strings.ToUpper(key))
	}
	return v
}

// LoadConfig reads an optional dotenv file into v and decodes the result.
// Environment variables take precedence over the file. A missing file is
// not an error.
func LoadConfig(v *viper.Viper, envFile string) (Config, error) {
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, errors.Wrapf(err, "read %s", envFile)
			}
		}
	}

	cfg := Config{
		Credentials: Credentials{
			APIKey:    v.GetString(KeyAPIKey),
			SessionID: v.GetString(KeySessionID),
			Token:     v.GetString(KeyToken),
		},
		SignalingURL: v.GetString(KeySignalingURL),
	}

	var missing []string
	for key, val := range map[string]string{
		KeyAPIKey:    cfg.APIKey,
		KeySessionID: cfg.SessionID,
		KeyToken:     cfg.Token,
	} {
		if val == "" {
			missing = append(missing, strings.ToUpper(key))
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Config{}, errors.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	d, err := parseDuration(v.GetString(KeyDuration))
	if err != nil {
		return Config{}, errors.Wrapf(err, "invalid %s", strings.ToUpper(KeyDuration))
	}
	cfg.Duration = d

	level, err := logrus.ParseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return Config{}, errors.Wrapf(err, "invalid %s", strings.ToUpper(KeyLogLevel))
	}
	cfg.LogLevel = level

	seed, err := strconv.ParseUint(v.GetString(KeySeed), 0, 64)
	if err != nil {
		return Config{}, errors.Wrapf(err, "invalid %s", strings.ToUpper(KeySeed))
	}
	cfg.Seed = seed

	return cfg, nil
}

// parseDuration accepts Go duration strings and bare integers, which are
// taken as seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultDuration, nil
	}
	d, err := time.ParseDuration(s)
	if n, aerr := strconv.Atoi(s); aerr == nil {
		d, err = time.Duration(n)*time.Second, nil
	}
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.Errorf("duration must be positive, got %s", s)
	}
	return d, nil
}
