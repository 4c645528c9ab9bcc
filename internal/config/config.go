package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type AuthMode string

const (
	AuthModeStatic AuthMode = "static"
	AuthModeJWT    AuthMode = "jwt"
)

const (
	BackpressureClose = "close"
	BackpressureDrop  = "drop"
)

// StaticIdentity is one entry of the dev token table.
type StaticIdentity struct {
	Token         string `mapstructure:"token"`
	UserID        string `mapstructure:"user_id"`
	Email         string `mapstructure:"email"`
	EmailVerified bool   `mapstructure:"email_verified"`
}

type AuthConfig struct {
	Mode                 AuthMode         `mapstructure:"mode" validate:"oneof=static jwt"`
	JWTSecret            string           `mapstructure:"jwt_secret" validate:"required_if=Mode jwt"`
	JWTIssuer            string           `mapstructure:"jwt_issuer"`
	JWTAudience          string           `mapstructure:"jwt_audience"`
	StaticTokens         []StaticIdentity `mapstructure:"static_tokens"`
	VerifyTimeout        time.Duration    `mapstructure:"verify_timeout" validate:"gt=0"`
	CacheTTL             time.Duration    `mapstructure:"cache_ttl" validate:"gte=0"`
	CacheSize            int              `mapstructure:"cache_size" validate:"gte=0"`
	RequireVerifiedEmail bool             `mapstructure:"require_verified_email"`
}

// ICEServer is handed to clients in auth-success; the relay itself never
// talks STUN or TURN.
type ICEServer struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	LogLevel     string        `mapstructure:"log_level"`
	ReadLimit    int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod   time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	WriteWait    time.Duration `mapstructure:"write_wait" validate:"gt=0"`
	AuthTimeout  time.Duration `mapstructure:"auth_timeout" validate:"gt=0"`
	SendBuffer   int           `mapstructure:"send_buffer" validate:"gt=0"`
	RateLimit    float64       `mapstructure:"rate_limit" validate:"gte=0"`
	RateBurst    int           `mapstructure:"rate_burst" validate:"gte=0"`
	Backpressure string        `mapstructure:"backpressure" validate:"oneof=close drop"`
	Auth         AuthConfig    `mapstructure:"auth"`
	ICEServers   []ICEServer   `mapstructure:"ice_servers"`
}

var validate = newValidator()

// newValidator reports fields by their config key rather than the Go name.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("mapstructure"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// RegisterFlags declares the command line overrides understood by Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a yaml config file (default config/config.$CONFIG_ENV.yaml)")
	fs.Int("port", 8080, "http listen port")
	fs.String("mode", "release", "gin mode: debug or release")
	fs.String("log-level", "info", "zerolog level")
}

// Load resolves the config from defaults, the yaml file, RELAY_* environment
// variables and flags, in increasing order of precedence. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	if flags != nil {
		if f := flags.Lookup("config"); f != nil && f.Changed {
			fileName = f.Value.String()
		}
	}
	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "30s")
	v.SetDefault("write_wait", "5s")
	v.SetDefault("auth_timeout", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_burst", 100)
	v.SetDefault("backpressure", BackpressureClose)
	v.SetDefault("auth.mode", string(AuthModeStatic))
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.jwt_issuer", "")
	v.SetDefault("auth.jwt_audience", "")
	v.SetDefault("auth.verify_timeout", "5s")
	v.SetDefault("auth.cache_ttl", "1m")
	v.SetDefault("auth.cache_size", 1024)
	v.SetDefault("auth.require_verified_email", false)
	v.SetDefault("ice_servers", []map[string]any{
		{"urls": []string{"stun:stun.l.google.com:19302"}},
	})

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range map[string]string{"port": "port", "mode": "mode", "log_level": "log-level"} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("auth_mode", string(cfg.Auth.Mode)).
		Dur("ping_period", cfg.PingPeriod).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
