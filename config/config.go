// Copyright 2025 The Accumulate Authors
//
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file or at
// https://opensource.org/licenses/MIT.

package config

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml"
	"github.com/spf13/viper"
	"gitlab.com/accumulatenetwork/staking-ledger/pkg/errors"
)

const (
	configDir  = "config"
	configFile = "stakingd.toml"
	envFile    = ".env"
)

type StorageType string

const (
	MemoryStorage  StorageType = "memory"
	BoltStorage    StorageType = "bolt"
	BadgerStorage  StorageType = "badger"
	LevelDBStorage StorageType = "leveldb"
)

// LogLevel defines the default and per-module log level.
type LogLevel struct {
	Default string
	Modules [][2]string
}

// SetDefault sets the default log level.
func (l LogLevel) SetDefault(level string) LogLevel {
	l.Default = level
	return l
}

// SetModule sets the log level for a module.
func (l LogLevel) SetModule(module, level string) LogLevel {
	l.Modules = append(l.Modules, [2]string{module, level})
	return l
}

// String converts the log level into a string, for example
// "error;accrual=debug".
func (l LogLevel) String() string {
	s := new(strings.Builder)
	s.WriteString(l.Default)
	for _, m := range l.Modules {
		fmt.Fprintf(s, ";%s=%s", m[0], m[1])
	}
	return s.String()
}

var DefaultLogLevels = LogLevel{}.
	SetDefault("info").
	// SetModule("storage", "debug").
	SetModule("badger", "warn").
	String()

type Config struct {
	WorkDir   string    `toml:"-" mapstructure:"-"`
	LogLevel  string    `toml:"log-level" mapstructure:"log-level"`
	LogFormat string    `toml:"log-format" mapstructure:"log-format"`
	Storage   Storage   `toml:"storage" mapstructure:"storage"`
	API       API       `toml:"api" mapstructure:"api"`
	Accrual   Accrual   `toml:"accrual" mapstructure:"accrual"`
	Payment   Payment   `toml:"payment" mapstructure:"payment"`
	Analytics Analytics `toml:"analytics" mapstructure:"analytics"`
}

type Storage struct {
	Type StorageType `toml:"type" mapstructure:"type"`
	Path string      `toml:"path" mapstructure:"path"`
}

type API struct {
	ListenAddress     string        `toml:"listen-address" mapstructure:"listen-address"`
	AllowedOrigins    []string      `toml:"allowed-origins" mapstructure:"allowed-origins"`
	ReadHeaderTimeout time.Duration `toml:"read-header-timeout" mapstructure:"read-header-timeout"`
}

type Accrual struct {
	// Schedule is a cron specification for the accrual sweep.
	Schedule string `toml:"schedule" mapstructure:"schedule"`

	// SettleOnClose accrues full elapsed periods before a stake is closed.
	SettleOnClose bool `toml:"settle-on-close" mapstructure:"settle-on-close"`
}

type Payment struct {
	// DemoMode credits deposits immediately without contacting the gateway.
	DemoMode       bool          `toml:"demo-mode" mapstructure:"demo-mode"`
	Timeout        time.Duration `toml:"timeout" mapstructure:"timeout"`
	ExpirySchedule string        `toml:"expiry-schedule" mapstructure:"expiry-schedule"`
	GatewayURL     string        `toml:"gateway-url" mapstructure:"gateway-url"`
	APIKey         string        `toml:"api-key" mapstructure:"api-key"`
	IPNSecret      string        `toml:"ipn-secret" mapstructure:"ipn-secret"`
	PriceCurrency  string        `toml:"price-currency" mapstructure:"price-currency"`
	CallbackURL    string        `toml:"callback-url" mapstructure:"callback-url"`
	SuccessURL     string        `toml:"success-url" mapstructure:"success-url"`
	CancelURL      string        `toml:"cancel-url" mapstructure:"cancel-url"`
}

type Analytics struct {
	CacheTTL    time.Duration `toml:"cache-ttl" mapstructure:"cache-ttl"`
	DailyWindow int           `toml:"daily-window" mapstructure:"daily-window"`
}

func Default(workDir string) *Config {
	c := new(Config)
	c.WorkDir = workDir
	c.LogLevel = DefaultLogLevels
	c.LogFormat = "plain"
	c.Storage.Type = BadgerStorage
	c.Storage.Path = filepath.Join("data", "staking.db")
	c.API.ListenAddress = "0.0.0.0:8001"
	c.API.AllowedOrigins = []string{"*"}
	c.API.ReadHeaderTimeout = 10 * time.Second
	c.Accrual.Schedule = "@every 5m"
	c.Payment.DemoMode = true
	c.Payment.Timeout = 30 * time.Minute
	c.Payment.ExpirySchedule = "@every 1m"
	c.Payment.GatewayURL = "https://api.nowpayments.io/v1"
	c.Payment.PriceCurrency = "usd"
	c.Payment.CallbackURL = "http://localhost:8001/payments/callback"
	c.Analytics.CacheTTL = 30 * time.Second
	c.Analytics.DailyWindow = 30
	return c
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Type {
	case MemoryStorage, BoltStorage, BadgerStorage, LevelDBStorage:
	default:
		return errors.BadRequest.WithFormat("unknown storage type %q", c.Storage.Type)
	}
	if c.Storage.Type != MemoryStorage && c.Storage.Path == "" {
		return errors.BadRequest.WithFormat("storage type %s requires a path", c.Storage.Type)
	}
	if c.Accrual.Schedule == "" {
		return errors.BadRequest.With("accrual schedule is required")
	}
	if c.Payment.Timeout <= 0 {
		return errors.BadRequest.With("payment timeout must be positive")
	}
	if c.Analytics.DailyWindow <= 0 {
		return errors.BadRequest.With("analytics daily window must be positive")
	}
	if c.Analytics.CacheTTL < 0 {
		return errors.BadRequest.With("analytics cache TTL must not be negative")
	}
	if !c.Payment.DemoMode && (c.Payment.GatewayURL == "" || c.Payment.APIKey == "") {
		return errors.BadRequest.With("payment gateway URL and API key are required unless demo mode is enabled")
	}
	if !c.Payment.DemoMode && c.Payment.IPNSecret == "" {
		return errors.BadRequest.With("payment IPN secret is required unless demo mode is enabled")
	}
	return nil
}

// StoragePath returns the absolute path of the store.
func (c *Config) StoragePath() string {
	return MakeAbsolute(c.WorkDir, c.Storage.Path)
}

// FilePath returns the path of the configuration file within the work dir.
func FilePath(workDir string) string {
	return filepath.Join(workDir, configDir, configFile)
}

func MakeAbsolute(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// Load loads the configuration from the work dir. Settings missing from the
// file keep their default values. References such as ${NAME} are expanded
// from a .env file next to the configuration file, or from the environment.
func Load(workDir string) (*Config, error) {
	file := FilePath(workDir)
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	b, err = expandEnv(b, filepath.Join(filepath.Dir(file), envFile))
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("toml")
	err = v.ReadConfig(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	c := Default(workDir)
	err = v.Unmarshal(c, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return c, nil
}

// Store writes the configuration to the work dir.
func Store(c *Config) error {
	file := FilePath(c.WorkDir)
	err := os.MkdirAll(filepath.Dir(file), 0755)
	if err != nil {
		return err
	}

	f, err := os.Create(file)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}

func expandEnv(b []byte, file string) ([]byte, error) {
	env := map[string]string{}
	f, err := os.Open(file)
	switch {
	case err == nil:
		defer func() { _ = f.Close() }()
		env, err = godotenv.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}

	case errors.Is(err, fs.ErrNotExist):
		// Fall back to the environment

	default:
		return nil, err
	}

	var errs []error
	s := os.Expand(string(b), func(name string) string {
		if v, ok := env[name]; ok {
			return v
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		errs = append(errs, fmt.Errorf("%q is not defined", name))
		return fmt.Sprintf("#!MISSING(%q)", name)
	})
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return []byte(s), nil
}
