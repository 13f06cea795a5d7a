package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/bluetuith-org/handsfree/api/bluetooth"
	"github.com/bluetuith-org/handsfree/api/config"
	"github.com/bluetuith-org/handsfree/api/errorkinds"
	"github.com/bluetuith-org/handsfree/internal/logging"
	"github.com/bluetuith-org/handsfree/platform"
	"github.com/bluetuith-org/handsfree/shim"
	"github.com/knadh/koanf/parsers/hjson"
	"github.com/knadh/koanf/providers/cliflagv2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/urfave/cli/v2"
)

const configFile = "handsfree.conf"

// Values describes the configuration values that a user can
// supply to the daemon, either from the configuration file or as flags.
type Values struct {
	LocalName     string        `koanf:"local-name"`
	NameEncoding  string        `koanf:"name-encoding"`
	VisibleMode   string        `koanf:"visible-mode"`
	AudioChannel  int           `koanf:"audio-channel"`
	CallVolume    int           `koanf:"call-volume"`
	QueueCapacity int           `koanf:"queue-capacity"`
	AuthTimeout   time.Duration `koanf:"auth-timeout"`
	StopTimeout   time.Duration `koanf:"stop-timeout"`
	RelayReply    string        `koanf:"relay-reply"`
	Allow         []string      `koanf:"allow"`

	Adapter      string        `koanf:"adapter"`
	SocketPath   string        `koanf:"socket-path"`
	ShimPath     string        `koanf:"shim-path"`
	ReplyTimeout time.Duration `koanf:"reply-timeout"`
	SessionBus   bool          `koanf:"session-bus"`

	LogLevel     string `koanf:"log-level"`
	LogFile      string `koanf:"log-file"`
	LogFileLevel string `koanf:"log-file-level"`
}

// NewValues returns the values used when neither the file nor the flags set them.
func NewValues() *Values {
	cfg := config.New()

	return &Values{
		LocalName:     cfg.LocalName,
		NameEncoding:  "utf8",
		VisibleMode:   cfg.VisibleMode.String(),
		AudioChannel:  cfg.AudioChannel,
		CallVolume:    cfg.CallVolume,
		QueueCapacity: cfg.QueueCapacity,
		AuthTimeout:   cfg.AuthTimeout,
		StopTimeout:   cfg.StopTimeout,

		Adapter:      platform.AdapterAuto,
		SocketPath:   filepath.Join(os.TempDir(), "handsfree.sock"),
		ReplyTimeout: shim.ShimCmdReplyTimeout,

		LogLevel:     "info",
		LogFileLevel: "debug",
	}
}

// Load loads the values from the configuration file and the command-line flags.
// Flags take precedence over the file.
func (v *Values) Load(k *koanf.Koanf, cliCtx *cli.Context) error {
	cfgfile, err := configPath(cliCtx.String("config"))
	if err != nil {
		return err
	}

	if err := loadFile(k, cfgfile); err != nil {
		return err
	}

	if err := k.Load(cliflagv2.Provider(cliCtx, "."), nil); err != nil {
		return err
	}

	return v.unmarshal(k)
}

func (v *Values) unmarshal(k *koanf.Koanf) error {
	return k.UnmarshalWithConf("", v, koanf.UnmarshalConf{Tag: "koanf"})
}

// Configuration returns the validated controller configuration.
func (v *Values) Configuration() (config.Configuration, error) {
	mode, err := bluetooth.ParseVisibleMode(v.VisibleMode)
	if err != nil {
		return config.Configuration{}, err
	}

	var encoding bluetooth.NameEncoding
	switch v.NameEncoding {
	case "", "utf8":
		encoding = bluetooth.NameUTF8
	case "gbk":
		encoding = bluetooth.NameGBK
	default:
		return config.Configuration{}, fmt.Errorf("name encoding %q: %w", v.NameEncoding, errorkinds.ErrInvalidConfig)
	}

	cfg := config.Configuration{
		LocalName:     v.LocalName,
		NameEncoding:  encoding,
		VisibleMode:   mode,
		AudioChannel:  v.AudioChannel,
		CallVolume:    v.CallVolume,
		QueueCapacity: v.QueueCapacity,
		AuthTimeout:   v.AuthTimeout,
		StopTimeout:   v.StopTimeout,
		RelayReply:    v.RelayReply,
	}

	return cfg, cfg.Validate()
}

// Authorizer returns the connection authorizer for the allowed peers.
func (v *Values) Authorizer() (bluetooth.ConnectionAuthorizer, error) {
	allow := make(bluetooth.AllowList, 0, len(v.Allow))
	for _, address := range v.Allow {
		peer, err := bluetooth.ParseMAC(address)
		if err != nil {
			return nil, fmt.Errorf("allowed peer %q: %w", address, err)
		}

		allow = append(allow, peer)
	}

	return allow, nil
}

// PlatformOptions returns the radio stack adapter options.
func (v *Values) PlatformOptions() platform.Options {
	return platform.Options{
		Adapter: v.Adapter,
		Shim: shim.Options{
			SocketPath:   v.SocketPath,
			ShimPath:     v.ShimPath,
			ReplyTimeout: v.ReplyTimeout,
		},
		SessionBus: v.SessionBus,
	}
}

// LoggingOptions returns the logging options.
func (v *Values) LoggingOptions() (logging.Options, error) {
	console, err := logging.ParseLevel(v.LogLevel)
	if err != nil {
		return logging.Options{}, fmt.Errorf("log level: %w", err)
	}

	opts := logging.Options{
		Level:        console,
		ConsoleLevel: console,
		File:         v.LogFile,
		MaxSizeMB:    100,
		MaxBackups:   1,
	}

	if v.LogFile != "" {
		opts.FileLevel, err = logging.ParseLevel(v.LogFileLevel)
		if err != nil {
			return logging.Options{}, fmt.Errorf("log file level: %w", err)
		}

		opts.Level = max(opts.ConsoleLevel, opts.FileLevel)
	}

	return opts, nil
}

// configPath returns the configuration file to load. If no path is given,
// the file in the user configuration directory is used.
// An empty result means there is no file to load.
func configPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", nil
	}

	path = filepath.Join(dir, "handsfree", configFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}

	return path, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	if path == "" {
		return nil
	}

	if err := k.Load(file.Provider(path), hjson.Parser()); err != nil {
		return fmt.Errorf("cannot load %s: %w", path, err)
	}

	return nil
}
