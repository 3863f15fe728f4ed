// Package cli holds the flag, config and logger bootstrap shared by the
// binaries under cmd/.
package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/nczempin/advnet/config"
	"github.com/nczempin/advnet/connector"
	"github.com/nczempin/advnet/resolver"
	"github.com/nczempin/advnet/transport"

	neterrors "github.com/nczempin/advnet/errors"
	plog "github.com/nczempin/advnet/log"
)

// flagKeys maps flag names to the config keys they override.
var flagKeys = map[string]string{
	"log-level":      "log.level",
	"log-file":       "log.file",
	"backend":        "connect.backend",
	"ring-entries":   "connect.ring_entries",
	"resolve-mode":   "resolve.mode",
	"nameserver":     "resolve.nameserver",
	"resolve-order":  "resolve.order",
	"response-limit": "client.response_limit",
	"read-chunk":     "client.read_chunk",
	"no-wait":        "client.no_wait",
	"backlog":        "server.backlog",
	"buffer":         "server.buffer",
	"format":         "daytime.format",
}

// App carries the settings and logger of one program run.
type App struct {
	Viper  *viper.Viper
	Config *config.Config
	Logger *log.Logger

	configFile string
}

func NewApp() *App {
	return &App{Viper: config.New()}
}

// AddCommonFlags registers --config, --log-level and --log-file.
func (a *App) AddCommonFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&a.configFile, "config", "c", "", "YAML config file")
	fs.String("log-level", "info", "log level (panic, fatal, error, warn, info, debug, trace)")
	fs.String("log-file", "", "also write JSON logs to this rotated file")
}

// AddConnectFlags registers the flags that shape resolution and connect.
func (a *App) AddConnectFlags(fs *pflag.FlagSet) {
	fs.String("backend", transport.BackendSocket, "endpoint backend: socket, uring or ring")
	fs.Uint32("ring-entries", 32, "io_uring queue depth")
	fs.String("resolve-mode", resolver.ModeSystem, "resolver: system or dns")
	fs.String("nameserver", "", "nameserver for --resolve-mode=dns, default from /etc/resolv.conf")
	fs.StringSlice("resolve-order", []string{"ip6", "ip4"}, "address family query order for --resolve-mode=dns")
}

func (a *App) AddServerFlags(fs *pflag.FlagSet) {
	fs.Int("backlog", 10, "listen backlog")
}

// Load reads the config file, environment and the flags in fs that map to
// config keys, then builds the logger writing to out.
func (a *App) Load(fs *pflag.FlagSet, out io.Writer) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
			bindErr = a.Viper.BindPFlag(key, f)
		}
	})
	if bindErr != nil {
		return errors.WithStack(bindErr)
	}

	cfg, err := config.Load(a.Viper, a.configFile)
	if err != nil {
		return err
	}
	logger, err := plog.Init(cfg.Log.Level, cfg.Log.File, out)
	if err != nil {
		return errors.Wrap(err, "log.level")
	}

	a.Config = cfg
	a.Logger = logger
	return nil
}

// WatchLevel applies log.level changes from the config file while running.
// Other settings keep their startup values.
func (a *App) WatchLevel() {
	config.Watch(a.Viper, func(c *config.Config) {
		level, err := log.ParseLevel(c.Log.Level)
		if err != nil {
			a.Logger.WithError(err).Warn("ignoring log.level")
			return
		}
		if level != a.Logger.GetLevel() {
			plog.SetLevel(a.Logger, level)
			a.Logger.Infof("log level set to %s", level)
		}
	}, func(err error) {
		a.Logger.WithError(err).Warn("config reload failed")
	})
}

// NewConnector builds a Connector from the loaded config. The returned
// release func frees the endpoint factory.
func (a *App) NewConnector() (*connector.Connector, func(), error) {
	r, err := resolver.New(a.Config.Resolve.Mode, a.Config.Resolve.Nameserver, a.Config.Resolve.Order)
	if err != nil {
		return nil, nil, err
	}
	f, err := transport.NewFactory(a.Config.Connect.Backend, a.Config.Connect.RingEntries)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := transport.CloseFactory(f); err != nil {
			a.Logger.WithError(err).Debug("release endpoint factory")
		}
	}
	return connector.New(r, f, a.Logger), release, nil
}

// ParsePort parses a decimal port in [lowest, 65535].
func ParsePort(s string, lowest int) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < lowest || port > 65535 {
		return 0, errors.Errorf("invalid port number %q", s)
	}
	return port, nil
}

// Describe renders err as the one-line diagnostic printed before exiting.
func Describe(err error) string {
	switch {
	case neterrors.IsResolution(err):
		return fmt.Sprintf("Failure in name resolution: %v", err)
	case neterrors.IsAllCandidatesFailed(err):
		return fmt.Sprintf("None of the addresses succeeded: %v", err)
	default:
		return err.Error()
	}
}

// Execute runs cmd and exits with status 1 on any error.
func Execute(cmd *cobra.Command) {
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, Describe(err))
		os.Exit(1)
	}
}
