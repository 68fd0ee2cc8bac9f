package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yacchi/bettershare"
	"github.com/yacchi/bettershare/kv"
	kvaws "github.com/yacchi/bettershare/kv/aws"
	"github.com/yacchi/bettershare/kv/file"
	"github.com/yacchi/bettershare/kv/keyring"
	"github.com/yacchi/bettershare/kv/memory"
	"github.com/yacchi/bettershare/kv/sqlite"
)

const envPrefix = "BETTERSHARE"

// app carries state shared by every command of one invocation.
type app struct {
	v      *viper.Viper
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New(), logger: zap.NewNop()}

	root := &cobra.Command{
		Use:          "bettershare",
		Short:        "Manage link sharing preferences",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadConfig(cmd); err != nil {
				return err
			}

			config := zap.NewProductionConfig()
			config.OutputPaths = []string{"stderr"}
			if a.v.GetBool("verbose") {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (json, yaml, toml)")
	flags.String("backend", "file", "storage backend: file, sqlite, keyring, ssm, s3, memory")
	flags.String("path", defaultPath(), "document or database path for the file and sqlite backends")
	flags.String("keyring-service", keyring.DefaultService, "keyring service name")
	flags.String("ssm-prefix", "/bettershare/", "SSM parameter name prefix")
	flags.String("s3-bucket", "", "S3 bucket")
	flags.String("s3-prefix", "bettershare/", "S3 object key prefix")
	flags.Duration("poll-interval", 0, "how often polling backends look for changes (0 uses the backend default)")
	flags.BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.newGetCmd(),
		a.newSetCmd(),
		a.newResetCmd(),
		a.newShareCmd(),
		a.newWatchCmd(),
		a.newServeCmd(),
	)
	return root
}

func defaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "bettershare.json"
	}
	return filepath.Join(dir, "bettershare", "preferences.json")
}

// loadConfig binds flags, BETTERSHARE_* variables and the optional config
// file. Flags set on the command line take precedence.
func (a *app) loadConfig(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return nil
}

// openStore opens the configured backend and a Store over it. The returned
// close function releases both.
func (a *app) openStore() (*bettershare.Store, func(), error) {
	backend, err := a.openBackend()
	if err != nil {
		return nil, nil, err
	}

	store, err := bettershare.New(backend, backend)
	if err != nil {
		_ = backend.Close()
		return nil, nil, err
	}

	closeFn := func() {
		_ = store.Close()
		if err := backend.Close(); err != nil {
			a.logger.Warn("failed to close backend", zap.Error(err))
		}
	}
	return store, closeFn, nil
}

func (a *app) openBackend() (kv.Backend, error) {
	nopts := []kv.NotifierOption{
		kv.WithErrorHandler(func(err error) {
			a.logger.Warn("change detection failed", zap.Error(err))
		}),
	}
	poll := a.v.GetDuration("poll-interval")
	name := a.v.GetString("backend")
	a.logger.Debug("opening backend", zap.String("backend", name))

	switch name {
	case "file":
		return file.New(a.v.GetString("path"), file.WithNotifierOptions(nopts...))

	case "sqlite":
		opts := []sqlite.Option{sqlite.WithNotifierOptions(nopts...)}
		if poll > 0 {
			opts = append(opts, sqlite.WithPollInterval(poll))
		}
		return sqlite.Open(a.v.GetString("path"), opts...)

	case "keyring":
		opts := []keyring.Option{
			keyring.WithService(a.v.GetString("keyring-service")),
			keyring.WithNotifierOptions(nopts...),
		}
		if poll > 0 {
			opts = append(opts, keyring.WithPollInterval(poll))
		}
		return keyring.New(opts...), nil

	case "ssm":
		return kvaws.NewSSMStore(a.v.GetString("ssm-prefix"), a.awsOptions(poll, nopts)...), nil

	case "s3":
		bucket := a.v.GetString("s3-bucket")
		if bucket == "" {
			return nil, errors.New("--s3-bucket is required for the s3 backend")
		}
		return kvaws.NewS3Store(bucket, a.v.GetString("s3-prefix"), a.awsOptions(poll, nopts)...), nil

	case "memory":
		return memory.New(nil), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

func (a *app) awsOptions(poll time.Duration, nopts []kv.NotifierOption) []kvaws.Option {
	opts := []kvaws.Option{kvaws.WithNotifierOptions(nopts...)}
	if poll > 0 {
		opts = append(opts, kvaws.WithPollInterval(poll))
	}
	return opts
}
