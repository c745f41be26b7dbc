package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/furisto/batchinfer/shared"
	"github.com/furisto/batchinfer/shared/config"
)

var (
	// Version is the version of the CLI
	Version = "unknown"

	// Git Commit is the commit that the CLI was built from
	GitCommit = "unknown"

	// BuildDate is the date the CLI was built
	BuildDate = "unknown"
)

type globalOptions struct {
	LogLevel   LogLevel
	ConfigFile string
	EnvFile    string
}

func NewRootCmd() *cobra.Command {
	options := globalOptions{}
	cmd := &cobra.Command{
		Use:          "batchinfer",
		Short:        "batchinfer: Run cached, rate-limited LLM batches.",
		Long:         figure.NewColorFigure("batchinfer", "standard", "blue", true).String(),
		Version:      fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(options.EnvFile); err != nil {
				return err
			}

			cfg, err := config.Load(getFileSystem(cmd.Context()), options.ConfigFile, getLookupEnv(cmd.Context()))
			if err != nil {
				return err
			}
			cmd.SetContext(setConfig(cmd.Context(), cfg))

			options.LogLevel = resolveLogLevel(cmd, &options)
			sink := setupLogSink(cmd.Context(), getUserInfo(cmd.Context()), cfg.LogFile, cmd.ErrOrStderr())
			slog.SetDefault(slog.New(slog.NewJSONHandler(sink, &slog.HandlerOptions{
				Level: options.LogLevel.SlogLevel(),
			})))

			return nil
		},
	}

	cmd.PersistentFlags().Var(&options.LogLevel, "log-level", "set the log level")
	cmd.PersistentFlags().StringVar(&options.ConfigFile, "config", "", "config file (default $XDG_CONFIG_HOME/batchinfer/config.yaml)")
	cmd.PersistentFlags().StringVar(&options.EnvFile, "env-file", "", "load environment variables from this file (default .env if present)")

	cmd.AddGroup(
		&cobra.Group{
			ID:    "core",
			Title: "Core Commands",
		},
	)

	cmd.AddGroup(
		&cobra.Group{
			ID:    "cache",
			Title: "Cache Management",
		},
	)

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewCostCmd())
	cmd.AddCommand(NewCacheCmd())
	return cmd
}

func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadEnvFile reads path into the process environment without overriding
// variables that are already set. With no path, a missing .env is fine.
func loadEnvFile(path string) error {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load env file %s: %w", path, err)
		}
		return nil
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func confirm(stdin io.Reader, stdout io.Writer, message string) bool {
	fmt.Fprintf(stdout, "%s (y/n): ", message)
	var confirm string
	_, err := fmt.Fscan(stdin, &confirm)
	if err != nil {
		return false
	}

	confirm = strings.TrimSpace(strings.ToLower(confirm))
	return confirm == "y" || confirm == "yes"
}

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

var slogLevels = map[LogLevel]slog.Level{
	LogLevelDebug: slog.LevelDebug,
	LogLevelInfo:  slog.LevelInfo,
	LogLevelWarn:  slog.LevelWarn,
	LogLevelError: slog.LevelError,
}

func (l *LogLevel) String() string {
	if l == nil {
		return ""
	}
	return string(*l)
}

func (l *LogLevel) Set(v string) error {
	if _, ok := slogLevels[LogLevel(v)]; !ok {
		return errors.New(`must be one of "debug", "info", "warn", or "error"`)
	}
	*l = LogLevel(v)
	return nil
}

func (l *LogLevel) Type() string {
	return "log-level"
}

// SlogLevel maps an unset level to warn.
func (l *LogLevel) SlogLevel() slog.Level {
	if level, ok := slogLevels[*l]; ok {
		return level
	}
	return slog.LevelWarn
}

func resolveLogLevel(cmd *cobra.Command, options *globalOptions) LogLevel {
	if cmd.Flags().Changed("log-level") {
		return options.LogLevel
	}

	if logLevel, ok := getLookupEnv(cmd.Context())("BATCHINFER_LOG_LEVEL"); ok {
		var level LogLevel
		if err := level.Set(logLevel); err == nil {
			return level
		}
	}
	return LogLevelWarn
}

// setupLogSink tees logs to stderr and a rotating JSON file. stdout is left
// to command output so results can be piped.
func setupLogSink(ctx context.Context, userInfo shared.UserInfo, logFile string, stderr io.Writer) io.Writer {
	if disable, ok := ctx.Value(ContextKeyDisableFileLogs).(bool); ok && disable {
		return stderr
	}

	if logFile == "" {
		logDir, err := userInfo.LogDir()
		if err != nil {
			return stderr
		}
		logFile = filepath.Join(logDir, "batchinfer.json")
	}

	fileLogger := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    50,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
	}
	return io.MultiWriter(stderr, fileLogger)
}
