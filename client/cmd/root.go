package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/luyumi/launcher/client/internal"
	"github.com/luyumi/launcher/util"
)

const envVarPrefix = "LUYUMI_"

var (
	logLevel    string
	logFile     string
	installBase string
	channel     string

	rootCmd = &cobra.Command{
		Use:          "luyumi",
		Short:        "Luyumi game launcher",
		Long:         "Installs, updates, repairs and launches the game client.",
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	defaultLogFile := filepath.Join(internal.DefaultAppDir(), "logs", "launcher.log")

	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "sets the launcher log level")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", defaultLogFile, "sets the launcher log path. If console is specified the log will be output to stdout")
	rootCmd.PersistentFlags().StringVar(&installBase, "install-base", "", "overrides the install base directory for this invocation")
	rootCmd.PersistentFlags().StringVar(&channel, "channel", "release", "release channel to install from")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(repairCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

// setupLogging applies the persistent logging flags. Called from every
// command's RunE so flag parsing has already happened.
func setupLogging() error {
	if logFile != "" && logFile != "console" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
			log.Warnf("failed to create log directory: %v", err)
			logFile = "console"
		}
	}
	return util.InitLog(logLevel, logFile)
}

// resolvePaths derives the directory set for this invocation, honoring the
// --install-base override over the configured one.
func resolvePaths() *internal.InstallPaths {
	paths := internal.ResolvePaths()
	if installBase != "" {
		base := filepath.Join(internal.ExpandHome(installBase), "LuyumiLauncher")
		paths.AppDir = base
		paths.GameDir = filepath.Join(base, "install", "release", "package", "game", "latest")
		paths.JreDir = filepath.Join(base, "install", "release", "package", "jre", "latest")
	}
	return paths
}

// SetupCloseHandler cancels the operation context on SIGINT/SIGTERM.
func SetupCloseHandler(ctx context.Context, cancel context.CancelFunc) {
	termCh := make(chan os.Signal, 1)
	signal.Notify(termCh, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ctx.Done():
		case <-termCh:
			log.Info("shutdown signal received")
			cancel()
		}
	}()
}

// SetFlagsFromEnvVars reads and updates flag values from environment
// variables with the LUYUMI_ prefix.
func SetFlagsFromEnvVars(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.VisitAll(func(f *pflag.Flag) {
		envVar := FlagNameToEnvVar(f.Name, envVarPrefix)
		if value, present := os.LookupEnv(envVar); present {
			if err := flags.Set(f.Name, value); err != nil {
				log.Infof("unable to configure flag %s using variable %s, err: %v", f.Name, envVar, err)
			}
		}
	})
}

// FlagNameToEnvVar converts a flag name to its environment variable name,
// e.g. log-level becomes LUYUMI_LOG_LEVEL.
func FlagNameToEnvVar(cmdFlag string, prefix string) string {
	parsed := strings.ReplaceAll(cmdFlag, "-", "_")
	return prefix + strings.ToUpper(parsed)
}
