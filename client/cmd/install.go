package cmd

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/luyumi/launcher/client/internal/installer"
	"github.com/luyumi/launcher/client/internal/release"
)

var (
	installVersion string
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "install the latest game release",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstallOp(cmd, "install")
	},
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "update the game to the latest release",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstallOp(cmd, "update")
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "wipe and reinstall the game",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInstallOp(cmd, "repair")
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "remove the installed game",
	RunE: func(cmd *cobra.Command, args []string) error {
		SetFlagsFromEnvVars(rootCmd)
		if err := setupLogging(); err != nil {
			return err
		}
		mgr := installer.NewManager(resolvePaths(), release.NewClient())
		if err := mgr.Uninstall(); err != nil {
			return err
		}
		cmd.Println("Game uninstalled.")
		return nil
	},
}

func runInstallOp(cmd *cobra.Command, op string) error {
	SetFlagsFromEnvVars(rootCmd)
	if err := setupLogging(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	SetupCloseHandler(ctx, cancel)

	paths := resolvePaths()
	mgr := installer.NewManager(paths, release.NewClient())
	mgr.SetChannel(channel)

	// mirror progress onto the terminal while the pipeline runs
	done := make(chan struct{})
	go reportProgress(ctx, cmd, mgr, done)

	var err error
	switch op {
	case "repair":
		err = mgr.Repair(ctx, installVersion)
	default:
		err = mgr.Install(ctx, installVersion)
	}
	close(done)
	if err != nil {
		return fmt.Errorf("%s failed: %w", op, err)
	}

	log.Infof("%s finished, game directory %s", op, paths.GameDir)
	cmd.Printf("Done. Game installed at %s\n", paths.GameDir)
	return nil
}

func init() {
	for _, c := range []*cobra.Command{installCmd, updateCmd, repairCmd} {
		c.PersistentFlags().StringVar(&installVersion, "version", "", "release to install, e.g. 7 (default latest)")
	}
}
