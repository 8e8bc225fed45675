package cmd

import (
	"context"
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/luyumi/launcher/client/internal/game"
	"github.com/luyumi/launcher/client/internal/installer"
	"github.com/luyumi/launcher/client/internal/release"
)

var (
	statusJSON bool

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "show installation and game state",
		RunE: func(cmd *cobra.Command, args []string) error {
			SetFlagsFromEnvVars(rootCmd)
			if err := setupLogging(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			releases := release.NewClient()
			mgr := installer.NewManager(resolvePaths(), releases)
			state := mgr.Status(ctx)
			running := game.IsGameRunning()

			if statusJSON {
				out := struct {
					*installer.State
					GameRunning bool `json:"gameRunning"`
				}{state, running}
				raw, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				cmd.Println(string(raw))
				return nil
			}

			if !state.Installed {
				cmd.Println("Game: not installed")
			} else {
				cmd.Printf("Game: installed (version %s)\n", state.Version)
				cmd.Printf("Client: %s\n", state.ClientExecutable)
			}
			cmd.Printf("Latest release: %s (%s)\n", state.LatestVersion, releases.FormattedVersionName(ctx))
			if state.UpdateAvailable {
				cmd.Println("Update available: yes")
			}
			if running {
				cmd.Println("Game process: running")
			}
			return nil
		},
	}
)

func init() {
	statusCmd.PersistentFlags().BoolVar(&statusJSON, "json", false, "output status as JSON")
}
