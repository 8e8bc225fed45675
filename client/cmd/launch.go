package cmd

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/luyumi/launcher/client/internal/game"
)

var (
	playerName    string
	playerUUID    string
	identityToken string
	sessionToken  string
	authMode      string
	javaPath      string
	serverAddr    string
	fullscreen    bool
	windowWidth   int
	windowHeight  int
	gpuPreference string
	waitForExit   bool

	launchCmd = &cobra.Command{
		Use:   "launch",
		Short: "launch the game client",
		RunE: func(cmd *cobra.Command, args []string) error {
			SetFlagsFromEnvVars(rootCmd)
			if err := setupLogging(); err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			SetupCloseHandler(ctx, cancel)

			orchestrator := game.NewOrchestrator(resolvePaths())
			session, err := orchestrator.Launch(ctx, game.LaunchOptions{
				PlayerName:    playerName,
				PlayerUUID:    playerUUID,
				IdentityToken: identityToken,
				SessionToken:  sessionToken,
				AuthMode:      authMode,
				JavaPath:      javaPath,
				Server:        serverAddr,
				Fullscreen:    fullscreen,
				Width:         windowWidth,
				Height:        windowHeight,
				GpuPreference: gpuPreference,
			})
			if err != nil {
				return err
			}

			cmd.Printf("Game started, pid %d, session log %s\n", session.PID, session.LogPath)
			if !waitForExit {
				return nil
			}

			code, err := session.Wait(ctx)
			if err != nil {
				return err
			}
			log.Infof("game exited with code %d", code)
			cmd.Printf("Game exited with code %d\n", code)
			return nil
		},
	}
)

func init() {
	launchCmd.PersistentFlags().StringVarP(&playerName, "name", "n", "", "player display name")
	launchCmd.PersistentFlags().StringVar(&playerUUID, "uuid", "", "player UUID, generated and persisted when omitted")
	launchCmd.PersistentFlags().StringVar(&identityToken, "identity-token", "", "identity token for authenticated play")
	launchCmd.PersistentFlags().StringVar(&sessionToken, "session-token", "", "session token for authenticated play")
	launchCmd.PersistentFlags().StringVar(&authMode, "auth-mode", "", "force \"offline\" or \"authenticated\"")
	launchCmd.PersistentFlags().StringVar(&javaPath, "java", "", "path to a Java runtime, overriding detection")
	launchCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "server address to connect to on startup")
	launchCmd.PersistentFlags().BoolVar(&fullscreen, "fullscreen", false, "start the game in fullscreen")
	launchCmd.PersistentFlags().IntVar(&windowWidth, "width", 0, "window width")
	launchCmd.PersistentFlags().IntVar(&windowHeight, "height", 0, "window height")
	launchCmd.PersistentFlags().StringVar(&gpuPreference, "gpu", "", "GPU preference: nvidia, integrated or discrete")
	launchCmd.PersistentFlags().BoolVar(&waitForExit, "wait", true, "block until the game exits")
}
