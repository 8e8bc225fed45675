package cmd

import (
	"github.com/spf13/cobra"

	"github.com/luyumi/launcher/version"
)

var (
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "prints the launcher version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(version.Version())
		},
	}
)
