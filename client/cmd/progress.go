package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/luyumi/launcher/client/internal/installer"
)

// reportProgress polls the install pipeline and prints each distinct
// progress step until done is closed.
func reportProgress(ctx context.Context, cmd *cobra.Command, mgr *installer.Manager, done <-chan struct{}) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var last installer.Progress
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			p := mgr.Progress()
			if p == last {
				continue
			}
			last = p
			cmd.Printf("[%3d%%] %s\n", p.Percent, p.Message)
		}
	}
}
