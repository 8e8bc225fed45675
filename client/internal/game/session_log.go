package game

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/luyumi/launcher/client/system"
)

// openSessionLog creates a fresh per-session log file under the app dir.
func openSessionLog(appDir string) (*os.File, string, error) {
	logsDir := filepath.Join(appDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, "", err
	}
	logPath := filepath.Join(logsDir, fmt.Sprintf("game-session-%d.log", time.Now().UnixMilli()))
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, "", err
	}
	return f, logPath, nil
}

// writeSessionHeader records launch context at the top of the session log.
// Tokens never land on disk.
func writeSessionHeader(w io.Writer, gameArgs []string, opts LaunchOptions) {
	fmt.Fprintf(w, "=== game session %s ===\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(w, "system: %s\n", system.GetInfo().String())
	fmt.Fprintf(w, "player: %s\n", opts.PlayerName)
	fmt.Fprintf(w, "args: %s\n", strings.Join(redactArgs(gameArgs), " "))
}

// redactArgs masks token values so session logs are safe to share.
func redactArgs(args []string) []string {
	redacted := make([]string, len(args))
	copy(redacted, args)
	for i := 0; i < len(redacted)-1; i++ {
		switch redacted[i] {
		case "--identity-token", "--session-token":
			redacted[i+1] = "***"
		}
	}
	return redacted
}

// drainStream copies one process stream into the session log and mirrors it
// to the launcher log, tagged with its origin. Runs until the pipe closes
// with the process.
func drainStream(wg *sync.WaitGroup, tag string, r io.Reader, logFile io.Writer) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintf(logFile, "[%s] %s\n", tag, line)
		log.Debugf("game %s: %s", strings.ToLower(tag), line)
	}
	if err := scanner.Err(); err != nil {
		log.Debugf("game %s stream closed with error: %v", strings.ToLower(tag), err)
	}
}
