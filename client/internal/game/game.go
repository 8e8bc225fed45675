package game

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/luyumi/launcher/client/internal"
	"github.com/luyumi/launcher/client/internal/extract"
	"github.com/luyumi/launcher/client/internal/fault"
	"github.com/luyumi/launcher/client/internal/jre"
	"github.com/luyumi/launcher/client/internal/patcher"
	"github.com/luyumi/launcher/client/internal/skins"
)

// LaunchOptions carries everything one game session needs. Zero values fall
// back to configured or detected defaults.
type LaunchOptions struct {
	PlayerName    string
	PlayerUUID    string
	IdentityToken string
	SessionToken  string
	// AuthMode forces "offline" or "authenticated"; empty selects by token
	// presence
	AuthMode string
	// JavaPath overrides runtime detection
	JavaPath string
	// GameDir overrides the resolved install directory
	GameDir string
	// Server, when set, makes the client connect immediately
	Server string

	Fullscreen    bool
	Width         int
	Height        int
	GpuPreference string
}

// Session is a started game process and its supervision state.
type Session struct {
	PID        int
	PlayerUUID string
	PlayerName string
	StartedAt  time.Time
	LogPath    string

	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	exited   bool
}

// Orchestrator prepares and supervises game launches.
type Orchestrator struct {
	paths       *internal.InstallPaths
	userDataDir string
	skins       *skins.Manager

	// seam for tests
	provisionRuntimeFn func(ctx context.Context) error
}

// NewOrchestrator wires the launcher against the resolved install layout.
func NewOrchestrator(paths *internal.InstallPaths) *Orchestrator {
	return newOrchestrator(paths, internal.UserDataDir())
}

func newOrchestrator(paths *internal.InstallPaths, userDataDir string) *Orchestrator {
	o := &Orchestrator{
		paths:       paths,
		userDataDir: userDataDir,
		skins:       skins.NewManager(filepath.Join(userDataDir, skins.RepositoryDirName)),
	}
	o.provisionRuntimeFn = func(ctx context.Context) error {
		return jre.NewProvisioner().EnsureBundled(ctx, paths.JreDir, paths.CacheDir, nil)
	}
	return o
}

// Launch prepares the session and starts the game process. The returned
// Session is already being supervised; callers may Wait on it or return
// immediately.
func (o *Orchestrator) Launch(ctx context.Context, opts LaunchOptions) (*Session, error) {
	gameDir := opts.GameDir
	if gameDir == "" {
		gameDir = o.paths.GameDir
	}

	javaPath := o.resolveRuntime(ctx, opts.JavaPath)
	if javaPath == "" {
		return nil, fault.New(fault.Environment, "no usable Java runtime found; install Java or run a repair")
	}

	clientPath := extract.FindClient(gameDir)
	if clientPath == "" {
		return nil, fault.New(fault.Environment, "game client not found in %s; install the game first", gameDir)
	}

	cfg, err := internal.ReadConfig(internal.ConfigPath(o.paths.AppDir))
	if err != nil {
		log.Warnf("failed to read launcher config: %v", err)
		cfg = &internal.Config{}
	}

	// domain retargeting is best effort; an unpatched client still starts,
	// it just talks to the original service
	patcher.New(internal.OriginalAuthDomain, internal.ResolveAuthDomain(cfg)).EnsurePatched(gameDir)

	playerUUID := opts.PlayerUUID
	if playerUUID == "" {
		playerUUID, err = internal.GetOrCreateClientUUID(ctx, internal.ConfigPath(o.paths.AppDir))
		if err != nil {
			log.Warnf("failed to load client UUID, using a session-scoped one: %v", err)
			playerUUID = uuid.NewString()
		}
	}
	playerName := opts.PlayerName
	if playerName == "" {
		playerName = "Player"
	}

	userDataDir := o.userDataDir
	if err := o.skins.PrepareForLaunch(userDataDir, playerUUID, playerName); err != nil {
		log.Warnf("skin restore failed, continuing launch: %v", err)
	}

	if err := UpdateClientSettings(userDataDir, opts); err != nil {
		log.Warnf("failed to update client settings: %v", err)
	}

	profile := internal.ActiveProfile(o.paths.AppDir)
	gameArgs := buildGameArgs(o.paths.AppDir, javaPath, userDataDir, playerUUID, playerName, opts)

	cmd, err := buildCommand(ctx, clientPath, javaPath, gameArgs)
	if err != nil {
		return nil, err
	}
	cmd.Dir = filepath.Dir(clientPath)
	cmd.Env = buildEnv(profile, filepath.Dir(clientPath), opts)
	hideWindow(cmd)

	logFile, logPath, err := openSessionLog(o.paths.AppDir)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}

	writeSessionHeader(logFile, gameArgs, opts)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		closeQuietly(logFile)
		return nil, fmt.Errorf("attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		closeQuietly(logFile)
		return nil, fmt.Errorf("attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		closeQuietly(logFile)
		return nil, fault.Wrap(fault.Environment, fmt.Errorf("start game process: %w", err))
	}

	session := &Session{
		PID:        cmd.Process.Pid,
		PlayerUUID: playerUUID,
		PlayerName: playerName,
		StartedAt:  time.Now(),
		LogPath:    logPath,
		cmd:        cmd,
		done:       make(chan struct{}),
	}
	fmt.Fprintf(logFile, "[launcher] game process started, pid=%d\n", session.PID)
	log.Infof("game started, pid=%d player=%s", session.PID, playerName)

	o.skins.Start(userDataDir)

	var drains sync.WaitGroup
	drains.Add(2)
	go drainStream(&drains, "STDOUT", stdout, logFile)
	go drainStream(&drains, "STDERR", stderr, logFile)

	go o.watchExit(session, &drains, logFile)

	return session, nil
}

// resolveRuntime picks the Java executable for this launch: explicit
// override, then system detection, then the bundled runtime, provisioning
// the bundle as a last resort.
func (o *Orchestrator) resolveRuntime(ctx context.Context, override string) string {
	if override != "" {
		if path := jre.ResolveJavaPath(override); path != "" {
			return path
		}
		log.Warnf("configured Java path %q is not usable, falling back to detection", override)
	}
	if path := jre.DetectSystemJava(); path != "" {
		return path
	}
	if path := jre.BundledJavaPath(o.paths.JreDir); path != "" {
		return path
	}

	log.Info("no Java runtime found, provisioning the bundled one")
	if err := o.provisionRuntimeFn(ctx); err != nil {
		log.Warnf("bundled runtime provisioning failed: %v", err)
		return ""
	}
	return jre.BundledJavaPath(o.paths.JreDir)
}

// watchExit blocks until the game process ends, then finalizes the session:
// drains are joined, skins are backed up one last time, monitoring stops
// and the session log is closed.
func (o *Orchestrator) watchExit(session *Session, drains *sync.WaitGroup, logFile *os.File) {
	// drain before Wait so no trailing output is lost when Wait closes
	// the pipes
	drains.Wait()
	err := session.cmd.Wait()

	code := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = -1
			log.Warnf("game process wait failed: %v", err)
		}
	}

	session.mu.Lock()
	session.exitCode = code
	session.exited = true
	session.mu.Unlock()

	o.skins.ForceBackup()
	o.skins.Stop()

	fmt.Fprintf(logFile, "[launcher] game process exited, code=%d\n", code)
	closeQuietly(logFile)
	log.Infof("game exited, pid=%d code=%d", session.PID, code)

	close(session.done)
}

// Wait blocks until the game process has exited and returns its exit code.
func (s *Session) Wait(ctx context.Context) (int, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.exitCode, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Running reports whether the game process is still alive.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.exited
}

// buildCommand assembles the process invocation: jar clients run under the
// resolved Java runtime, native clients run directly with the exec bit
// ensured.
func buildCommand(ctx context.Context, clientPath, javaPath string, gameArgs []string) (*exec.Cmd, error) {
	if strings.HasSuffix(strings.ToLower(clientPath), ".jar") {
		args := append([]string{"-jar", clientPath}, gameArgs...)
		return exec.CommandContext(ctx, javaPath, args...), nil
	}
	extract.EnsureExecutablePermissions(filepath.Dir(clientPath))
	return exec.CommandContext(ctx, clientPath, gameArgs...), nil
}

// buildGameArgs assembles the client command line.
func buildGameArgs(appDir, javaPath, userDataDir, playerUUID, playerName string, opts LaunchOptions) []string {
	args := []string{
		"--app-dir", appDir,
		"--java-exec", javaPath,
	}
	if opts.Server != "" {
		args = append(args, "--connect", opts.Server)
	}

	authenticated := opts.IdentityToken != "" && opts.SessionToken != ""
	if opts.AuthMode == "offline" {
		authenticated = false
	}
	if authenticated {
		args = append(args,
			"--auth-mode", "authenticated",
			"--identity-token", opts.IdentityToken,
			"--session-token", opts.SessionToken,
		)
	} else {
		args = append(args, "--auth-mode", "offline")
	}

	args = append(args,
		"--uuid", playerUUID,
		"--name", playerName,
		"--user-dir", userDataDir,
	)
	return args
}

// buildEnv derives the child environment: JVM memory flags and profile args
// through _JAVA_OPTIONS plus platform display/GPU tweaks.
func buildEnv(profile *internal.Profile, clientDir string, opts LaunchOptions) []string {
	env := os.Environ()

	javaOptions := []string{
		"-Xms" + profile.GameOptions.MinMemory,
		"-Xmx" + profile.GameOptions.MaxMemory,
	}
	javaOptions = append(javaOptions, profile.GameOptions.Args...)
	env = append(env, "_JAVA_OPTIONS="+strings.Join(javaOptions, " "))

	return append(env, platformEnv(clientDir, opts)...)
}

// UpdateClientSettings pushes window options into the game's Settings.json,
// preserving any other keys the game stored there.
func UpdateClientSettings(userDataDir string, opts LaunchOptions) error {
	if !opts.Fullscreen && opts.Width == 0 && opts.Height == 0 {
		return nil
	}
	if err := os.MkdirAll(userDataDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(userDataDir, "Settings.json")

	settings := map[string]interface{}{}
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &settings); err != nil {
			log.Warnf("Settings.json is not valid JSON, rewriting: %v", err)
			settings = map[string]interface{}{}
		}
	}

	settings["Fullscreen"] = opts.Fullscreen
	if opts.Width > 0 {
		settings["WindowWidth"] = opts.Width
	}
	if opts.Height > 0 {
		settings["WindowHeight"] = opts.Height
	}

	raw, err := json.MarshalIndent(settings, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func closeQuietly(f *os.File) {
	if err := f.Close(); err != nil {
		log.Warnf("error closing session log: %v", err)
	}
}
