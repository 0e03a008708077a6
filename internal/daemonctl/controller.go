package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ticketflow/internal/config"
	"ticketflow/internal/ipc"
)

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

const (
	defaultStartTimeout = 10 * time.Second
	defaultStopGrace    = 5 * time.Second
)

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult reports what Start had to do.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// StopResult reports how the daemon went down.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult pairs the stop and start halves of a restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// Controller drives the daemon process from the CLI.
type Controller struct {
	SocketPath   string
	Config       *config.Config
	Executable   string
	Launch       LaunchOptions
	StartTimeout time.Duration
	StopGrace    time.Duration
}

func (c *Controller) startTimeout() time.Duration {
	if c.StartTimeout > 0 {
		return c.StartTimeout
	}
	return defaultStartTimeout
}

func (c *Controller) stopGrace() time.Duration {
	if c.StopGrace > 0 {
		return c.StopGrace
	}
	return defaultStopGrace
}

// Start launches the daemon process when its socket is absent and then asks
// it to start its loops.
func (c *Controller) Start(ctx context.Context) (StartResult, error) {
	result := StartResult{}
	client, err := ipc.Dial(c.SocketPath)
	if err != nil {
		if err := Launch(c.Executable, c.Launch); err != nil {
			return result, err
		}
		result.Launched = true
		if client, err = dialWhenReady(ctx, c.SocketPath, c.startTimeout()); err != nil {
			return result, err
		}
	}
	defer client.Close()

	if status, err := client.Status(); err == nil && status.Running {
		result.State = StartStateAlreadyRunning
		if result.Launched {
			result.State = StartStateStarted
		}
		return result, nil
	}

	resp, err := client.Start()
	if err != nil {
		return result, err
	}
	result.Message = strings.TrimSpace(resp.Message)
	switch {
	case resp.Started:
		result.State = StartStateStarted
	case strings.EqualFold(result.Message, "daemon already running"):
		result.State = StartStateAlreadyRunning
		if result.Launched {
			result.State = StartStateStarted
		}
	default:
		result.State = StartStateRequested
		if result.Message == "" {
			result.Message = "Start request sent"
		}
	}
	return result, nil
}

// Stop asks the daemon to stop and kills the process if it is still
// reachable once the grace period has passed.
func (c *Controller) Stop(ctx context.Context) (StopResult, error) {
	client, err := ipc.Dial(c.SocketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	var status ipc.StatusResponse
	if resp, err := client.Status(); err == nil {
		status = *resp
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{StopAcknowledged: resp.Stopped, PID: status.PID}

	_ = c.waitForShutdown(ctx)
	alive, livePID := c.processInfo()
	if !alive {
		return result, nil
	}
	if livePID == 0 {
		livePID = status.PID
	}
	pidPath, lockPath, err := c.stateFiles(status)
	if err != nil {
		return result, err
	}
	killed, err := killDaemon(pidPath, lockPath, livePID)
	if err != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", err)
	}
	_ = os.Remove(c.SocketPath)
	result.ForcedKill = true
	result.PID = killed
	return result, nil
}

// Restart stops the daemon when it is running and then starts it.
func (c *Controller) Restart(ctx context.Context) (RestartResult, error) {
	stop, err := c.Stop(ctx)
	if err != nil && !errors.Is(err, ErrDaemonNotRunning) {
		return RestartResult{}, err
	}
	start, startErr := c.Start(ctx)
	if startErr != nil {
		return RestartResult{}, startErr
	}
	return RestartResult{WasRunning: err == nil, Stop: stop, Start: start}, nil
}

// waitForShutdown returns once the socket is gone or the daemon reports its
// loops stopped.
func (c *Controller) waitForShutdown(ctx context.Context) error {
	return waitUntil(ctx, c.stopGrace(), func() (bool, error) {
		client, err := ipc.Dial(c.SocketPath)
		if err != nil {
			return isDaemonUnavailable(err), err
		}
		defer client.Close()
		status, err := client.Status()
		if err != nil {
			return false, err
		}
		if status.Running {
			return false, errors.New("daemon still running")
		}
		return true, nil
	})
}

// processInfo reports whether the daemon process still answers on its socket.
func (c *Controller) processInfo() (bool, int) {
	client, err := ipc.Dial(c.SocketPath)
	if err != nil {
		return false, 0
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil {
		return true, 0
	}
	return true, status.PID
}

// stateFiles locates the pid and lock files, preferring the daemon's own
// report over local configuration.
func (c *Controller) stateFiles(status ipc.StatusResponse) (string, string, error) {
	var dir string
	switch {
	case status.LockPath != "":
		dir = filepath.Dir(status.LockPath)
	case status.JournalPath != "":
		dir = filepath.Dir(status.JournalPath)
	case c.Config != nil && strings.TrimSpace(c.Config.Paths.StateDir) != "":
		dir = c.Config.Paths.StateDir
	default:
		return "", "", errors.New("unable to determine daemon state directory")
	}
	return filepath.Join(dir, "ticketflow.pid"), filepath.Join(dir, "ticketflow.lock"), nil
}

// killDaemon sends SIGKILL to the pid recorded in pidPath, or fallbackPID
// when the file is missing, and removes the pid and lock files.
func killDaemon(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	switch {
	case err == nil:
		if parsed, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && parsed > 0 {
			pid = parsed
		}
	case !errors.Is(err, os.ErrNotExist):
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return pid, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}
