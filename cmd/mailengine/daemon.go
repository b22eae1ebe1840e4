package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"mailengine/internal/config"
	"mailengine/internal/ipc"
	"mailengine/internal/paths"
)

// daemonCmd groups daemon lifecycle management, adapted from the teacher's
// internal/cli/server_cmd.go (serverCmd start/status/stop).
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background mail engine daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background",
	Run: func(cmd *cobra.Command, args []string) {
		if err := startDaemonBackground(); err != nil {
			fmt.Printf("error starting daemon: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("daemon started")
	},
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground (internal; used by 'daemon start')",
	Hidden: true,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runDaemonForeground(); err != nil {
			fmt.Printf("daemon error: %v\n", err)
			os.Exit(1)
		}
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	Run: func(cmd *cobra.Command, args []string) {
		lock, running := daemonStatus()
		if running {
			fmt.Printf("daemon running (pid %d, version %s)\n", lock.PID, lock.Version)
			return
		}
		fmt.Println("daemon not running")
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	Run: func(cmd *cobra.Command, args []string) {
		if err := stopDaemon(); err != nil {
			fmt.Printf("error stopping daemon: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("daemon stopped")
	},
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd, daemonRunCmd, daemonStatusCmd, daemonStopCmd)
	rootCmd.AddCommand(daemonCmd)
}

// daemonStatus reads the PID file and confirms the recorded process is
// still alive and is this program, matching the teacher's isServerRunning.
func daemonStatus() (ipc.LockInfo, bool) {
	pidPath, err := paths.PID()
	if err != nil {
		return ipc.LockInfo{}, false
	}

	data, err := os.ReadFile(pidPath)
	if err != nil {
		return ipc.LockInfo{}, false
	}

	lock, err := ipc.ParseLockInfo(data)
	if err != nil {
		return ipc.LockInfo{}, false
	}

	if !ipc.IsDaemonProcess(lock.PID) {
		os.Remove(pidPath)
		return ipc.LockInfo{}, false
	}
	return lock, true
}

// startDaemonBackground re-execs this binary as "daemon run" detached from
// the controlling terminal, adapted from the teacher's
// startServerBackground (Setsid + wait-for-socket).
func startDaemonBackground() error {
	if _, running := daemonStatus(); running {
		return fmt.Errorf("daemon already running")
	}

	executable, err := os.Executable()
	if err != nil {
		return err
	}

	logPath, err := paths.Log()
	if err != nil {
		return err
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return err
	}
	defer logFile.Close()

	cmd := exec.Command(executable, "daemon", "run")
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return err
	}

	sockPath, err := paths.Socket()
	if err != nil {
		return err
	}
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		if _, err := os.Stat(sockPath); err == nil {
			return nil
		}
	}
	return fmt.Errorf("daemon failed to start within timeout")
}

// runDaemonForeground builds the engine, binds the control socket, and
// blocks until SIGINT/SIGTERM, matching the teacher's server.Run.
func runDaemonForeground() error {
	pidPath, err := paths.PID()
	if err != nil {
		return err
	}
	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d:%s", os.Getpid(), version)), 0600); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}
	defer os.Remove(pidPath)

	eng, err := buildEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	srv, err := ipc.New(eng.surface, eng.meta, eng.bus)
	if err != nil {
		return err
	}

	fmt.Printf("mailengine daemon started (pid %d, socket %s)\n", os.Getpid(), srv.SocketPath())

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("shutting down...")
		cancel()
	}()

	if settings, err := config.Load(); err != nil {
		fmt.Printf("auto-sync: failed to load settings, skipping: %v\n", err)
	} else if settings.AutoSyncOnStart {
		go func() {
			if err := eng.pipe.AutoSync(ctx, settings.RetentionDays); err != nil {
				fmt.Printf("auto-sync: %v\n", err)
			}
		}()
	}

	return srv.Run(ctx)
}

// stopDaemon signals a graceful shutdown and force-kills if it doesn't
// exit promptly, matching the teacher's stopServer.
func stopDaemon() error {
	lock, running := daemonStatus()
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(lock.PID)
	if err == nil {
		process.Signal(syscall.SIGTERM)
	}

	for i := 0; i < 20; i++ {
		time.Sleep(100 * time.Millisecond)
		if _, stillRunning := daemonStatus(); !stillRunning {
			break
		}
	}

	if _, stillRunning := daemonStatus(); stillRunning {
		if process, err := os.FindProcess(lock.PID); err == nil {
			process.Kill()
		}
	}

	if pidPath, err := paths.PID(); err == nil {
		os.Remove(pidPath)
	}
	if sockPath, err := paths.Socket(); err == nil {
		os.Remove(sockPath)
	}
	return nil
}
