package ipc

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

// LockInfo is the parsed contents of the daemon's PID file, "PID:VERSION",
// adapted from the teacher's proc.LockInfo.
type LockInfo struct {
	PID     int
	Version string
}

// ParseLockInfo parses "PID[:VERSION]" lock file contents.
func ParseLockInfo(data []byte) (LockInfo, error) {
	content := strings.TrimSpace(string(data))
	if content == "" {
		return LockInfo{}, fmt.Errorf("empty lock file")
	}

	parts := strings.SplitN(content, ":", 2)
	pid, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || pid <= 0 {
		return LockInfo{}, fmt.Errorf("invalid PID in lock file")
	}

	info := LockInfo{PID: pid}
	if len(parts) == 2 {
		info.Version = strings.TrimSpace(parts[1])
	}
	return info, nil
}

// IsDaemonProcess reports whether pid is still alive and is a mailengine
// process, distinguishing a live daemon from a stale PID file reused by an
// unrelated process, adapted from the teacher's proc.IsMailyProcess.
func IsDaemonProcess(pid int) bool {
	cmd := exec.Command("ps", "-p", strconv.Itoa(pid), "-o", "comm=")
	output, err := cmd.Output()
	if err != nil {
		return false
	}
	comm := strings.TrimSpace(string(output))
	return comm == "mailengine" || strings.HasSuffix(comm, "/mailengine")
}

// ProcessExists reports whether pid refers to a live process, regardless
// of its identity.
func ProcessExists(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
