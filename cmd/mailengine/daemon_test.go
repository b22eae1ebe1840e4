package main

import (
	"os"
	"testing"

	"mailengine/internal/ipc"
	"mailengine/internal/paths"
)

func setTempHome(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("USERPROFILE", dir)
}

func TestDaemonStatusWithNoPidFile(t *testing.T) {
	setTempHome(t)

	if _, running := daemonStatus(); running {
		t.Fatal("expected not running with no PID file")
	}
}

func TestDaemonStatusRemovesStalePidFile(t *testing.T) {
	setTempHome(t)

	pidPath, err := paths.PID()
	if err != nil {
		t.Fatalf("paths.PID: %v", err)
	}
	// PID 1 exists on any system but is never this binary's comm name.
	if err := os.WriteFile(pidPath, []byte("1:0.1.0"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, running := daemonStatus(); running {
		t.Fatal("expected stale PID file to be treated as not running")
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatal("expected stale PID file to be removed")
	}
}

func TestParseLockInfoViaIPC(t *testing.T) {
	lock, err := ipc.ParseLockInfo([]byte("42:0.1.0"))
	if err != nil {
		t.Fatalf("ParseLockInfo: %v", err)
	}
	if lock.PID != 42 || lock.Version != "0.1.0" {
		t.Fatalf("unexpected lock info: %+v", lock)
	}
}
