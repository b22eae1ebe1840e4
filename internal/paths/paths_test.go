package paths

import "testing"

func setTempHome(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("USERPROFILE", dir)
}

func TestPathAgreement(t *testing.T) {
	setTempHome(t)

	root, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error: %v", err)
	}

	msgDB, err := MessagesDB()
	if err != nil {
		t.Fatalf("MessagesDB() error: %v", err)
	}
	vecDB, err := VectorsDB()
	if err != nil {
		t.Fatalf("VectorsDB() error: %v", err)
	}
	models, err := Models()
	if err != nil {
		t.Fatalf("Models() error: %v", err)
	}

	for _, p := range []string{msgDB, vecDB, models} {
		if len(p) <= len(root) || p[:len(root)] != root {
			t.Fatalf("expected %q to be rooted under %q", p, root)
		}
	}
}

func TestSettingsAndCredentialsShareRoot(t *testing.T) {
	setTempHome(t)

	root, _ := Dir()
	settings, err := Settings()
	if err != nil {
		t.Fatalf("Settings() error: %v", err)
	}
	creds, err := Credentials()
	if err != nil {
		t.Fatalf("Credentials() error: %v", err)
	}

	if settings[:len(root)] != root || creds[:len(root)] != root {
		t.Fatalf("expected settings and credentials under %q, got %q and %q", root, settings, creds)
	}
}

func TestSocketAndPIDShareRoot(t *testing.T) {
	setTempHome(t)

	root, _ := Dir()
	sock, err := Socket()
	if err != nil {
		t.Fatalf("Socket() error: %v", err)
	}
	pid, err := PID()
	if err != nil {
		t.Fatalf("PID() error: %v", err)
	}
	logPath, err := Log()
	if err != nil {
		t.Fatalf("Log() error: %v", err)
	}

	for _, p := range []string{sock, pid, logPath} {
		if len(p) <= len(root) || p[:len(root)] != root {
			t.Fatalf("expected %q to be rooted under %q", p, root)
		}
	}
}
