package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/wamux/internal/client/clienttest"
	"github.com/Iron-Ham/wamux/internal/config"
	"github.com/Iron-Ham/wamux/internal/errors"
	"github.com/Iron-Ham/wamux/internal/logging"
	"github.com/Iron-Ham/wamux/internal/store"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	viper.Reset()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err = root.Execute()
	return buf.String(), err
}

// setupTestEnvironment points the config dir and the sessions root at
// temporary directories and returns the sessions root.
func setupTestEnvironment(t *testing.T) string {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	root := filepath.Join(t.TempDir(), "sessions")
	t.Setenv("WAMUX_SESSIONS_PATH", root)
	return root
}

func mkSession(t *testing.T, root, id string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(root, store.DirPrefix+id), 0o755); err != nil {
		t.Fatalf("failed to create session dir: %v", err)
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "wamux" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "wamux")
	}

	cmdMap := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		cmdMap[cmd.Name()] = true
	}
	for _, expected := range []string{"serve", "sessions", "config"} {
		if !cmdMap[expected] {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}
}

func TestConfigShow(t *testing.T) {
	root := setupTestEnvironment(t)

	output, err := executeCommand(rootCmd, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v\nOutput: %s", err, output)
	}
	for _, want := range []string{"sessions:", "path: " + root, "webhook:", "health:"} {
		if !strings.Contains(output, want) {
			t.Errorf("config show output missing %q:\n%s", want, output)
		}
	}
}

func TestConfigShow_InvalidEnv(t *testing.T) {
	setupTestEnvironment(t)
	t.Setenv("WAMUX_LOGGING_LEVEL", "chatty")

	if _, err := executeCommand(rootCmd, "config", "show"); err == nil {
		t.Error("config show should reject an invalid log level")
	}
}

func TestConfigInit(t *testing.T) {
	setupTestEnvironment(t)

	output, err := executeCommand(rootCmd, "config", "init")
	if err != nil {
		t.Fatalf("config init failed: %v\nOutput: %s", err, output)
	}

	data, err := os.ReadFile(config.ConfigFile())
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "# wamux configuration") {
		t.Error("config file is missing its header")
	}
	if !strings.Contains(string(data), "auto_recover: true") {
		t.Error("config file is missing defaults")
	}

	if _, err := executeCommand(rootCmd, "config", "init"); err == nil {
		t.Error("second config init should fail")
	}
}

func TestConfigPath(t *testing.T) {
	setupTestEnvironment(t)

	output, err := executeCommand(rootCmd, "config", "path")
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	if !strings.Contains(output, config.ConfigFile()) {
		t.Errorf("config path output missing %s:\n%s", config.ConfigFile(), output)
	}
}

func TestSessionsList(t *testing.T) {
	root := setupTestEnvironment(t)

	output, err := executeCommand(rootCmd, "sessions", "list")
	if err != nil {
		t.Fatalf("sessions list failed: %v", err)
	}
	if !strings.Contains(output, "No sessions found.") {
		t.Errorf("expected empty listing, got:\n%s", output)
	}

	mkSession(t, root, "alice")
	mkSession(t, root, "bob")
	if err := os.MkdirAll(filepath.Join(root, ".health"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, ".health", "bob.unhealthy"), []byte("2026-01-02T03:04:05Z"), 0o644); err != nil {
		t.Fatal(err)
	}

	output, err = executeCommand(rootCmd, "sessions", "list")
	if err != nil {
		t.Fatalf("sessions list failed: %v", err)
	}
	for _, want := range []string{"alice", "bob", "unhealthy since", "2 session(s)"} {
		if !strings.Contains(output, want) {
			t.Errorf("sessions list output missing %q:\n%s", want, output)
		}
	}
	if strings.Contains(output, ".health") {
		t.Errorf("health directory listed as a session:\n%s", output)
	}
}

func TestSessionsRemove(t *testing.T) {
	root := setupTestEnvironment(t)
	mkSession(t, root, "alice")

	output, err := executeCommand(rootCmd, "sessions", "remove", "alice")
	if err != nil {
		t.Fatalf("sessions remove failed: %v\nOutput: %s", err, output)
	}
	if _, err := os.Stat(filepath.Join(root, "session-alice")); !os.IsNotExist(err) {
		t.Error("session directory still exists")
	}

	if _, err := executeCommand(rootCmd, "sessions", "remove", "alice"); err == nil {
		t.Error("removing a missing session should fail")
	}
}

func TestSessionsRemove_InvalidID(t *testing.T) {
	setupTestEnvironment(t)

	if _, err := executeCommand(rootCmd, "sessions", "remove", "../etc"); err == nil {
		t.Error("sessions remove should reject an invalid identity")
	}
}

func TestSessionsRemove_RefusedWhileServing(t *testing.T) {
	root := setupTestEnvironment(t)
	mkSession(t, root, "alice")

	st, err := store.New(root, nil)
	if err != nil {
		t.Fatal(err)
	}
	lock, err := st.AcquireRootLock()
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	_, err = executeCommand(rootCmd, "sessions", "remove", "alice")
	if !errors.Is(err, errors.ErrRootLocked) {
		t.Fatalf("err = %v, want ErrRootLocked", err)
	}
	if _, err := os.Stat(filepath.Join(root, "session-alice")); err != nil {
		t.Error("session directory removed while root was locked")
	}
}

func TestServiceRestoresAndShutsDown(t *testing.T) {
	root := t.TempDir()
	mkSession(t, root, "alice")

	cfg := config.Default()
	cfg.Sessions.Path = root
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeoutSeconds = 5
	cfg.Health.Enabled = false
	cfg.WebSocket.Enabled = true

	factory := clienttest.NewFactory()
	svc, err := newService(cfg, factory.New, logging.NopLogger())
	if err != nil {
		t.Fatalf("newService failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for !svc.manager.Registry().Exists("alice") {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("alice was not restored")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, live := svc.store.RootLocked(); !live {
		t.Error("root lock not held while serving")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("service did not stop")
	}

	if svc.manager.Registry().Len() != 0 {
		t.Error("sessions still registered after shutdown")
	}
	if _, err := os.Stat(filepath.Join(root, "session-alice")); err != nil {
		t.Error("shutdown must keep session directories")
	}
	if lock, _ := svc.store.RootLocked(); lock != nil {
		t.Error("root lock not released")
	}
	if logout, _ := factory.Latest("alice").Counts(); logout != 0 {
		t.Error("shutdown must not log sessions out")
	}
}
