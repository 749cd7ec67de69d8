package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/config"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/db"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
)

// testEnv writes a sqlite-backed config into a temp dir.
type testEnv struct {
	dir     string
	cfgPath string
	pidFile string
	logFile string
	dbPath  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		dir:     dir,
		cfgPath: filepath.Join(dir, "wallboard.yaml"),
		pidFile: filepath.Join(dir, "wallboard.pid"),
		logFile: filepath.Join(dir, "daemon.log"),
		dbPath:  filepath.Join(dir, "wallboard.db"),
	}
	yaml := fmt.Sprintf(`
ami:
  host: 127.0.0.1
  username: wallboard
  secret: s3cret
database:
  driver: sqlite
  dsn: %s
daemon:
  pid_file: %s
  log_file: %s
`, env.dbPath, env.pidFile, env.logFile)
	if err := os.WriteFile(env.cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	return env
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "wallboard dev") {
		t.Errorf("expected output to contain 'wallboard dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.2.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "wallboard 1.2.0") || !strings.Contains(out, "built: 2026-01-01") {
		t.Errorf("unexpected version output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := runCmd(t, "--help")
	if err != nil {
		t.Fatalf("help command failed: %v", err)
	}
	for _, sub := range []string{"start", "stop", "restart", "status", "health", "db", "version"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help output to list %q, got: %s", sub, out)
		}
	}
}

func TestExecute_ReturnsExitCode(t *testing.T) {
	ok := &cobra.Command{Use: "ok", RunE: func(*cobra.Command, []string) error { return nil }}
	if code := execute(ok); code != 0 {
		t.Errorf("execute(ok) = %d, want 0", code)
	}
	fail := &cobra.Command{Use: "fail", SilenceErrors: true, RunE: func(*cobra.Command, []string) error { return fmt.Errorf("boom") }}
	if code := execute(fail); code != 1 {
		t.Errorf("execute(fail) = %d, want 1", code)
	}
}

func TestStartCmd_Flags(t *testing.T) {
	cmd := newStartCmd()
	if cmd.Use != "start" {
		t.Errorf("Use = %q, want %q", cmd.Use, "start")
	}
	for _, name := range []string{"config", "env-file", "debug", "detach"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag", name)
		}
	}
	if def := cmd.Flags().Lookup("debug").DefValue; def != "false" {
		t.Errorf("--debug default = %q, want false", def)
	}
	if def := cmd.Flags().Lookup("config").DefValue; def != defaultConfigPath {
		t.Errorf("--config default = %q, want %q", def, defaultConfigPath)
	}
}

func TestStartCmd_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "start", "--config", "/nonexistent/wallboard.yaml", "--env-file", "")
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want load config error", err)
	}
}

func TestStartCmd_AlreadyRunning(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(env.pidFile, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := runCmd(t, "start", "--config", env.cfgPath, "--env-file", "")
	if err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected already running error, got %v", err)
	}
}

func TestDBInit(t *testing.T) {
	env := newTestEnv(t)
	out, err := runCmd(t, "db", "init", "--config", env.cfgPath, "--env-file", "")
	if err != nil {
		t.Fatalf("db init: %v\n%s", err, out)
	}
	if !strings.Contains(out, "initialized successfully") {
		t.Errorf("unexpected output: %s", out)
	}

	cfg, err := config.Load(env.cfgPath, "")
	if err != nil {
		t.Fatal(err)
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	var rules int64
	gormDB.Model(&models.AlertRule{}).Count(&rules)
	if rules != int64(len(db.DefaultAlertRules())) {
		t.Errorf("alert rules = %d, want %d", rules, len(db.DefaultAlertRules()))
	}

	// A second run keeps the seeded rows.
	if _, err := runCmd(t, "db", "init", "--config", env.cfgPath, "--env-file", ""); err != nil {
		t.Fatalf("second db init: %v", err)
	}
	gormDB.Model(&models.AlertRule{}).Count(&rules)
	if rules != int64(len(db.DefaultAlertRules())) {
		t.Errorf("alert rules after rerun = %d", rules)
	}
}

func TestStatus_StoppedWithQueues(t *testing.T) {
	env := newTestEnv(t)
	if _, err := runCmd(t, "db", "init", "--config", env.cfgPath, "--env-file", ""); err != nil {
		t.Fatal(err)
	}
	cfg, _ := config.Load(env.cfgPath, "")
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	gormDB.Create(&models.QueueStatsRealtime{
		QueueNumber: "1293", QueueName: "Support", CallsWaiting: 3,
		AgentsAvailable: 1, TotalAgents: 4, SLAPercentToday: 87.5,
	})

	out, err := runCmd(t, "status", "--config", env.cfgPath, "--env-file", "")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Wallboard daemon: stopped") {
		t.Errorf("expected stopped daemon, got:\n%s", out)
	}
	if !strings.Contains(out, "Support (1293)") || !strings.Contains(out, "1/4") || !strings.Contains(out, "87.5") {
		t.Errorf("expected queue row, got:\n%s", out)
	}
}

func TestStop_NotRunning(t *testing.T) {
	env := newTestEnv(t)
	out, err := runCmd(t, "stop", "--config", env.cfgPath, "--env-file", "")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !strings.Contains(out, "not running") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestStop_StalePIDFile(t *testing.T) {
	env := newTestEnv(t)
	// Reap a short-lived child so its pid is known to be dead.
	child := exec.Command("true")
	if err := child.Run(); err != nil {
		t.Skipf("true not available: %v", err)
	}
	if err := os.WriteFile(env.pidFile, []byte(strconv.Itoa(child.ProcessState.Pid())), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCmd(t, "stop", "--config", env.cfgPath, "--env-file", "")
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !strings.Contains(out, "Removed stale pid file") {
		t.Errorf("unexpected output: %s", out)
	}
	if _, err := os.Stat(env.pidFile); !os.IsNotExist(err) {
		t.Error("stale pid file should be removed")
	}
}

func TestStopProcess(t *testing.T) {
	child := exec.Command("sleep", "30")
	if err := child.Start(); err != nil {
		t.Skipf("sleep not available: %v", err)
	}
	go child.Wait()

	if err := stopProcess(child.Process.Pid, 5*time.Second); err != nil {
		t.Fatalf("stopProcess: %v", err)
	}
}

func TestHealth_UnhealthyWhenStopped(t *testing.T) {
	env := newTestEnv(t)
	out, err := runCmd(t, "health", "--config", env.cfgPath, "--env-file", "")
	if err == nil {
		t.Fatal("expected unhealthy error")
	}
	if !strings.Contains(out, "UNHEALTHY") || !strings.Contains(out, "process") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestResolveAMI(t *testing.T) {
	env := newTestEnv(t)
	cfg, err := config.Load(env.cfgPath, "")
	if err != nil {
		t.Fatal(err)
	}
	gormDB, err := db.Open(cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatal(err)
	}

	got, err := resolveAMI(cfg.AMI, gormDB)
	if err != nil || got.Host != "127.0.0.1" {
		t.Fatalf("config host should win: %+v, %v", got, err)
	}

	empty := config.AMIConfig{Port: 5038}
	if _, err := resolveAMI(empty, gormDB); err == nil {
		t.Error("expected error without host or active row")
	}

	gormDB.Create(&models.AMIConfig{AMIHost: "pbx.local", AMIPort: 5039, AMIUsername: "wb", AMIPassword: "pw", IsActive: true})
	got, err = resolveAMI(empty, gormDB)
	if err != nil {
		t.Fatalf("resolveAMI: %v", err)
	}
	if got.Addr() != "pbx.local:5039" || got.Username != "wb" || got.Secret != "pw" {
		t.Errorf("resolved = %+v", got)
	}
}
