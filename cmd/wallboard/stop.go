package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/config"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/daemon"
)

func newStopCmd() *cobra.Command {
	var (
		f       configFlags
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the wallboard daemon",
		Long:  "Sends SIGTERM to the daemon named in the pid file and waits for it to finish the event it is handling and exit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			return runStop(cmd, cfg, timeout)
		},
	}

	f.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "max wait for graceful shutdown")
	return cmd
}

func newRestartCmd() *cobra.Command {
	var (
		f       startFlags
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the wallboard daemon",
		Long:  "Stops the running daemon, if any, and starts it again in the background.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			if err := runStop(cmd, cfg, timeout); err != nil {
				return err
			}
			return spawnDetached(cmd, &f, cfg)
		},
	}

	f.register(cmd)
	cmd.Flags().BoolVar(&f.debug, "debug", false, "debug logging plus a raw protocol trace file")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "max wait for graceful shutdown")
	return cmd
}

func runStop(cmd *cobra.Command, cfg *config.Config, timeout time.Duration) error {
	out := cmd.OutOrStdout()
	pid, err := daemon.ReadPID(cfg.Daemon.PIDFile)
	if errors.Is(err, daemon.ErrNoPIDFile) {
		fmt.Fprintln(out, "Wallboard daemon is not running.")
		return nil
	}
	if err != nil {
		return err
	}
	if !daemon.IsRunning(pid) {
		if err := daemon.RemovePID(cfg.Daemon.PIDFile); err != nil {
			return err
		}
		fmt.Fprintf(out, "Removed stale pid file (pid %d was not running).\n", pid)
		return nil
	}

	fmt.Fprintf(out, "Stopping wallboard daemon (pid %d)...\n", pid)
	if err := stopProcess(pid, timeout); err != nil {
		return err
	}
	fmt.Fprintln(out, "Wallboard daemon stopped.")
	return nil
}

// stopProcess sends SIGTERM and polls until pid exits or timeout passes.
func stopProcess(pid int, timeout time.Duration) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal process %d: %w", pid, err)
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !daemon.IsRunning(pid) {
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon (pid %d) did not exit within %s", pid, timeout)
}
