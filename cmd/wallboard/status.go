package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/daemon"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/health"
	"github.com/twright82/VitalPBX-Asterisk-Wallboard/internal/models"
	"gorm.io/gorm"
)

func newStatusCmd() *cobra.Command {
	var f configFlags

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		Long:  "Reports whether the daemon is running and, when the state store is reachable, the live per-queue summary.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, &f)
		},
	}

	f.register(cmd)
	return cmd
}

func runStatus(cmd *cobra.Command, f *configFlags) error {
	cfg, err := f.load()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if pid, ok := daemon.Running(cfg.Daemon.PIDFile); ok {
		fmt.Fprintf(out, "Wallboard daemon: running (pid %d)\n", pid)
	} else {
		fmt.Fprintln(out, "Wallboard daemon: stopped")
	}

	_, gormDB, err := connectFromConfig(f)
	if err != nil {
		fmt.Fprintf(out, "State store: unavailable (%v)\n", err)
		return nil
	}
	var rows []models.QueueStatsRealtime
	if err := gormDB.WithContext(cmd.Context()).Order("queue_number").Find(&rows).Error; err != nil {
		fmt.Fprintf(out, "State store: unavailable (%v)\n", err)
		return nil
	}
	writeQueueTable(out, rows)
	return nil
}

func writeQueueTable(out io.Writer, rows []models.QueueStatsRealtime) {
	if len(rows) == 0 {
		fmt.Fprintln(out, "No queue statistics yet.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "QUEUE\tWAITING\tAVAILABLE\tCALLS\tANSWERED\tABANDONED\tSLA%")
	for _, r := range rows {
		label := r.QueueNumber
		if r.QueueName != "" {
			label = fmt.Sprintf("%s (%s)", r.QueueName, r.QueueNumber)
		}
		fmt.Fprintf(w, "%s\t%d\t%d/%d\t%d\t%d\t%d\t%.1f\n",
			label, r.CallsWaiting, r.AgentsAvailable, r.TotalAgents,
			r.CallsToday, r.AnsweredToday, r.AbandonedToday, r.SLAPercentToday)
	}
	w.Flush()
}

func newHealthCmd() *cobra.Command {
	var f configFlags

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check daemon health",
		Long:  "Checks the pid file and process, log activity and database reachability. Exits non-zero when unhealthy.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(cmd, &f)
		},
	}

	f.register(cmd)
	return cmd
}

func runHealth(cmd *cobra.Command, f *configFlags) error {
	cfg, err := f.load()
	if err != nil {
		return err
	}

	opts := health.Options{
		PIDFile:    cfg.Daemon.PIDFile,
		LogFile:    cfg.Daemon.LogFile,
		StaleAfter: cfg.Health.StaleAfter,
	}
	var gormDB *gorm.DB
	if _, gormDB, err = connectFromConfig(f); err == nil {
		opts.DB = gormDB
	}

	rep := health.Check(cmd.Context(), opts)
	if err != nil {
		rep.Checks = append(rep.Checks, health.Result{Name: "database", Status: health.StatusFail, Detail: err.Error()})
		rep.Healthy = false
	}
	fmt.Fprint(cmd.OutOrStdout(), health.Format(rep))
	if !rep.Healthy {
		return fmt.Errorf("daemon is unhealthy")
	}
	return nil
}
