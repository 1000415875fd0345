package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stellarlinkco/factubot/internal/config"
	"github.com/stellarlinkco/factubot/internal/cron"
)

func loadCron() (*cron.Service, error) {
	s := cron.NewService(config.CronStorePath(), nil)
	if err := s.Load(); err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	return s, nil
}

func newCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled digests (picked up by the gateway on start)",
	}
	cmd.AddCommand(newCronListCmd(), newCronAddCmd(), newCronRemoveCmd(), newCronEnableCmd(true), newCronEnableCmd(false))
	return cmd
}

func newCronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadCron()
			if err != nil {
				return err
			}
			jobs := s.ListJobs()
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tPAYLOAD\tTARGET\tENABLED\tLAST")
			for _, job := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%s\n",
					job.ID, job.Name, job.Schedule, describePayload(job.Payload),
					target(job.Payload), job.Enabled, job.State.LastStatus)
			}
			return w.Flush()
		},
	}
}

func describePayload(p cron.Payload) string {
	if p.Command != "" {
		return strings.TrimSpace(p.Command + " " + strings.Join(p.Args, " "))
	}
	return fmt.Sprintf("%q", p.Question)
}

func target(p cron.Payload) string {
	if p.Channel == "" {
		return "-"
	}
	return p.Channel + ":" + p.To
}

func newCronAddCmd() *cobra.Command {
	var (
		name, expr, at, question, channel, to string
		every                                 time.Duration
	)
	cmd := &cobra.Command{
		Use:   "add [command [args...]]",
		Short: "Schedule a command or a question",
		Example: `  factubot cron add --name retards --cron "0 0 8 * * 1-5" --channel telegram --to 123456 overdue
  factubot cron add --name hebdo --every 168h --question "Résumé des dépenses de la semaine ?"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule, err := buildSchedule(expr, every, at)
			if err != nil {
				return err
			}
			payload := cron.Payload{Question: question, Channel: channel, To: to}
			if len(args) > 0 {
				payload.Command, payload.Args = args[0], args[1:]
			}
			if name == "" {
				name = describePayload(payload)
			}

			s, err := loadCron()
			if err != nil {
				return err
			}
			job, err := s.AddJob(name, schedule, payload)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added job %s (%s)\n", job.ID, job.Schedule)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "job name")
	cmd.Flags().StringVar(&expr, "cron", "", "six-field cron expression (seconds first)")
	cmd.Flags().DurationVar(&every, "every", 0, "fixed interval")
	cmd.Flags().StringVar(&at, "at", "", "run once at this RFC 3339 time")
	cmd.Flags().StringVar(&question, "question", "", "question for the agent instead of a command")
	cmd.Flags().StringVar(&channel, "channel", "", "channel to post the result on")
	cmd.Flags().StringVar(&to, "to", "", "chat id on that channel")
	return cmd
}

func buildSchedule(expr string, every time.Duration, at string) (cron.Schedule, error) {
	set := 0
	for _, ok := range []bool{expr != "", every != 0, at != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return cron.Schedule{}, fmt.Errorf("give exactly one of --cron, --every, --at")
	}
	switch {
	case expr != "":
		return cron.Schedule{Kind: cron.KindCron, Expr: expr}, nil
	case every != 0:
		return cron.Schedule{Kind: cron.KindEvery, EveryMs: every.Milliseconds()}, nil
	default:
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return cron.Schedule{}, fmt.Errorf("parse --at: %w", err)
		}
		return cron.Schedule{Kind: cron.KindAt, AtMs: t.UnixMilli()}, nil
	}
}

func newCronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadCron()
			if err != nil {
				return err
			}
			if !s.RemoveJob(args[0]) {
				return fmt.Errorf("job %s not found", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", args[0])
			return nil
		},
	}
}

func newCronEnableCmd(enabled bool) *cobra.Command {
	use, verb := "enable", "Enabled"
	if !enabled {
		use, verb = "disable", "Disabled"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadCron()
			if err != nil {
				return err
			}
			job, err := s.EnableJob(args[0], enabled)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s job %s\n", verb, job.ID)
			return nil
		},
	}
}
