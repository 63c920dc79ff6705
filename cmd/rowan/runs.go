package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded runs",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsShowCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, run := range runs {
				fmt.Printf("%s  %-13s %2d/%d  %s\n",
					run.CreatedAt.Format("2006-01-02 15:04"), run.Status,
					run.TurnCount, run.TurnLimit, firstLine(run.Prompt, 60))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func runsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its turn history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("run %s  status=%s", run.ID, run.Status)
			if run.Reason != "" {
				fmt.Printf(" (%s)", run.Reason)
			}
			fmt.Printf("  turns=%d/%d\n", run.TurnCount, run.TurnLimit)
			fmt.Printf("prompt: %s\n", run.Prompt)
			for _, t := range run.Turns {
				fmt.Printf("\n[%d] %s", t.Index, t.Action)
				if t.UserMessage != "" {
					fmt.Printf("  %s", t.UserMessage)
				}
				fmt.Println()
				if t.Input != "" {
					fmt.Println(indent(t.Input, "    "))
				}
				status := "ok"
				if !t.Outcome.Ok {
					status = "failed"
				}
				fmt.Printf("    -> %s: %s\n", status, firstLine(t.Outcome.Message, 120))
			}
			if run.Output != "" {
				fmt.Printf("\noutput: %s\n", run.Output)
			}
			return nil
		},
	}
	return cmd
}

func firstLine(s string, max int) string {
	for i, r := range s {
		if r == '\n' {
			s = s[:i]
			break
		}
	}
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
