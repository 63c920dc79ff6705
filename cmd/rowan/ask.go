package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rowanlabs/rowan/internal/agent"
	"github.com/rowanlabs/rowan/internal/model"
)

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Run one query to completion, printing progress",
		Args:  cobra.MinimumNArgs(1),
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

			// Subscribe to the global stream before submitting so no event
			// is missed between submit and subscribe.
			sub := a.bus.SubscribeGlobal()
			defer sub.Close()

			promptText := strings.Join(args, " ")
			runID, err := a.manager.Submit(cmd.Context(), promptText, "", "", "")
			if err != nil {
				return err
			}

			stdin := bufio.NewReader(os.Stdin)
			for ev := range sub.C {
				if ev.RunID != runID {
					continue
				}
				switch ev.Type {
				case model.EventUserMessage:
					fmt.Println("• " + ev.Payload)
				case model.EventQuestion:
					fmt.Println("? " + ev.Payload)
					fmt.Print("> ")
					answer, err := stdin.ReadString('\n')
					if err != nil {
						return fmt.Errorf("read answer: %w", err)
					}
					if err := resumeWithRetry(cmd.Context(), a, runID, strings.TrimSpace(answer)); err != nil {
						return err
					}
				case model.EventRunCompleted:
					fmt.Println(ev.Payload)
					run, err := a.store.GetRun(cmd.Context(), runID)
					if err == nil && run.Status == model.StatusFailed {
						return fmt.Errorf("run failed: %s", run.Reason)
					}
					return nil
				}
			}
			return fmt.Errorf("event stream closed before the run finished")
		},
	}
	return cmd
}

// resumeWithRetry resubmits user input, waiting out the brief window between
// the question event and the run being parked.
func resumeWithRetry(ctx context.Context, a *app, runID, input string) error {
	var err error
	for i := 0; i < 20; i++ {
		if _, err = a.manager.Submit(ctx, input, "", "", runID); err == nil {
			return nil
		}
		if !errors.Is(err, agent.ErrRunBusy) && !errors.Is(err, agent.ErrUnknownRun) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return err
}
