package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aescanero/scaleout/pkg/domain"
	"github.com/aescanero/scaleout/pkg/ports"
)

type runner func(fn func(ctx context.Context, t ports.TrackerAdmin, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error

func newAssignCmd(run runner) *cobra.Command {
	var payload, file string

	cmd := &cobra.Command{
		Use:   "assign <worker-id>",
		Short: "Assign a job payload to a worker",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, t ports.TrackerAdmin, cmd *cobra.Command, args []string) error {
			raw, err := readPayload(payload, file)
			if err != nil {
				return err
			}
			if err := t.AssignJob(ctx, domain.NewJob(args[0], raw)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "assigned job to %s\n", args[0])
			return nil
		}),
	}
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "job payload as JSON")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the job payload from a file")
	return cmd
}

func newCurrentCmd(run runner) *cobra.Command {
	var payload, file, owner string

	cmd := &cobra.Command{
		Use:   "set-current",
		Short: "Set the current job snapshot that flagged workers replicate",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, t ports.TrackerAdmin, cmd *cobra.Command, args []string) error {
			raw, err := readPayload(payload, file)
			if err != nil {
				return err
			}
			if err := t.SetCurrent(ctx, domain.NewJob(owner, raw)); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "current job set")
			return nil
		}),
	}
	cmd.Flags().StringVarP(&payload, "payload", "p", "", "job payload as JSON")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the job payload from a file")
	cmd.Flags().StringVar(&owner, "owner", "", "worker id recorded on the snapshot")
	return cmd
}

func newEnableCmd(run runner, enabled bool) *cobra.Command {
	use, short, verb := "enable <worker-id>", "Allow a worker to take assignments", "enabled"
	if !enabled {
		use, short, verb = "disable <worker-id>", "Stop a worker from taking assignments", "disabled"
	}

	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, t ports.TrackerAdmin, cmd *cobra.Command, args []string) error {
			if err := t.SetWorkerEnabled(ctx, args[0], enabled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, args[0])
			return nil
		}),
	}
}

func newReplicateCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "replicate <worker-id>...",
		Short: "Flag workers to copy the current job snapshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: run(func(ctx context.Context, t ports.TrackerAdmin, cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := t.FlagReplicate(ctx, id); err != nil {
					return fmt.Errorf("flag %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "flagged %s\n", id)
			}
			return nil
		}),
	}
}

func newFinishCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "finish",
		Short: "Mark all work as globally done",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, t ports.TrackerAdmin, cmd *cobra.Command, args []string) error {
			if err := t.Finish(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "work finished")
			return nil
		}),
	}
}

func newWorkersCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List live workers",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, t ports.TrackerAdmin, cmd *cobra.Command, args []string) error {
			ids, err := t.Workers(ctx)
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		}),
	}
}

func newUpdatesCmd(run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "updates",
		Short: "Print reported job results as JSON lines",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, t ports.TrackerAdmin, cmd *cobra.Command, args []string) error {
			updates, err := t.Updates(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, u := range updates {
				if err := enc.Encode(u); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func readPayload(inline, file string) (json.RawMessage, error) {
	var data []byte
	switch {
	case inline != "" && file != "":
		return nil, errors.New("use either --payload or --file")
	case inline != "":
		data = []byte(inline)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		data = b
	default:
		return nil, errors.New("a payload is required (--payload or --file)")
	}

	if !json.Valid(data) {
		return nil, errors.New("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}
