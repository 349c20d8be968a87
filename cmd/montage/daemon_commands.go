package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"montage/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start task processing in the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Start()
				if err != nil {
					return err
				}
				if resp.Started {
					fmt.Fprintln(cmd.OutOrStdout(), "Processing started")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				}
				return nil
			})
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop task processing in the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.Stop(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Processing stopped")
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}

				fmt.Fprintf(stdout, "Running:  %s\n", yesNo(status.Running))
				fmt.Fprintf(stdout, "PID:      %d\n", status.PID)
				fmt.Fprintf(stdout, "Database: %s\n", status.DBPath)
				fmt.Fprintf(stdout, "Socket:   %s\n", status.SocketPath)
				if status.CurrentTaskID > 0 {
					fmt.Fprintf(stdout, "Current:  task %d\n", status.CurrentTaskID)
				}
				fmt.Fprintln(stdout)

				if status.Queue.Total == 0 {
					fmt.Fprintln(stdout, "Queue is empty")
					return nil
				}
				rows := [][]string{
					{"Pending", strconv.Itoa(status.Queue.Pending)},
					{"Processing", strconv.Itoa(status.Queue.Processing)},
					{"Completed", strconv.Itoa(status.Queue.Completed)},
					{"Failed", strconv.Itoa(status.Queue.Failed)},
					{"Total", strconv.Itoa(status.Queue.Total)},
				}
				fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows,
					[]columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}
