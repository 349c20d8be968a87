package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"montage/internal/api"
	"montage/internal/ipc"
)

var statusTitler = cases.Title(language.English)

func newTaskCommand(ctx *commandContext) *cobra.Command {
	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Create and manage composition tasks",
	}

	taskCmd.AddCommand(newTaskCreateCommand(ctx))
	taskCmd.AddCommand(newTaskListCommand(ctx))
	taskCmd.AddCommand(newTaskShowCommand(ctx))
	taskCmd.AddCommand(newTaskRetryCommand(ctx))
	taskCmd.AddCommand(newTaskStopCommand(ctx))
	taskCmd.AddCommand(newTaskRemoveCommand(ctx))

	return taskCmd
}

func newTaskCreateCommand(ctx *commandContext) *cobra.Command {
	var (
		bgmKey     string
		bgmVolume  float64
		bgmLoop    bool
		subtitles  bool
		trimFrames int
		noDedupe   bool
	)

	cmd := &cobra.Command{
		Use:   "create <manifest.json>",
		Short: "Submit a task from a JSON manifest",
		Long: `Submit a composition task described by a JSON manifest.

The manifest carries the subject, title, and ordered units:

  {
    "subject_id": "morning-brief",
    "title": "Morning Brief",
    "units": [
      {"kind": "still", "image_key": "materials/a.png", "audio_key": "materials/a.mp3", "text": "Hello"},
      {"kind": "transition", "start_image_key": "materials/a.png", "end_image_key": "materials/b.png", "prompt": "slow pan"}
    ]
  }

Flags override the matching manifest fields.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}
			var input api.CreateTaskInput
			if err := json.Unmarshal(payload, &input); err != nil {
				return fmt.Errorf("parse manifest: %w", err)
			}

			if cmd.Flags().Changed("bgm") {
				input.BGMRemoteKey = bgmKey
			}
			if cmd.Flags().Changed("bgm-volume") {
				input.BGMVolume = bgmVolume
			}
			if cmd.Flags().Changed("bgm-loop") {
				input.BGMLoop = bgmLoop
			}
			if cmd.Flags().Changed("subtitles") {
				input.SubtitlesEnabled = subtitles
			}
			if cmd.Flags().Changed("trim-frames") {
				input.TrimFrames = trimFrames
			}
			if cmd.Flags().Changed("no-dedupe") {
				input.Dedupe = !noDedupe
			}

			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskCreate(input)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d created for subject %s (%d units)\n",
					resp.Task.ID, resp.Task.SubjectID, resp.Task.UnitCount)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&bgmKey, "bgm", "", "Background music object key")
	cmd.Flags().Float64Var(&bgmVolume, "bgm-volume", 0, "Background music volume (0, 1]")
	cmd.Flags().BoolVar(&bgmLoop, "bgm-loop", false, "Loop background music to cover the video")
	cmd.Flags().BoolVar(&subtitles, "subtitles", false, "Burn narration text as subtitles")
	cmd.Flags().IntVar(&trimFrames, "trim-frames", 0, "Frames to trim from each clip head after the first")
	cmd.Flags().BoolVar(&noDedupe, "no-dedupe", false, "Disable boundary frame deduplication")

	return cmd
}

func newTaskListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskList(statuses)
				if err != nil {
					return err
				}
				if asJSON {
					encoder := json.NewEncoder(cmd.OutOrStdout())
					encoder.SetIndent("", "  ")
					return encoder.Encode(resp.Tasks)
				}
				if len(resp.Tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No tasks found")
					return nil
				}
				rows := make([][]string, 0, len(resp.Tasks))
				for _, t := range resp.Tasks {
					rows = append(rows, []string{
						strconv.FormatInt(t.ID, 10),
						t.SubjectID,
						statusLabel(t.Status),
						progressCell(t),
						t.UpdatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Subject", "Status", "Progress", "Updated"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft}))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the task list as JSON")
	return cmd
}

func newTaskShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one task in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskDescribe(id)
				if err != nil {
					return err
				}
				t := resp.Task
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Task:      %d\n", t.ID)
				fmt.Fprintf(stdout, "Subject:   %s\n", t.SubjectID)
				if t.Title != "" {
					fmt.Fprintf(stdout, "Title:     %s\n", t.Title)
				}
				fmt.Fprintf(stdout, "Status:    %s\n", statusLabel(t.Status))
				fmt.Fprintf(stdout, "Units:     %d (%d cached)\n", t.UnitCount, t.CachedUnits)
				if t.ProgressStage != "" {
					fmt.Fprintf(stdout, "Progress:  %s\n", progressCell(t))
				}
				if t.ErrorMessage != "" {
					fmt.Fprintf(stdout, "Error:     %s\n", t.ErrorMessage)
				}
				if t.FinalRemoteKey != "" {
					fmt.Fprintf(stdout, "Final:     %s (%.1fs)\n", t.FinalRemoteKey, t.FinalDuration)
				}
				if t.RetryCount > 0 {
					fmt.Fprintf(stdout, "Retries:   %d\n", t.RetryCount)
				}
				fmt.Fprintf(stdout, "Created:   %s\n", t.CreatedAt.Local().Format(time.DateTime))
				fmt.Fprintf(stdout, "Updated:   %s\n", t.UpdatedAt.Local().Format(time.DateTime))
				return nil
			})
		},
	}
}

func newTaskRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed task, reusing cached unit clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.TaskRetry(id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d requeued (attempt %d)\n",
					resp.Task.ID, resp.Task.RetryCount+1)
				return nil
			})
		},
	}
}

func newTaskStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a queued or in-flight task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.TaskStop(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d stopped\n", id)
				return nil
			})
		},
	}
}

func newTaskRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete a completed or failed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.TaskRemove(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d removed\n", id)
				return nil
			})
		},
	}
}

func parseTaskID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func statusLabel(status string) string {
	return statusTitler.String(strings.ReplaceAll(status, "_", " "))
}

func progressCell(t api.TaskView) string {
	if t.ProgressStage == "" {
		return ""
	}
	cell := statusLabel(t.ProgressStage)
	if t.ProgressPercent > 0 {
		cell = fmt.Sprintf("%s %.0f%%", cell, t.ProgressPercent)
	}
	if t.ProgressMessage != "" {
		cell = cell + " " + t.ProgressMessage
	}
	return cell
}
