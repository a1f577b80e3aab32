package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"doppel/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.ensureClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			running := "stopped"
			if status.Running {
				running = "running"
			}
			fmt.Printf("Daemon:    %s (pid %d)\n", running, status.PID)
			fmt.Printf("Database:  %s\n", status.DatabasePath)
			fmt.Printf("Lock file: %s\n", status.LockFilePath)

			if len(status.StatusCounts) == 0 {
				fmt.Println("Processes: none")
				return nil
			}
			names := make([]string, 0, len(status.StatusCounts))
			for name := range status.StatusCounts {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Println("Processes:")
			for _, name := range names {
				fmt.Printf("  %-18s %d\n", name, status.StatusCounts[name])
			}
			return nil
		},
	}
}

func newProcessesCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "processes",
		Short: "List workflow processes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.ensureClient()
			if err != nil {
				return err
			}
			processes, err := client.Processes(cmd.Context())
			if err != nil {
				return err
			}
			if len(processes) == 0 {
				fmt.Println("No processes.")
				return nil
			}

			rows := make([][]string, 0, len(processes))
			for _, proc := range processes {
				rows = append(rows, []string{
					shortID(proc.ID),
					strconv.FormatInt(proc.OwnerID, 10),
					proc.Status,
					fmt.Sprintf("%d/%d", proc.RetryCount, proc.MaxRetries),
					proc.UpdatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Println(renderTable(
				[]string{"ID", "OWNER", "STATUS", "RETRIES", "UPDATED"},
				rows,
			))
			return nil
		},
	}
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "process <id>",
		Short: "Show one process in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.ensureClient()
			if err != nil {
				return err
			}
			proc, err := client.Process(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printProcess(proc)
			return nil
		},
	}
}

func newCreateCommand(ctx *commandContext) *cobra.Command {
	var req api.CreateProcessRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a new digital twin process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := ctx.ensureClient()
			if err != nil {
				return err
			}
			proc, err := client.CreateProcess(cmd.Context(), req)
			if err != nil {
				return err
			}
			printProcess(proc)
			return nil
		},
	}
	cmd.Flags().Int64Var(&req.OwnerID, "owner", 0, "Owner chat id for notifications")
	cmd.Flags().StringVar(&req.PhotoRef, "photo", "", "Photo reference")
	cmd.Flags().StringVar(&req.AudioRef, "audio", "", "Audio sample reference")
	cmd.Flags().StringVar(&req.Script, "script", "", "Script the twin will read")
	cmd.Flags().StringVar(&req.Quality, "quality", "", "Video quality (720p or 1080p)")
	cmd.Flags().StringVar(&req.Orientation, "orientation", "", "Video orientation (portrait or landscape)")
	return cmd
}

func printProcess(proc *api.Process) {
	fmt.Printf("ID:          %s\n", proc.ID)
	fmt.Printf("Owner:       %d\n", proc.OwnerID)
	fmt.Printf("Status:      %s\n", proc.Status)
	fmt.Printf("Quality:     %s / %s\n", proc.Quality, proc.Orientation)
	fmt.Printf("Retries:     %d/%d\n", proc.RetryCount, proc.MaxRetries)
	if proc.AvatarID != "" {
		fmt.Printf("Avatar:      %s\n", proc.AvatarID)
	}
	if proc.VoiceID != "" {
		fmt.Printf("Voice:       %s\n", proc.VoiceID)
	}
	if proc.VideoID != "" {
		fmt.Printf("Video:       %s\n", proc.VideoID)
	}
	if proc.VideoURL != "" {
		fmt.Printf("Video URL:   %s\n", proc.VideoURL)
	}
	if proc.LastError != "" {
		fmt.Printf("Last error:  %s\n", proc.LastError)
	}
	fmt.Printf("Created:     %s\n", proc.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("Updated:     %s\n", proc.UpdatedAt.Local().Format(time.DateTime))
}

func shortID(id string) string {
	if idx := strings.IndexByte(id, '-'); idx > 0 {
		return id[:idx]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
