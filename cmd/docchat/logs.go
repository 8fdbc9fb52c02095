package main

import (
	"encoding/json"
	"fmt"
	"io"

	"docchat/internal/config"
	"docchat/internal/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var (
		file  string
		level string
		lines int
		raw   bool
	)

	cmd := &cobra.Command{
		Use:   "logs [id]",
		Short: "View log entries",
		Long:  "Prints the newest entries of a docchat log file, optionally filtered by level. With an id, prints that one entry in full.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = config.Load().Client.LogFilePath
			}
			reader := logger.NewIsolatedLogger(file)
			if len(args) == 1 {
				return showLog(cmd.OutOrStdout(), reader, args[0])
			}
			return listLogs(cmd.OutOrStdout(), reader, level, lines, raw)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "log file to read (default from CHAT_LOG_FILE_PATH)")
	cmd.Flags().StringVarP(&level, "level", "l", "", "only show this level (DEBUG, INFO, WARN, ERROR)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of recent entries to show")
	cmd.Flags().BoolVar(&raw, "raw", false, "include details")
	return cmd
}

func listLogs(out io.Writer, reader logger.LogReader, level string, lines int, raw bool) error {
	entries, err := reader.GetLogs(level, lines, 0)
	if err != nil {
		return fmt.Errorf("read logs: %w", err)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No log entries.")
		return nil
	}

	// Oldest first, like a tail.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(out, "%s %s ", e.Timestamp, levelColor(e.Level).Sprintf("%-5s", e.Level))
		if e.Module != "" {
			fmt.Fprintf(out, "[%s] ", e.Module)
		}
		fmt.Fprint(out, e.Message)
		color.New(color.FgHiBlack).Fprintf(out, "  %s", e.Id)
		fmt.Fprintln(out)
		if raw && len(e.Details) > 0 {
			details, _ := json.Marshal(e.Details)
			fmt.Fprintf(out, "    %s\n", details)
		}
	}
	return nil
}

func showLog(out io.Writer, reader logger.LogReader, id string) error {
	entry, err := reader.GetLogById(id)
	if err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(pretty))
	return nil
}

func levelColor(level string) *color.Color {
	switch level {
	case "ERROR":
		return color.New(color.FgRed)
	case "WARN":
		return color.New(color.FgYellow)
	case "DEBUG":
		return color.New(color.FgHiBlack)
	}
	return color.New(color.FgCyan)
}
