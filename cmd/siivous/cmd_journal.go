package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/yairfalse/siivous/internal/config"
	"github.com/yairfalse/siivous/internal/journal"
)

// journalCmd represents the journal command
var journalCmd = &cobra.Command{
	Use:   "journal <file>",
	Short: "Print the entries of a sweep journal",
	Long: `Print every entry of a journal file written by a sweep, in the
order it was recorded.`,
	Example: `  siivous journal ./journal/siivous-20261018-101500-1a2b3c4d.jsonl`,
	Args: func(_ *cobra.Command, args []string) error {
		if len(args) != 1 {
			return &config.ConfigError{Field: "journal", Err: fmt.Errorf("expected one journal file, got %d", len(args))}
		}
		return nil
	},
	RunE: runJournal,
}

func init() {
	rootCmd.AddCommand(journalCmd)
}

func runJournal(cmd *cobra.Command, args []string) error {
	return printJournal(cmd.OutOrStdout(), args[0])
}

func printJournal(w io.Writer, path string) error {
	r, err := journal.NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	tw := table.Table{}
	tw.AppendHeader(table.Row{"Time", "Run", "Seq", "Type", "Resource", "Error"})
	n := 0
	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read %s entry %d: %w", path, n+1, err)
		}
		n++
		tw.AppendRow(table.Row{
			e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			e.RunID,
			e.Sequence,
			string(e.Type),
			e.ResourceID,
			e.Error,
		})
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d entries", n)})
	tw.SetStyle(table.StyleRounded)

	_, err = fmt.Fprintln(w, tw.Render())
	return err
}
