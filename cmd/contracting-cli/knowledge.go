package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/consistency"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/registry"
	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/vectorstore"
)

func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the retrieval knowledge base",
	}

	var source, phase, purpose string
	upload := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a document into the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			if source == "" {
				base := filepath.Base(args[0])
				source = strings.TrimSuffix(base, filepath.Ext(base))
			}

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
			sp.Suffix = " embedding and indexing"
			sp.Start()
			var result vectorstore.IngestResult
			err = newClient().post("/api/knowledge", map[string]interface{}{
				"source":            source,
				"content":           string(data),
				"original_filename": filepath.Base(args[0]),
				"phase":             phase,
				"purpose":           purpose,
			}, &result)
			sp.Stop()
			if err != nil {
				return err
			}
			color.Green("Indexed %s as %d chunks", result.Source, result.ChunksAdded)
			return nil
		},
	}
	upload.Flags().StringVar(&source, "source", "", "Source label (defaults to the file name)")
	upload.Flags().StringVar(&phase, "phase", "", "Phase this material applies to")
	upload.Flags().StringVar(&purpose, "purpose", "", "Why this material was uploaded")

	remove := &cobra.Command{
		Use:   "remove <source>",
		Short: "Remove a source from the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result vectorstore.DeleteResult
			if err := newClient().delete("/api/knowledge/"+args[0], &result); err != nil {
				return err
			}
			color.Yellow("Removed %d chunks, %d remaining", result.Deleted, result.Remaining)
			return nil
		},
	}

	cmd.AddCommand(upload, remove)
	return cmd
}

func newLineageCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "lineage <program>",
		Short: "Export a program's generation lineage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var export registry.Export
			if err := newClient().get("/api/programs/"+args[0]+"/lineage", &export); err != nil {
				return err
			}
			if out == "" {
				return printJSON(export)
			}
			data, err := newClient().rawGet("/api/programs/" + args[0] + "/lineage")
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			color.Green("Wrote %d edges to %s", export.EdgeCount, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write the export to a file instead of stdout")
	return cmd
}

func newConsistencyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "consistency <program> <doc-type-a> <doc-type-b>",
		Short: "Compare scalar facts across two generated documents",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var report consistency.Report
			path := fmt.Sprintf("/api/programs/%s/consistency?doc_a=%s&doc_b=%s", args[0], args[1], args[2])
			if err := newClient().get(path, &report); err != nil {
				return err
			}

			grade := color.GreenString(report.Grade)
			if report.Grade >= "D" {
				grade = color.RedString(report.Grade)
			} else if report.Grade >= "B" {
				grade = color.YellowString(report.Grade)
			}
			fmt.Printf("Grade %s (%.0f%% consistent)\n", grade, report.PassRatio*100)

			for _, f := range report.Fields {
				switch f.Status {
				case consistency.StatusPass:
					color.Green("  PASS %s", f.Field)
				case consistency.StatusFail:
					color.Red("  FAIL %s: %s", f.Field, f.Detail)
				default:
					color.Yellow("  MISSING %s: %s", f.Field, f.Detail)
				}
			}
			return nil
		},
	}
	return cmd
}
