package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/project"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(newProjectCreateCmd(), newProjectListCmd(), newProjectShowCmd())
	return cmd
}

func newProjectCreateCmd() *cobra.Command {
	var (
		description    string
		projectType    string
		contractType   string
		estimatedValue float64
		pop            string
	)
	cmd := &cobra.Command{
		Use:   "create <program-name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var created project.Project
			err := newClient().post("/api/projects", map[string]interface{}{
				"program_name":          args[0],
				"description":           description,
				"project_type":          projectType,
				"contract_type":         contractType,
				"estimated_value":       estimatedValue,
				"period_of_performance": pop,
			}, &created)
			if err != nil {
				return err
			}
			color.Green("Created project %s", created.ID)
			return printJSON(created)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "Project description")
	cmd.Flags().StringVar(&projectType, "type", "services", "Project type")
	cmd.Flags().StringVar(&contractType, "contract-type", "", "Contract type")
	cmd.Flags().Float64Var(&estimatedValue, "estimated-value", 0, "Estimated value in dollars")
	cmd.Flags().StringVar(&pop, "period-of-performance", "", "Period of performance")
	return cmd
}

func newProjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var projects []project.Project
			if err := newClient().get("/api/projects", &projects); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROGRAM\tPHASE\tCREATED")
			for _, p := range projects {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					p.ID, p.ProgramName, p.CurrentPhase, p.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func newProjectShowCmd() *cobra.Command {
	var withDocs bool
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p project.Project
			if err := newClient().get("/api/projects/"+args[0], &p); err != nil {
				return err
			}
			if err := printJSON(p); err != nil {
				return err
			}
			if !withDocs {
				return nil
			}
			var docs []project.Document
			if err := newClient().get("/api/projects/"+args[0]+"/documents", &docs); err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tNAME\tGENERATION\tAPPROVAL")
			for _, d := range docs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					d.DocumentType, d.DocumentName, statusColor(string(d.GenerationStatus)), d.ApprovalStatus)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&withDocs, "docs", false, "Also list documents")
	return cmd
}

func statusColor(status string) string {
	switch status {
	case "GENERATED", "completed":
		return color.GreenString(status)
	case "FAILED", "failed", "partial_failure":
		return color.RedString(status)
	case "running", "PENDING", "pending":
		return color.YellowString(status)
	default:
		return status
	}
}
