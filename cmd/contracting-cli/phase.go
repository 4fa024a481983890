package main

import (
	"fmt"
	"net/url"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alex0302mit/dod-contracting-ai-sub002/internal/phasegate"
)

func newPhaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Validate and move projects through phase gates",
	}
	cmd.AddCommand(
		newPhaseValidateCmd(),
		newPhaseRequestCmd(),
		newPhaseApproveCmd(),
		newPhaseRejectCmd(),
	)
	return cmd
}

func userFlags(cmd *cobra.Command, userID, userName, role *string) {
	cmd.Flags().StringVar(userID, "user", "", "Acting user ID")
	cmd.Flags().StringVar(userName, "user-name", "", "Acting user name")
	cmd.Flags().StringVar(role, "role", "contracting_officer", "Acting user role")
}

func newPhaseValidateCmd() *cobra.Command {
	var to, userID, userName, role string
	cmd := &cobra.Command{
		Use:   "validate <project-id>",
		Short: "Check readiness for the next phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if to != "" {
				q.Set("to", to)
			}
			q.Set("user_id", userID)
			q.Set("role", role)

			var report phasegate.Report
			path := "/api/projects/" + args[0] + "/phase-validation?" + q.Encode()
			if err := newClient().get(path, &report); err != nil {
				return err
			}

			if report.CanTransition {
				color.Green("Ready to transition")
			} else {
				color.Red("Not ready to transition")
			}
			for _, issue := range report.BlockingIssues {
				color.Red("  blocking: %s", issue)
			}
			for _, warning := range report.Warnings {
				color.Yellow("  warning: %s", warning)
			}
			for name, st := range report.DocumentStatus {
				mark := color.RedString("missing")
				if st.Exists {
					mark = st.Status
					if st.Approved {
						mark = color.GreenString(st.Status)
					}
				}
				fmt.Printf("  %s: %s\n", name, mark)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Target phase (defaults to the next phase)")
	userFlags(cmd, &userID, &userName, &role)
	return cmd
}

func newPhaseRequestCmd() *cobra.Command {
	var to, userID, userName, role string
	cmd := &cobra.Command{
		Use:   "request <project-id>",
		Short: "Request a phase transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req phasegate.TransitionRequest
			err := newClient().post("/api/projects/"+args[0]+"/phase-transitions", map[string]interface{}{
				"to":   to,
				"user": map[string]string{"id": userID, "name": userName, "role": role},
			}, &req)
			if err != nil {
				return err
			}
			color.Green("Transition request %s created", req.ID)
			return printJSON(req)
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "Target phase (defaults to the next phase)")
	userFlags(cmd, &userID, &userName, &role)
	return cmd
}

func newPhaseApproveCmd() *cobra.Command {
	var comments, userID, userName, role string
	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending transition request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var req phasegate.TransitionRequest
			err := newClient().post("/api/phase-transitions/"+args[0]+"/approve", map[string]interface{}{
				"user":     map[string]string{"id": userID, "name": userName, "role": role},
				"comments": comments,
			}, &req)
			if err != nil {
				return err
			}
			color.Green("Approved; project is now in %s", req.To)
			return nil
		},
	}
	cmd.Flags().StringVar(&comments, "comments", "", "Approval comments")
	userFlags(cmd, &userID, &userName, &role)
	return cmd
}

func newPhaseRejectCmd() *cobra.Command {
	var reason, userID, userName, role string
	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a pending transition request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}
			var req phasegate.TransitionRequest
			err := newClient().post("/api/phase-transitions/"+args[0]+"/reject", map[string]interface{}{
				"user":     map[string]string{"id": userID, "name": userName, "role": role},
				"comments": reason,
			}, &req)
			if err != nil {
				return err
			}
			color.Yellow("Request %s rejected", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Rejection reason")
	userFlags(cmd, &userID, &userName, &role)
	return cmd
}
