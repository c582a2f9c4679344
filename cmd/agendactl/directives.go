package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	directivesCmd := &cobra.Command{Use: "directives", Short: "Directive ledger operations"}

	var content, rationale string
	proposeCmd := &cobra.Command{
		Use:   "propose PROCEDURE",
		Short: "Propose a new procedure version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if content == "" {
				return fmt.Errorf("--content required")
			}
			payload := map[string]interface{}{"content": content}
			if rationale != "" {
				payload["rationale"] = rationale
			}
			data, err := doPostJSON(fmt.Sprintf("/api/directives/%s/versions", args[0]), payload)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	proposeCmd.Flags().StringVarP(&content, "content", "c", "", "Procedure content (required)")
	proposeCmd.Flags().StringVarP(&rationale, "rationale", "r", "", "Why this version is needed")
	_ = proposeCmd.MarkFlagRequired("content")
	directivesCmd.AddCommand(proposeCmd)

	var approvedBy string
	approveCmd := &cobra.Command{
		Use:   "approve PROCEDURE VERSION",
		Short: "Approve a proposed version as active",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approvedBy == "" {
				return fmt.Errorf("--by required")
			}
			data, err := doPostJSON(
				fmt.Sprintf("/api/directives/%s/versions/%s/approve", args[0], args[1]),
				map[string]interface{}{"approvedBy": approvedBy})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	approveCmd.Flags().StringVarP(&approvedBy, "by", "b", "", "Approver identity (required)")
	_ = approveCmd.MarkFlagRequired("by")
	directivesCmd.AddCommand(approveCmd)

	listCmd := &cobra.Command{
		Use:   "list PROCEDURE",
		Short: "List all versions of a procedure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("/api/directives/%s/versions", args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	directivesCmd.AddCommand(listCmd)

	activeCmd := &cobra.Command{
		Use:   "active PROCEDURE",
		Short: "Show the active version of a procedure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("/api/directives/%s/active", args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	directivesCmd.AddCommand(activeCmd)

	rootCmd.AddCommand(directivesCmd)
}
