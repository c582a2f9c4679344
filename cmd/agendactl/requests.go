package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	var userFlag string

	sendCmd := &cobra.Command{
		Use:   "send TEXT...",
		Short: "Send a natural-language request for a user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if userFlag == "" {
				return fmt.Errorf("--user required")
			}
			payload := map[string]interface{}{"text": strings.Join(args, " ")}
			data, err := doPostJSON(fmt.Sprintf("/api/users/%s/requests", userFlag), payload)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	sendCmd.Flags().StringVarP(&userFlag, "user", "u", "", "User ID (required)")
	_ = sendCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(sendCmd)

	var auditUser string
	var auditLimit int
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit entries for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if auditUser == "" {
				return fmt.Errorf("--user required")
			}
			data, err := doGet(fmt.Sprintf("/api/users/%s/audit?limit=%d", auditUser, auditLimit))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	auditCmd.Flags().StringVarP(&auditUser, "user", "u", "", "User ID (required)")
	auditCmd.Flags().IntVarP(&auditLimit, "limit", "l", 50, "Max entries")
	_ = auditCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(auditCmd)
}
