package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var messageCmd = &cobra.Command{
	Use:   "message",
	Short: "Publish messages and inspect their deliveries",
}

var sendMessageCmd = &cobra.Command{
	Use:   "send [app-id] [event-type]",
	Short: "Publish a message",
	Long: `Publish a message to every matching endpoint of an application.

Example:
  hooklinectl message send app_123 invoice.paid --payload '{"amount":100}' --channels eu`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		payload, _ := cmd.Flags().GetString("payload")
		if !json.Valid([]byte(payload)) {
			return fmt.Errorf("payload must be valid JSON")
		}

		body := map[string]any{
			"eventType": args[1],
			"payload":   json.RawMessage(payload),
		}
		if eventID, _ := cmd.Flags().GetString("event-id"); eventID != "" {
			body["eventId"] = eventID
		}
		if channels, _ := cmd.Flags().GetString("channels"); channels != "" {
			body["channels"] = splitList(channels)
		}

		msg, err := getClient().sendMessage(cmd.Context(), args[0], body)
		if err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}

		if outputJSON {
			return printJSON(msg)
		}
		fmt.Printf("Published message: %s\n", msg.ID)
		fmt.Printf("  Event type: %s\n", msg.EventType)
		return nil
	},
}

var getMessageCmd = &cobra.Command{
	Use:   "get [app-id] [msg-id]",
	Short: "Show a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		msg, err := getClient().getMessage(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to get message: %w", err)
		}
		return printJSON(msg)
	},
}

var attemptsCmd = &cobra.Command{
	Use:   "attempts [app-id] [msg-id]",
	Short: "List the delivery attempts of a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpointID, _ := cmd.Flags().GetString("endpoint")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		attempts, err := getClient().listAttempts(cmd.Context(), args[0], args[1], attemptQuery{
			endpointID: endpointID,
			status:     status,
			limit:      limit,
		})
		if err != nil {
			return fmt.Errorf("failed to list attempts: %w", err)
		}

		if outputJSON {
			return printJSON(attempts)
		}
		for _, a := range attempts {
			fmt.Printf("%s  %s  %-7s %-9s %d  %s\n",
				a.Timestamp.Format("2006-01-02 15:04:05"),
				a.EndpointID,
				a.Status,
				a.TriggerType,
				a.ResponseStatusCode,
				a.URL,
			)
		}
		return nil
	},
}

var resendCmd = &cobra.Command{
	Use:   "resend [app-id] [msg-id] [endpoint-id]",
	Short: "Resend a message to one endpoint",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getClient().resend(cmd.Context(), args[0], args[1], args[2]); err != nil {
			return fmt.Errorf("failed to resend message: %w", err)
		}
		fmt.Printf("Resend of %s to %s enqueued\n", args[1], args[2])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(messageCmd)
	messageCmd.AddCommand(sendMessageCmd, getMessageCmd, attemptsCmd, resendCmd)

	sendMessageCmd.Flags().String("payload", "{}", "JSON payload")
	sendMessageCmd.Flags().String("event-id", "", "idempotency id of the message")
	sendMessageCmd.Flags().String("channels", "", "comma separated channels")

	attemptsCmd.Flags().String("endpoint", "", "only attempts made to this endpoint")
	attemptsCmd.Flags().String("status", "", "only attempts with this status (success, fail)")
	attemptsCmd.Flags().Int("limit", 0, "maximum number of attempts, server default when zero")
}
