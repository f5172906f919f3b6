package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Manage webhook endpoints",
	Long:  `Create and manage the endpoints that receive message deliveries.`,
}

var createEndpointCmd = &cobra.Command{
	Use:   "create [app-id] [url]",
	Short: "Create an endpoint",
	Long: `Create an endpoint on an application.

Example:
  hooklinectl endpoint create app_123 https://example.com/webhook --filter-types invoice.paid --channels eu`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{"url": args[1]}
		if secret, _ := cmd.Flags().GetString("secret"); secret != "" {
			body["secret"] = secret
		}
		if types, _ := cmd.Flags().GetString("filter-types"); types != "" {
			body["filterTypes"] = splitList(types)
		}
		if channels, _ := cmd.Flags().GetString("channels"); channels != "" {
			body["channels"] = splitList(channels)
		}
		if cmd.Flags().Changed("rate-limit") {
			limit, _ := cmd.Flags().GetInt("rate-limit")
			body["rateLimit"] = limit
		}

		ep, err := getClient().createEndpoint(cmd.Context(), args[0], body)
		if err != nil {
			return fmt.Errorf("failed to create endpoint: %w", err)
		}

		if outputJSON {
			return printJSON(ep)
		}
		fmt.Printf("Created endpoint: %s\n", ep.ID)
		fmt.Printf("  URL: %s\n", ep.URL)
		return nil
	},
}

var listEndpointsCmd = &cobra.Command{
	Use:   "list [app-id]",
	Short: "List the endpoints of an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoints, err := getClient().listEndpoints(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to list endpoints: %w", err)
		}

		if outputJSON {
			return printJSON(endpoints)
		}
		for _, ep := range endpoints {
			state := "enabled"
			if ep.Disabled {
				state = "disabled"
			}
			fmt.Printf("%s  %s  %s", ep.ID, state, ep.URL)
			if len(ep.Channels) > 0 {
				fmt.Printf("  channels=%s", strings.Join(ep.Channels, ","))
			}
			fmt.Println()
		}
		return nil
	},
}

func toggleEndpointCmd(use string, disabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [app-id] [endpoint-id]",
		Short: strings.ToUpper(use[:1]) + use[1:] + " an endpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep, err := getClient().updateEndpoint(cmd.Context(), args[0], args[1], map[string]any{"disabled": disabled})
			if err != nil {
				return fmt.Errorf("failed to %s endpoint: %w", use, err)
			}

			if outputJSON {
				return printJSON(ep)
			}
			fmt.Printf("Endpoint %s %sd\n", ep.ID, use)
			return nil
		},
	}
}

var deleteEndpointCmd = &cobra.Command{
	Use:   "delete [app-id] [endpoint-id]",
	Short: "Delete an endpoint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := getClient().deleteEndpoint(cmd.Context(), args[0], args[1]); err != nil {
			return fmt.Errorf("failed to delete endpoint: %w", err)
		}
		fmt.Printf("Deleted endpoint: %s\n", args[1])
		return nil
	},
}

var secretEndpointCmd = &cobra.Command{
	Use:   "secret [app-id] [endpoint-id]",
	Short: "Print the signing secret of an endpoint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := getClient().endpointSecret(cmd.Context(), args[0], args[1])
		if err != nil {
			return fmt.Errorf("failed to get endpoint secret: %w", err)
		}
		fmt.Println(key)
		return nil
	},
}

var rotateSecretCmd = &cobra.Command{
	Use:   "rotate-secret [app-id] [endpoint-id]",
	Short: "Rotate the signing secret of an endpoint",
	Long: `Replace the signing secret. The previous secret keeps signing for 24 hours.

A new secret is generated unless --key is given.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, _ := cmd.Flags().GetString("key")
		if err := getClient().rotateSecret(cmd.Context(), args[0], args[1], key); err != nil {
			return fmt.Errorf("failed to rotate secret: %w", err)
		}
		fmt.Printf("Rotated secret of endpoint: %s\n", args[1])
		return nil
	},
}

var recoverEndpointCmd = &cobra.Command{
	Use:   "recover [app-id] [endpoint-id]",
	Short: "Resend every failed message of an endpoint",
	Long: `Enqueue a manual delivery for every failed message of the endpoint
created since the given time.

Example:
  hooklinectl endpoint recover app_123 ep_456 --since 24h`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceFlag, _ := cmd.Flags().GetString("since")
		since, err := parseSince(sinceFlag, time.Now())
		if err != nil {
			return err
		}

		n, err := getClient().recoverEndpoint(cmd.Context(), args[0], args[1], since)
		if err != nil {
			return fmt.Errorf("failed to recover endpoint: %w", err)
		}

		if outputJSON {
			return printJSON(map[string]int{"enqueued": n})
		}
		fmt.Printf("Enqueued %d failed messages since %s\n", n, since.Format(time.RFC3339))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(endpointCmd)
	endpointCmd.AddCommand(
		createEndpointCmd,
		listEndpointsCmd,
		toggleEndpointCmd("enable", false),
		toggleEndpointCmd("disable", true),
		deleteEndpointCmd,
		secretEndpointCmd,
		rotateSecretCmd,
		recoverEndpointCmd,
	)

	createEndpointCmd.Flags().String("secret", "", "signing secret (if not provided, one will be generated)")
	createEndpointCmd.Flags().String("filter-types", "", "comma separated event types to receive")
	createEndpointCmd.Flags().String("channels", "", "comma separated channels to receive")
	createEndpointCmd.Flags().Int("rate-limit", 0, "maximum deliveries per second")

	rotateSecretCmd.Flags().String("key", "", "new signing secret")

	recoverEndpointCmd.Flags().String("since", "24h", "RFC3339 time or duration to look back")
}
