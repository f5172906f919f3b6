package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage applications",
}

var createAppCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create an application",
	Long: `Create an application in the current organization.

Example:
  hooklinectl app create billing --uid billing-prod`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		uid, _ := cmd.Flags().GetString("uid")

		app, err := getClient().createApplication(cmd.Context(), args[0], uid)
		if err != nil {
			return fmt.Errorf("failed to create application: %w", err)
		}

		if outputJSON {
			return printJSON(app)
		}
		fmt.Printf("Created application: %s\n", app.ID)
		fmt.Printf("  Name: %s\n", app.Name)
		return nil
	},
}

var getAppCmd = &cobra.Command{
	Use:   "get [app-id]",
	Short: "Show an application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := getClient().getApplication(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("failed to get application: %w", err)
		}

		if outputJSON {
			return printJSON(app)
		}
		fmt.Printf("%s  %s  created %s\n", app.ID, app.Name, app.CreatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(appCmd)
	appCmd.AddCommand(createAppCmd, getAppCmd)

	createAppCmd.Flags().String("uid", "", "optional application uid")
}
