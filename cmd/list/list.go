package list

import (
	"github.com/spf13/cobra"
)

// NewListCmd creates and returns the list command
func NewListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List daemon resources",
		Long: `List daemon resources and configurations.
Currently supports listing:
  - Available output targets
  - Available AWS credential profiles for the cloudwatch target`,
	}

	// Add subcommands
	cmd.AddCommand(NewOutputsCmd())
	cmd.AddCommand(NewProfilesCmd())

	return cmd
}
