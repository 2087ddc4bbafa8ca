package list

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daemon13/rsyslog/internal/output"
)

// NewProfilesCmd creates and returns the profiles command
func NewProfilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List available AWS profiles",
		Long: `List all available AWS credential profiles from the system.
These profiles are read from the AWS credentials and config files and can
be used by the cloudwatch output target.`,
		Example: `  # List all available AWS profiles
  rsyslogd list profiles`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfiles()
		},
	}

	return cmd
}

func runProfiles() error {
	profiles, anyFile, err := output.Profiles()
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}
	if !anyFile {
		fmt.Println("no AWS shared config found; credentials resolve from the environment")
		return nil
	}

	for _, profile := range profiles {
		fmt.Println(profile)
	}

	return nil
}
