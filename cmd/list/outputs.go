package list

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/daemon13/rsyslog/internal/output"
)

// NewOutputsCmd creates and returns the outputs command
func NewOutputsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outputs",
		Short: "List available output targets",
		Example: `  # List the output targets the daemon can deliver to
  rsyslogd list outputs`,
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range output.Known() {
				fmt.Println(name)
			}
		},
	}

	return cmd
}
