package cmd

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/mtnfog/entitydb/internal/build"
)

// NewVersionCommand returns the command to get the entitydb version.
func NewVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Return the EntityDB version",
		Long:  "Return the EntityDB version.",
		RunE:  version,
		Args:  cobra.NoArgs,
	}

	return cmd
}

func version(_ *cobra.Command, _ []string) error {
	log.Printf("EntityDB Version %s Date %s commit id %s ", build.Version, build.Date, build.Commit)
	return nil
}
