package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openbex/openbex/pkg/providers"
)

func newProvidersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List registered cloud providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			silenceUsage(cmd)
			for _, name := range providers.List() {
				fmt.Println(name)
			}
			return nil
		},
	}
	return cmd
}
