package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parlorchat/go-parlor-shortid/counter"
)

// NewNextCountCommand creates the next-count command.
func NewNextCountCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "next-count",
		Short: "Mint and print the next counter value",
		Long: `next-count consumes one value from the stored counter. A minted value is
never reused, even when nothing interns it.`,
		Args: cobra.NoArgs,
		RunE: runNextCount,
	}
}

func runNextCount(cmd *cobra.Command, _ []string) error {
	h, err := openBackend(cmd, false)
	if err != nil {
		return err
	}
	defer h.close()

	cnt, err := counter.NewStored(h.log, h.db)
	if err != nil {
		return err
	}
	next, err := cnt.NextCount(cmd.Context())
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), next)
	return err
}
