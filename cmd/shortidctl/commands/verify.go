package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/parlorchat/go-parlor-shortid/shortid"
)

// VerifyCommand holds configuration for the verify command.
type VerifyCommand struct {
	maxViolations int
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand() *cobra.Command {
	vc := &VerifyCommand{}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Cross check forward maps, reverse maps and the counter",
		Long: `verify walks every map and reports entries whose partner map disagrees,
values of the wrong width, and a stored counter behind the allocated ids.
It exits nonzero when any violation is found.`,
		Args: cobra.NoArgs,
		RunE: vc.run,
	}

	cmd.Flags().IntVar(&vc.maxViolations, "max-violations",
		shortid.DefaultVerifyMaxViolations, "stop after this many violations")

	return cmd
}

func (vc *VerifyCommand) run(cmd *cobra.Command, _ []string) error {
	h, err := openBackend(cmd, false)
	if err != nil {
		return err
	}
	defer h.close()

	rep, err := shortid.Verify(cmd.Context(), h.db,
		shortid.WithVerifyMaxViolations(vc.maxViolations))
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, name := range allMapNames() {
		if n, ok := rep.Checked[name]; ok {
			fmt.Fprintf(w, "%-26s %d checked\n", name, n)
		}
	}

	if rep.Clean() {
		fmt.Fprintln(w, "ok")
		return nil
	}

	for _, v := range rep.Violations {
		fmt.Fprintf(w, "violation %s key=%x: %s\n", v.Map, v.Key, v.Reason)
	}
	if rep.Truncated {
		fmt.Fprintln(w, "further violations truncated")
	}
	return fmt.Errorf("%w: %d violations", ErrVerifyFailed, len(rep.Violations))
}
