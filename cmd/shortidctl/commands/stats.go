package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// StatsReport is the stats command output, one count per map.
type StatsReport struct {
	Backend string         `yaml:"backend"`
	Path    string         `yaml:"path"`
	Maps    map[string]int `yaml:"maps"`
	Total   int            `yaml:"total"`
}

// StatsCommand holds configuration for the stats command.
type StatsCommand struct {
	format string
}

// NewStatsCommand creates the stats command.
func NewStatsCommand() *cobra.Command {
	sc := &StatsCommand{}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per map entry counts",
		Args:  cobra.NoArgs,
		RunE:  sc.run,
	}

	cmd.Flags().StringVar(&sc.format, "format", "text", "Output format: text, yaml")

	return cmd
}

func (sc *StatsCommand) run(cmd *cobra.Command, _ []string) error {
	h, err := openBackend(cmd, false)
	if err != nil {
		return err
	}
	defer h.close()

	ctx := cmd.Context()
	report := StatsReport{
		Backend: h.cfg.Store.Backend,
		Path:    h.cfg.Store.Path,
		Maps:    map[string]int{},
	}

	for _, name := range allMapNames() {
		m, err := h.db.Map(name)
		if err != nil {
			return err
		}
		n := 0
		err = m.Range(ctx, func(_, _ []byte) error {
			n++
			return nil
		})
		if err != nil {
			return fmt.Errorf("count %s: %w", name, err)
		}
		report.Maps[name] = n
		report.Total += n
	}

	return sc.write(cmd.OutOrStdout(), report)
}

func (sc *StatsCommand) write(w io.Writer, report StatsReport) error {
	switch sc.format {
	case "yaml":
		data, err := yaml.Marshal(report)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "text":
		for _, name := range allMapNames() {
			fmt.Fprintf(w, "%-26s %d\n", name, report.Maps[name])
		}
		fmt.Fprintf(w, "%-26s %d\n", "total", report.Total)
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, sc.format)
	}
}
