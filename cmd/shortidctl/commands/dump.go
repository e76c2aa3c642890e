package commands

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/parlorchat/go-parlor-shortid/counter"
	"github.com/parlorchat/go-parlor-shortid/shortid"
)

// DumpCommand holds configuration for the dump command.
type DumpCommand struct {
	mapName string
}

// NewDumpCommand creates the dump command.
func NewDumpCommand() *cobra.Command {
	dc := &DumpCommand{}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "List every entry of one map in key order",
		Long: `dump prints one line per entry, in byte order of the stored keys.
Identifiers and state keys are quoted, short ids are decimal, state hashes
are hex.`,
		Args: cobra.NoArgs,
		RunE: dc.run,
	}

	cmd.Flags().StringVarP(&dc.mapName, "map", "m", "",
		"map to dump, one of: "+strings.Join(allMapNames(), ", "))
	_ = cmd.MarkFlagRequired("map")

	return cmd
}

func (dc *DumpCommand) run(cmd *cobra.Command, _ []string) error {
	line, err := lineFormatter(dc.mapName)
	if err != nil {
		return err
	}

	h, err := openBackend(cmd, false)
	if err != nil {
		return err
	}
	defer h.close()

	m, err := h.db.Map(dc.mapName)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	return m.Range(cmd.Context(), func(key, value []byte) error {
		s, err := line(key, value)
		if err != nil {
			return fmt.Errorf("%s key %x: %w", dc.mapName, key, err)
		}
		_, err = fmt.Fprintln(w, s)
		return err
	})
}

// lineFormatter picks the rendering for one map's entries.
func lineFormatter(name string) (func(key, value []byte) (string, error), error) {
	switch name {
	case shortid.MapEventIDToShort, shortid.MapRoomIDToShort:
		return textToShort, nil
	case shortid.MapShortToEventID:
		return shortToText, nil
	case shortid.MapStateKeyToShort:
		return stateKeyToShort, nil
	case shortid.MapShortToStateKey:
		return shortToStateKey, nil
	case shortid.MapStateHashToShort:
		return hashToShort, nil
	case counter.StoredCounterMap:
		return textToShort, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMap, name)
}

func textToShort(key, value []byte) (string, error) {
	short, err := shortid.ParseShortID(value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%q %d", key, short), nil
}

func shortToText(key, value []byte) (string, error) {
	short, err := shortid.ParseShortID(key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %q", short, value), nil
}

func stateKeyToShort(key, value []byte) (string, error) {
	eventType, stateKey, err := shortid.DecodeStateKey(key)
	if err != nil {
		return "", err
	}
	short, err := shortid.ParseShortID(value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%q %q %d", eventType, stateKey, short), nil
}

func shortToStateKey(key, value []byte) (string, error) {
	short, err := shortid.ParseShortID(key)
	if err != nil {
		return "", err
	}
	eventType, stateKey, err := shortid.DecodeStateKey(value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %q %q", short, eventType, stateKey), nil
}

func hashToShort(key, value []byte) (string, error) {
	short, err := shortid.ParseShortID(value)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s %d", hex.EncodeToString(key), short), nil
}
