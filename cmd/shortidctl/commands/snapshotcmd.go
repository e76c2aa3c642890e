package commands

import (
	"fmt"
	"os"

	"github.com/datatrails/go-datatrails-common/azblob"
	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/spf13/cobra"

	"github.com/parlorchat/go-parlor-shortid/snapshot"
)

// NewSnapshotCommand creates the snapshot command group.
func NewSnapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture, restore and list store snapshots",
	}

	cmd.AddCommand(newSnapshotWriteCommand())
	cmd.AddCommand(newSnapshotRestoreCommand())
	cmd.AddCommand(newSnapshotListCommand())

	return cmd
}

// openBlobStore connects to the development storage account named by the
// environment, the same account azurite serves.
func openBlobStore(log logger.Logger, cfg *Config, container string) (*snapshot.BlobStore, error) {
	storer, err := azblob.NewDev(azblob.NewDevConfigFromEnv(), container)
	if err != nil {
		return nil, fmt.Errorf("connect to blob store: %w", err)
	}

	var opts []snapshot.BlobStoreOption
	if cfg.Azure.Prefix != "" {
		opts = append(opts, snapshot.WithBlobPrefix(cfg.Azure.Prefix))
	}
	return snapshot.NewBlobStore(log, storer, opts...)
}

// resolveContainer prefers the flag over the configured container.
func resolveContainer(flagContainer string, cfg *Config) string {
	if flagContainer != "" {
		return flagContainer
	}
	return cfg.Azure.Container
}

type snapshotWriteCommand struct {
	out       string
	container string
	name      string
	replace   bool
}

func newSnapshotWriteCommand() *cobra.Command {
	sc := &snapshotWriteCommand{}

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Capture the store into a snapshot file or blob",
		Args:  cobra.NoArgs,
		RunE:  sc.run,
	}

	cmd.Flags().StringVarP(&sc.out, "out", "o", "", "snapshot file to write")
	cmd.Flags().StringVar(&sc.container, "container", "", "azure container to upload to instead of a file")
	cmd.Flags().StringVar(&sc.name, "name", "", "snapshot name in the container")
	cmd.Flags().BoolVar(&sc.replace, "replace", false, "replace an existing snapshot blob")

	return cmd
}

func (sc *snapshotWriteCommand) run(cmd *cobra.Command, _ []string) error {
	h, err := openBackend(cmd, false)
	if err != nil {
		return err
	}
	defer h.close()

	ctx := cmd.Context()

	if sc.out != "" {
		f, err := os.Create(sc.out)
		if err != nil {
			return fmt.Errorf("create snapshot file: %w", err)
		}
		if err = snapshot.Write(ctx, h.db, f); err != nil {
			f.Close()
			return err
		}
		if err = f.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", sc.out)
		return nil
	}

	container := resolveContainer(sc.container, h.cfg)
	if container == "" {
		return fmt.Errorf("%w: pass --out or --container", ErrNoTarget)
	}
	if sc.name == "" {
		return fmt.Errorf("%w: pass --name", ErrNoName)
	}

	snap, err := snapshot.Capture(ctx, h.db, snapshot.DefaultMapNames())
	if err != nil {
		return err
	}

	bs, err := openBlobStore(h.log, h.cfg, container)
	if err != nil {
		return err
	}

	var opts []snapshot.UploadOption
	if sc.replace {
		opts = append(opts, snapshot.WithReplace())
	}
	if err = bs.Upload(ctx, sc.name, snap, opts...); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s to %s\n", sc.name, container)
	return nil
}

type snapshotRestoreCommand struct {
	in        string
	container string
	name      string
	force     bool
}

func newSnapshotRestoreCommand() *cobra.Command {
	sc := &snapshotRestoreCommand{}

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Load a snapshot file or blob into the store",
		Long: `restore refuses a target store that already has entries in any of the
snapshot's maps unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: sc.run,
	}

	cmd.Flags().StringVarP(&sc.in, "in", "i", "", "snapshot file to read")
	cmd.Flags().StringVar(&sc.container, "container", "", "azure container to download from instead of a file")
	cmd.Flags().StringVar(&sc.name, "name", "", "snapshot name in the container")
	cmd.Flags().BoolVar(&sc.force, "force", false, "restore into a non empty store")

	return cmd
}

func (sc *snapshotRestoreCommand) run(cmd *cobra.Command, _ []string) error {
	// Bulk load: the ledger backend skips per insert fsync for the restore.
	h, err := openBackend(cmd, true)
	if err != nil {
		return err
	}
	defer h.close()

	ctx := cmd.Context()

	var snap *snapshot.Snapshot
	if sc.in != "" {
		f, err := os.Open(sc.in)
		if err != nil {
			return fmt.Errorf("open snapshot file: %w", err)
		}
		snap, err = snapshot.Read(f)
		f.Close()
		if err != nil {
			return err
		}
	} else {
		container := resolveContainer(sc.container, h.cfg)
		if container == "" {
			return fmt.Errorf("%w: pass --in or --container", ErrNoTarget)
		}
		if sc.name == "" {
			return fmt.Errorf("%w: pass --name", ErrNoName)
		}
		bs, err := openBlobStore(h.log, h.cfg, container)
		if err != nil {
			return err
		}
		snap, err = bs.Download(ctx, sc.name)
		if err != nil {
			return err
		}
	}

	var opts []snapshot.RestoreOption
	if sc.force {
		opts = append(opts, snapshot.WithForce())
	}
	if err = snap.RestoreTo(ctx, h.db, opts...); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "restored %d entries across %d maps\n",
		snap.EntryCount(), len(snap.Maps))
	return nil
}

type snapshotListCommand struct {
	container string
}

func newSnapshotListCommand() *cobra.Command {
	sc := &snapshotListCommand{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the snapshots in a container",
		Args:  cobra.NoArgs,
		RunE:  sc.run,
	}

	cmd.Flags().StringVar(&sc.container, "container", "", "azure container to list")

	return cmd
}

func (sc *snapshotListCommand) run(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	container := resolveContainer(sc.container, cfg)
	if container == "" {
		return fmt.Errorf("%w: pass --container", ErrNoTarget)
	}

	logger.New(cfg.Logging.Level)
	log := logger.Sugar.WithServiceName(serviceName)

	bs, err := openBlobStore(log, cfg, container)
	if err != nil {
		return err
	}

	names, err := bs.List(cmd.Context())
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, name := range names {
		fmt.Fprintln(w, name)
	}
	return nil
}
