package commands

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/parlorchat/go-parlor-shortid/snapshot"
)

func TestSnapshotFileRoundTripAcrossBackends(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.db")
	seedStore(t, BackendSQLite, srcPath)
	snapPath := filepath.Join(dir, "store.snapshot")

	out, err := runCommand(t, "snapshot", "write",
		"--backend", BackendSQLite, "--path", srcPath, "--out", snapPath)
	require.NoError(t, err)
	require.Contains(t, out, "wrote")

	// Restore the sqlite capture into a fresh ledger store.
	dstPath := filepath.Join(dir, "dst-ledger")
	out, err = runCommand(t, "snapshot", "restore",
		"--backend", BackendLedger, "--path", dstPath, "--in", snapPath)
	require.NoError(t, err)
	require.Contains(t, out, "restored 13 entries across 7 maps")

	// The restored store holds the same population and verifies clean.
	out, err = runCommand(t, "stats",
		"--backend", BackendLedger, "--path", dstPath, "--format", "yaml")
	require.NoError(t, err)
	var rep StatsReport
	require.NoError(t, yaml.Unmarshal([]byte(out), &rep))
	require.Equal(t, seededEntryCount, rep.Total)

	_, err = runCommand(t, "verify", "--backend", BackendLedger, "--path", dstPath)
	require.NoError(t, err)
}

func TestSnapshotRestoreRefusesNonEmpty(t *testing.T) {
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.db")
	seedStore(t, BackendSQLite, srcPath)
	snapPath := filepath.Join(dir, "store.snapshot")

	_, err := runCommand(t, "snapshot", "write",
		"--backend", BackendSQLite, "--path", srcPath, "--out", snapPath)
	require.NoError(t, err)

	_, err = runCommand(t, "snapshot", "restore",
		"--backend", BackendSQLite, "--path", srcPath, "--in", snapPath)
	require.ErrorIs(t, err, snapshot.ErrTargetNotEmpty)

	_, err = runCommand(t, "snapshot", "restore",
		"--backend", BackendSQLite, "--path", srcPath, "--in", snapPath, "--force")
	require.NoError(t, err)
}

func TestSnapshotWriteNeedsTarget(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "store.db")
	seedStore(t, BackendSQLite, dbPath)

	_, err := runCommand(t, "snapshot", "write",
		"--backend", BackendSQLite, "--path", dbPath)
	require.ErrorIs(t, err, ErrNoTarget)
}

func TestSnapshotBlobTargetNeedsName(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "store.db")
	seedStore(t, BackendSQLite, dbPath)

	_, err := runCommand(t, "snapshot", "write",
		"--backend", BackendSQLite, "--path", dbPath, "--container", "snapshots")
	require.ErrorIs(t, err, ErrNoName)
}

func TestSnapshotRestoreMissingFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "store.db")

	_, err := runCommand(t, "snapshot", "restore",
		"--backend", BackendSQLite, "--path", dbPath,
		"--in", filepath.Join(dir, "absent.snapshot"))
	require.Error(t, err)
}
