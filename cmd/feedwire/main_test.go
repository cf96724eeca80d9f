package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
	"github.com/ryandielhenn/feedwire/pkg/snapshot"
	"github.com/ryandielhenn/feedwire/pkg/state"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FEEDWIRE_ORIGIN", "http://localhost:3000")
	t.Setenv("FEEDWIRE_ETCD_ENDPOINTS", "")
	t.Setenv("FEEDWIRE_SNAPSHOT_DB", "")
	return dir
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "feedwire dev (unknown)\n", out)
}

func TestSnapshotShow(t *testing.T) {
	dir := isolate(t)
	db := filepath.Join(dir, "state.db")

	b, err := snapshot.OpenSQLite(db)
	require.NoError(t, err)
	st := state.Reduce(state.Initial(), state.FeedFetched{Result: protocol.FetchResult{
		Status: protocol.StatusOK,
		Feed:   protocol.Feed{Entries: []protocol.Post{{EntryID: "x", Title: "Hello"}}},
	}})
	require.NoError(t, snapshot.Save(context.Background(), b, snapshot.DefaultKey, st))
	require.NoError(t, b.Close())

	t.Setenv("FEEDWIRE_SNAPSHOT_DB", db)
	out, err := execute(t, "snapshot", "show", "--config", filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, `"title": "Hello"`)
}

func TestSnapshotShowEmpty(t *testing.T) {
	dir := isolate(t)
	t.Setenv("FEEDWIRE_SNAPSHOT_DB", filepath.Join(dir, "empty.db"))

	out, err := execute(t, "snapshot", "show", "--config", filepath.Join(dir, "absent.yaml"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "no snapshot stored"), out)
}

func TestEndpointsNeedRegistry(t *testing.T) {
	dir := isolate(t)
	_, err := execute(t, "endpoints", "list", "--config", filepath.Join(dir, "absent.yaml"))
	assert.ErrorContains(t, err, "no etcd endpoints configured")
}
