package deps

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefence/codefence/internal/infrastructure/logging"
)

func writeBundle(t *testing.T, dir, name, source string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(source), 0o644))
}

func writeCompressedBundle(t *testing.T, dir, name, source string) {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(source))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644))
}

func testResolver(t *testing.T, dir string) *Resolver {
	t.Helper()
	store, err := NewStore(dir)
	require.NoError(t, err)
	return NewResolver(Builtin(), store, logging.NewNop())
}

func TestResolveKnownAliases(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "d3.v7.min.js", "window.d3 = { version: '7' };")
	writeBundle(t, dir, "lodash.min.js", "window._ = { chunk: function(){} };")

	r := testResolver(t, dir)
	bundles, err := r.Resolve(context.Background(), []string{"lodash", "d3"})
	require.NoError(t, err)

	require.Len(t, bundles, 2)
	assert.Equal(t, "lodash", bundles[0].Alias, "request order preserved")
	assert.Equal(t, "d3", bundles[1].Alias)
	assert.Contains(t, bundles[1].Source, "version: '7'")
}

func TestUnknownAliasDroppedNotFatal(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "d3.v7.min.js", "window.d3 = {};")

	r := testResolver(t, dir)
	bundles, err := r.Resolve(context.Background(), []string{"nonexistent", "d3"})
	require.NoError(t, err)

	require.Len(t, bundles, 1)
	assert.Equal(t, "d3", bundles[0].Alias)
}

func TestKnownAliasLoadFailureIsAllOrNothing(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "d3.v7.min.js", "window.d3 = {};")
	// chart is in the registry but its bundle file is absent.

	r := testResolver(t, dir)
	bundles, err := r.Resolve(context.Background(), []string{"d3", "chart"})

	assert.ErrorIs(t, err, ErrBundleLoad)
	assert.Nil(t, bundles, "partial dependency sets must not be injected")
}

func TestSynonymResolution(t *testing.T) {
	dir := t.TempDir()
	writeBundle(t, dir, "chart.umd.min.js", "window.Chart = function(){};")

	r := testResolver(t, dir)
	bundles, err := r.Resolve(context.Background(), []string{"chart.js"})
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Equal(t, "chart", bundles[0].Alias)
}

func TestCompressedBundles(t *testing.T) {
	dir := t.TempDir()
	writeCompressedBundle(t, dir, "three.min.js.gz", "window.THREE = { Scene: function(){} };")

	r := testResolver(t, dir)
	bundles, err := r.Resolve(context.Background(), []string{"three"})
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.Contains(t, bundles[0].Source, "THREE")
}

func TestStoreIndexesNestedDirs(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "vendor", "v7")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeBundle(t, sub, "d3.v7.min.js", "window.d3 = {};")

	store, err := NewStore(dir)
	require.NoError(t, err)
	assert.True(t, store.Has("d3.v7.min.js"))
}

func TestStoreRejectsBinaryContent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "evil.js"), []byte{0x7f, 'E', 'L', 'F', 0, 1, 2, 3}, 0o644))

	store, err := NewStore(dir)
	require.NoError(t, err)
	_, err = store.Load("evil.js")
	assert.Error(t, err)
}

func TestApplyManifest(t *testing.T) {
	reg := Builtin()
	manifest := []byte(`
bundles:
  - alias: sparkline
    file: sparkline.js
    globals: [sparkline]
    description: tiny inline charts
  - alias: d3
    file: d3.v8.min.js
    globals: [d3]
`)
	require.NoError(t, reg.ApplyManifest(manifest))

	added, ok := reg.Lookup("sparkline")
	require.True(t, ok)
	assert.Equal(t, "sparkline.js", added.File)

	overridden, ok := reg.Lookup("d3")
	require.True(t, ok)
	assert.Equal(t, "d3.v8.min.js", overridden.File)
}

func TestManifestRejectsIncompleteEntries(t *testing.T) {
	reg := Builtin()
	err := reg.ApplyManifest([]byte("bundles:\n  - alias: broken\n"))
	assert.Error(t, err)
}
