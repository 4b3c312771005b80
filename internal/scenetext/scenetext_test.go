package scenetext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/basho/internal/models"
)

func newDirectory(t *testing.T) *Directory {
	t.Helper()
	d, err := NewDirectory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, d.Add(models.SceneMetadata{SceneID: "bridge", Title: "Palace Bridge", Description: "Drawbridge over the Neva river"}))
	require.NoError(t, d.Add(models.SceneMetadata{SceneID: "cathedral", Title: "Kazan Cathedral", Description: "Colonnade facing Nevsky prospect"}))
	require.NoError(t, d.Add(models.SceneMetadata{SceneID: "embankment", Title: "Neva embankment", Description: "Granite river walls"}))
	return d
}

func ids(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.SceneID
	}
	return out
}

func TestSearch(t *testing.T) {
	d := newDirectory(t)

	hits, err := d.Search("cathedral", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"cathedral"}, ids(hits))

	hits, err = d.Search("neva", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "embankment", hits[0].SceneID, "title matches rank above description matches")

	hits, err = d.Search("cathedal", 10)
	require.NoError(t, err)
	assert.Contains(t, ids(hits), "cathedral", "one typo is tolerated")

	hits, err = d.Search("neva", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearch_emptyQuery(t *testing.T) {
	d := newDirectory(t)
	hits, err := d.Search("   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestReset(t *testing.T) {
	d := newDirectory(t)
	n, err := d.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	require.NoError(t, d.Reset())
	n, err = d.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	hits, err := d.Search("bridge", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAdd_replaces(t *testing.T) {
	d := newDirectory(t)
	require.NoError(t, d.Add(models.SceneMetadata{SceneID: "bridge", Title: "Trinity Bridge"}))
	n, err := d.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	hits, err := d.Search("trinity", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"bridge"}, ids(hits))
}
