package dispatch

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/core/registry"
	"github.com/quarrydb/quarry/internal/core/request"
	"github.com/quarrydb/quarry/internal/core/schema"
)

func artistsPayload() map[string]any {
	return map[string]any{
		"name": "artists",
		"schema": map[string]any{
			"name": map[string]any{"type": "string", "required": true},
		},
		"exposed": true,
	}
}

func TestMetaRequiresAuth(t *testing.T) {
	f := newFixture(t)

	rc := f.call(request.MethodGet, "collections", nil)
	assert.Equal(t, http.StatusUnauthorized, rc.StatusCode)

	rc = f.call(request.MethodGet, "collections", nil, asDev)
	assert.Equal(t, http.StatusOK, rc.StatusCode)
}

func TestMetaList(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, albumsPayload())

	rc := f.call(request.MethodGet, "collections", nil, asDev)
	require.Equal(t, http.StatusOK, rc.StatusCode)

	result, ok := rc.Result.(map[string]any)
	require.True(t, ok, "result type: %T", rc.Result)
	assert.Equal(t, 2, result["total"], "albums plus the meta-collection")
}

func TestMetaGetOne(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, albumsPayload())

	rc := f.call(request.MethodGet, "collections/albums", nil, asDev)
	require.Equal(t, http.StatusOK, rc.StatusCode)

	def, ok := rc.Result.(*schema.CollectionDefinition)
	require.True(t, ok, "result type: %T", rc.Result)
	assert.Equal(t, "albums", def.Name)

	rc = f.call(request.MethodGet, "collections/ghosts", nil, asDev)
	assert.Equal(t, http.StatusNotFound, rc.StatusCode)
}

func TestMetaCreateDuplicate(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, albumsPayload())

	rc := f.call(request.MethodCreate, "collections", albumsPayload(), asDev)
	assert.Equal(t, http.StatusConflict, rc.StatusCode)
}

func TestMetaCreateInvalidDefinition(t *testing.T) {
	f := newFixture(t)

	rc := f.call(request.MethodCreate, "collections", map[string]any{
		"name": "bad name!",
		"schema": map[string]any{
			"title": map[string]any{"type": "string"},
		},
	}, asDev)
	assert.Equal(t, http.StatusBadRequest, rc.StatusCode)
}

func TestMetaPatchMergesPartialEdit(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, albumsPayload())

	// Patch only the exposed flag; the schema must survive the merge.
	rc := f.call(request.MethodPatch, "collections/albums", map[string]any{
		"exposed": false,
	}, asDev)
	require.Equal(t, http.StatusOK, rc.StatusCode, "patch: %+v", rc.Result)

	def, ok := f.registry.Get("albums")
	require.True(t, ok)
	assert.False(t, def.Exposed)
	assert.Contains(t, def.Schema, "title", "schema lost in partial edit")

	// And the collection is no longer publicly routable.
	rc = f.call(request.MethodGet, "albums", nil)
	assert.Equal(t, http.StatusNotFound, rc.StatusCode)
}

func TestMetaRenamePropagatesRelations(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, artistsPayload())

	albums := albumsPayload()
	albums["schema"].(map[string]any)["artist"] = map[string]any{
		"type": "id", "relation": "artists",
	}
	f.createCollection(t, albums)

	rc := f.call(request.MethodPatch, "collections/artists", map[string]any{
		"name": "musicians",
	}, asDev)
	require.Equal(t, http.StatusOK, rc.StatusCode, "rename: %+v", rc.Result)

	_, ok := f.registry.Get("artists")
	assert.False(t, ok, "old name still registered")

	def, ok := f.registry.Get("albums")
	require.True(t, ok)
	assert.Equal(t, "musicians", def.Schema["artist"].Relation)
}

func TestMetaPatchUnsupportedMigration(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, albumsPayload())

	rc := f.call(request.MethodPatch, "collections/albums", map[string]any{
		"exposed": true,
		"migrations": []any{
			map[string]any{"type": "shred-data"},
		},
	}, asDev)
	require.Equal(t, http.StatusInternalServerError, rc.StatusCode)

	body := rc.Result.(*request.ErrorBody)
	details, ok := body.Details.(map[string]any)
	require.True(t, ok, "details type: %T", body.Details)
	assert.Equal(t, 0, details["step"])
	assert.Equal(t, "shred-data", details["type"])
	assert.Equal(t, true, details["retryable"])
}

func TestMetaRemove(t *testing.T) {
	f := newFixture(t)
	f.createCollection(t, albumsPayload())

	rc := f.call(request.MethodRemove, "collections/albums", nil, asDev)
	require.Equal(t, http.StatusOK, rc.StatusCode)

	removed, ok := rc.Result.(*schema.CollectionDefinition)
	require.True(t, ok, "result type: %T", rc.Result)
	assert.Equal(t, "albums", removed.Name)

	rc = f.call(request.MethodGet, "albums", nil)
	assert.Equal(t, http.StatusNotFound, rc.StatusCode)
}

func TestMetaReservedGuards(t *testing.T) {
	f := newFixture(t)

	rc := f.call(request.MethodRemove, "collections/"+registry.Name, nil, asDev)
	assert.Equal(t, http.StatusMethodNotAllowed, rc.StatusCode, "remove reserved")

	rc = f.call(request.MethodPatch, "collections/"+registry.Name, map[string]any{
		"exposed": false,
	}, asDev)
	assert.Equal(t, http.StatusMethodNotAllowed, rc.StatusCode, "patch reserved")
}
