package dispatch

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrydb/quarry/internal/core/hook"
	"github.com/quarrydb/quarry/internal/core/registry"
	"github.com/quarrydb/quarry/internal/core/request"
	"github.com/quarrydb/quarry/internal/store"
	"github.com/quarrydb/quarry/internal/store/memory"
)

func TestDevHooksCatalog(t *testing.T) {
	f := newFixture(t)

	rc := f.call(request.MethodGet, "_dev/hooks", nil)
	require.Equal(t, http.StatusOK, rc.StatusCode)

	descriptors, ok := rc.Result.([]hook.Descriptor)
	require.True(t, ok, "result type: %T", rc.Result)
	require.NotEmpty(t, descriptors)

	ids := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		ids[d.ID] = true
	}
	for _, id := range []string{hook.LogData, hook.RequireAuth, hook.RestrictMethod} {
		assert.True(t, ids[id], "missing %s", id)
	}
}

func TestDevSetup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rc := f.call(request.MethodGet, "_dev/setup", nil)
	require.Equal(t, http.StatusOK, rc.StatusCode)
	result := rc.Result.(map[string]any)
	assert.Equal(t, false, result["setup"])

	// A non-dev credential does not satisfy setup.
	_, err := f.store.Insert(ctx, "credentials", store.Record{
		"user": "u1", "password_hash": "h", "dev": false,
	})
	require.NoError(t, err)
	rc = f.call(request.MethodGet, "_dev/setup", nil)
	assert.Equal(t, false, rc.Result.(map[string]any)["setup"])

	_, err = f.store.Insert(ctx, "credentials", store.Record{
		"user": "u2", "password_hash": "h", "dev": true,
	})
	require.NoError(t, err)
	rc = f.call(request.MethodGet, "_dev/setup", nil)
	assert.Equal(t, true, rc.Result.(map[string]any)["setup"])
}

func TestDevTokenIssuance(t *testing.T) {
	f := newFixture(t)

	hash, err := stubHasher{}.Hash("correct horse")
	require.NoError(t, err)
	_, err = f.store.Insert(context.Background(), "credentials", store.Record{
		"user": "root", "password_hash": hash, "dev": true,
	})
	require.NoError(t, err)

	rc := f.call(request.MethodCreate, "_dev/token", map[string]any{
		"user": "root", "password": "correct horse",
	})
	require.Equal(t, http.StatusOK, rc.StatusCode, "login: %+v", rc.Result)
	body := rc.Result.(map[string]any)
	assert.Equal(t, "issued:root", body["token"])
}

func TestDevTokenRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)

	hash, err := stubHasher{}.Hash("correct horse")
	require.NoError(t, err)
	_, err = f.store.Insert(context.Background(), "credentials", store.Record{
		"user": "root", "password_hash": hash, "dev": true,
	})
	require.NoError(t, err)

	rc := f.call(request.MethodCreate, "_dev/token", map[string]any{
		"user": "root", "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rc.StatusCode, "wrong password")

	rc = f.call(request.MethodCreate, "_dev/token", map[string]any{
		"user": "nobody", "password": "correct horse",
	})
	assert.Equal(t, http.StatusUnauthorized, rc.StatusCode, "unknown user")

	rc = f.call(request.MethodCreate, "_dev/token", map[string]any{"user": "root"})
	assert.Equal(t, http.StatusUnauthorized, rc.StatusCode, "missing password")

	rc = f.call(request.MethodCreate, "_dev/token", nil)
	assert.Equal(t, http.StatusBadRequest, rc.StatusCode, "missing data")

	rc = f.call(request.MethodGet, "_dev/token", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rc.StatusCode, "wrong method")
}

func TestDevTokenUnconfigured(t *testing.T) {
	s := memory.New()
	reg, err := registry.New(context.Background(), s, nil)
	require.NoError(t, err)
	hooks := hook.NewRegistry()
	require.NoError(t, hook.RegisterBuiltins(hooks, hook.BuiltinConfig{
		Store:     s,
		Tokens:    stubVerifier{},
		Passwords: stubHasher{},
	}))
	d, err := New(Config{Registry: reg, Hooks: hooks, Store: s})
	require.NoError(t, err)

	rc := request.New(context.Background(), "_dev/token", request.MethodCreate)
	rc.Data = map[string]any{"user": "root", "password": "x"}
	d.Dispatch(rc)
	assert.Equal(t, http.StatusNotFound, rc.StatusCode)
}

func TestDevEndpointGuards(t *testing.T) {
	f := newFixture(t)

	rc := f.call(request.MethodCreate, "_dev/hooks", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rc.StatusCode, "non-get method")

	rc = f.call(request.MethodGet, "_dev/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rc.StatusCode, "unknown endpoint")

	rc = f.call(request.MethodGet, "_dev", nil)
	assert.Equal(t, http.StatusNotFound, rc.StatusCode, "bare prefix")

	rc = f.call(request.MethodGet, "_dev/hooks/extra", nil)
	assert.Equal(t, http.StatusNotFound, rc.StatusCode, "deep path")
}
