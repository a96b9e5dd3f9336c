package dispatch

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/core/request"
	"github.com/quarrydb/quarry/internal/store"
)

// TokenIssuer signs a bearer token for a resolved identity. The served
// token is what require-auth later verifies.
type TokenIssuer interface {
	Generate(identity *request.Identity) (string, error)
}

// dispatchDev services the reserved _dev sub-paths: hook catalog
// introspection for admin tooling, the bootstrap setup gate, and bearer
// token issuance against stored credentials.
func (d *Dispatcher) dispatchDev(rc *request.Context, segments []string) {
	if len(segments) != 1 {
		rc.Fail(http.StatusNotFound, "not found", nil)
		return
	}

	switch segments[0] {
	case "hooks":
		if rc.Method != request.MethodGet {
			rc.Fail(http.StatusMethodNotAllowed, "method not allowed", nil)
			return
		}
		rc.Finalize(http.StatusOK, d.hooks.List())

	case "setup":
		if rc.Method != request.MethodGet {
			rc.Fail(http.StatusMethodNotAllowed, "method not allowed", nil)
			return
		}
		result, err := d.store.Find(rc.Context(), d.credentials, store.Query{
			Filter: map[string]any{"dev": true},
			Limit:  1,
		})
		if err != nil {
			d.logger.Error("dev-setup lookup failed", zap.Error(err))
			rc.Fail(http.StatusInternalServerError, "internal error", nil)
			return
		}
		rc.Finalize(http.StatusOK, map[string]any{"setup": result.Total > 0})

	case "token":
		d.issueToken(rc)

	default:
		rc.Fail(http.StatusNotFound, fmt.Sprintf("unknown dev endpoint %q", segments[0]), nil)
	}
}

// issueToken exchanges a stored credential for a signed bearer token.
// This is the login path for the reserved collections surface: quarry
// setup persists a dev credential, this endpoint turns it into the token
// require-auth demands.
func (d *Dispatcher) issueToken(rc *request.Context) {
	if d.tokens == nil || d.passwords == nil {
		rc.Fail(http.StatusNotFound, "not found", nil)
		return
	}
	if rc.Method != request.MethodCreate {
		rc.Fail(http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	if rc.Data == nil {
		rc.Fail(http.StatusBadRequest, dataRequiredMessage, dataRequiredMessage)
		return
	}

	user, _ := rc.Data["user"].(string)
	password, _ := rc.Data["password"].(string)
	if user == "" || password == "" {
		rc.Fail(http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	result, err := d.store.Find(rc.Context(), d.credentials, store.Query{
		Filter: map[string]any{"user": user},
		Limit:  1,
	})
	if err != nil {
		d.logger.Error("token credential lookup failed", zap.Error(err))
		rc.Fail(http.StatusInternalServerError, "internal error", nil)
		return
	}
	if len(result.Data) == 0 {
		rc.Fail(http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}
	credential := result.Data[0]
	hash, _ := credential["password_hash"].(string)
	if !d.passwords.Compare(hash, password) {
		rc.Fail(http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	dev, _ := credential["dev"].(bool)
	token, err := d.tokens.Generate(&request.Identity{UserID: user, Dev: dev})
	if err != nil {
		d.logger.Error("token generation failed", zap.Error(err))
		rc.Fail(http.StatusInternalServerError, "internal error", nil)
		return
	}
	rc.Finalize(http.StatusOK, map[string]any{"token": token})
}
