package hook

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quarrydb/quarry/internal/core/request"
	"github.com/quarrydb/quarry/internal/store"
)

// TokenVerifier resolves a bearer token to a caller identity
type TokenVerifier interface {
	Verify(token string) (*request.Identity, error)
}

// PasswordHasher hashes and verifies stored credentials
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// Transform is an operator-supplied data transform, registered in code
// and referenced by name from a custom-code binding. This is the only
// custom-code extension point; there is no embedded scripting language.
type Transform func(data map[string]any) map[string]any

// BuiltinConfig carries the collaborators the built-in hooks close over
type BuiltinConfig struct {
	Logger    *zap.Logger
	Store     store.Adapter
	Tokens    TokenVerifier
	Passwords PasswordHasher

	// CredentialsCollection is where credential records live. Defaults
	// to "credentials".
	CredentialsCollection string

	// Transforms maps names to operator-supplied transforms for the
	// custom-code hook.
	Transforms map[string]Transform
}

// Built-in hook ids
const (
	LogData              = "log-data"
	CustomCode           = "custom-code"
	RestrictMethod       = "restrict-method"
	AuthRequirePassword  = "auth-require-password"
	CreateAuthCredential = "create-auth-credential"
	RequireAuth          = "require-auth"
	AssignAuthUser       = "assign-auth-user"
)

// Credential record fields
const (
	credentialUserField = "user"
	credentialHashField = "password_hash"
	credentialDevField  = "dev"
)

// RegisterBuiltins adds the built-in hook catalog to the registry
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CredentialsCollection == "" {
		cfg.CredentialsCollection = "credentials"
	}

	hooks := []*Hook{
		{
			ID:          LogData,
			Description: "Emits an observability record after the operation completes; never alters the request context.",
			New:         logDataFactory(cfg.Logger),
		},
		{
			ID:          CustomCode,
			Description: "Runs a named, operator-registered transform against the request data.",
			Options: []OptionSpec{
				{Name: "transform", Type: "string", Description: "Name of the registered transform", Required: true},
			},
			New: customCodeFactory(cfg.Transforms),
		},
		{
			ID:          RestrictMethod,
			Description: "Rejects the request with 405 unless its method is in the allowed set.",
			Options: []OptionSpec{
				{Name: "methods", Type: "[]string", Description: "Allowed methods (create, get, patch, remove)", Required: true},
			},
			New: restrictMethodFactory(),
		},
		{
			ID:          AuthRequirePassword,
			Description: "Validates a password field against a stored credential before allowing the operation.",
			Options: []OptionSpec{
				{Name: "identityField", Type: "string", Description: "Data field holding the credential owner id (default: user)"},
				{Name: "passwordField", Type: "string", Description: "Data field holding the plain password (default: password)"},
			},
			New: authRequirePasswordFactory(cfg),
		},
		{
			ID:          CreateAuthCredential,
			Description: "After a record is created, derives and persists a credential record from its password field.",
			Options: []OptionSpec{
				{Name: "passwordField", Type: "string", Description: "Data field holding the plain password (default: password)"},
				{Name: "dev", Type: "bool", Description: "Grant the credential dev privileges"},
			},
			New: createAuthCredentialFactory(cfg),
		},
		{
			ID:          RequireAuth,
			Description: "Rejects the request with 401 unless a valid bearer token is present; attaches the resolved identity.",
			New:         requireAuthFactory(cfg.Tokens),
		},
		{
			ID:          AssignAuthUser,
			Description: "Copies the resolved identity onto a request data field, e.g. for ownership.",
			Options: []OptionSpec{
				{Name: "field", Type: "string", Description: "Data field to assign the caller id to (default: user)"},
			},
			New: assignAuthUserFactory(),
		},
	}

	for _, h := range hooks {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

func logDataFactory(logger *zap.Logger) Factory {
	return func(opts Options) (Handler, error) {
		return func(rc *request.Context, next Next) error {
			start := time.Now()
			err := next()
			logger.Info("request",
				zap.String("path", rc.Path),
				zap.String("method", rc.Method.String()),
				zap.Int("status", rc.StatusCode),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}, nil
	}
}

func customCodeFactory(transforms map[string]Transform) Factory {
	return func(opts Options) (Handler, error) {
		name := opts.String("transform", "")
		if name == "" {
			return nil, fmt.Errorf("custom-code: transform option is required")
		}
		transform, ok := transforms[name]
		if !ok {
			return nil, fmt.Errorf("custom-code: no transform registered under %q", name)
		}
		return func(rc *request.Context, next Next) error {
			if rc.Data != nil {
				rc.Data = transform(rc.Data)
			}
			return next()
		}, nil
	}
}

func restrictMethodFactory() Factory {
	return func(opts Options) (Handler, error) {
		methods := opts.Strings("methods")
		if len(methods) == 0 {
			return nil, fmt.Errorf("restrict-method: methods option is required")
		}
		allowed := make(map[request.Method]bool, len(methods))
		for _, m := range methods {
			parsed, err := request.ParseMethod(m)
			if err != nil {
				return nil, fmt.Errorf("restrict-method: %w", err)
			}
			allowed[parsed] = true
		}
		return func(rc *request.Context, next Next) error {
			if !allowed[rc.Method] {
				rc.Fail(http.StatusMethodNotAllowed, "method not allowed", nil)
				return nil
			}
			return next()
		}, nil
	}
}

func requireAuthFactory(tokens TokenVerifier) Factory {
	return func(opts Options) (Handler, error) {
		if tokens == nil {
			return nil, fmt.Errorf("require-auth: no token verifier configured")
		}
		return func(rc *request.Context, next Next) error {
			header := rc.Header("Authorization")
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
				rc.Fail(http.StatusUnauthorized, "Authentication required", nil)
				return nil
			}
			identity, err := tokens.Verify(parts[1])
			if err != nil {
				rc.Fail(http.StatusUnauthorized, "Invalid token", nil)
				return nil
			}
			rc.Identity = identity
			return next()
		}, nil
	}
}

func assignAuthUserFactory() Factory {
	return func(opts Options) (Handler, error) {
		field := opts.String("field", "user")
		return func(rc *request.Context, next Next) error {
			if rc.Identity != nil && rc.Data != nil {
				rc.Data[field] = rc.Identity.UserID
			}
			return next()
		}, nil
	}
}

func authRequirePasswordFactory(cfg BuiltinConfig) Factory {
	return func(opts Options) (Handler, error) {
		if cfg.Store == nil || cfg.Passwords == nil {
			return nil, fmt.Errorf("auth-require-password: store and password hasher are required")
		}
		identityField := opts.String("identityField", "user")
		passwordField := opts.String("passwordField", "password")

		return func(rc *request.Context, next Next) error {
			if rc.Data == nil {
				rc.Fail(http.StatusUnauthorized, "Authentication required", nil)
				return nil
			}
			owner, _ := rc.Data[identityField].(string)
			password, _ := rc.Data[passwordField].(string)
			if owner == "" || password == "" {
				rc.Fail(http.StatusUnauthorized, "Authentication required", nil)
				return nil
			}

			result, err := cfg.Store.Find(rc.Context(), cfg.CredentialsCollection, store.Query{
				Filter: map[string]any{credentialUserField: owner},
				Limit:  1,
			})
			if err != nil {
				return fmt.Errorf("auth-require-password: credential lookup failed: %w", err)
			}
			if len(result.Data) == 0 {
				rc.Fail(http.StatusUnauthorized, "Invalid credentials", nil)
				return nil
			}
			hash, _ := result.Data[0][credentialHashField].(string)
			if !cfg.Passwords.Compare(hash, password) {
				rc.Fail(http.StatusUnauthorized, "Invalid credentials", nil)
				return nil
			}

			// The plain password must never reach storage.
			delete(rc.Data, passwordField)
			return next()
		}, nil
	}
}

func createAuthCredentialFactory(cfg BuiltinConfig) Factory {
	return func(opts Options) (Handler, error) {
		if cfg.Store == nil || cfg.Passwords == nil {
			return nil, fmt.Errorf("create-auth-credential: store and password hasher are required")
		}
		passwordField := opts.String("passwordField", "password")
		dev := opts.Bool("dev", false)

		return func(rc *request.Context, next Next) error {
			var password string
			if rc.Data != nil {
				password, _ = rc.Data[passwordField].(string)
				// Strip the plain password before validation and storage.
				delete(rc.Data, passwordField)
			}

			if err := next(); err != nil {
				return err
			}
			if password == "" || rc.StatusCode != http.StatusCreated {
				return nil
			}
			record, ok := rc.Result.(store.Record)
			if !ok {
				return nil
			}
			owner, _ := record[store.FieldID].(string)
			if owner == "" {
				return nil
			}

			hash, err := cfg.Passwords.Hash(password)
			if err != nil {
				return fmt.Errorf("create-auth-credential: %w", err)
			}
			if _, err := cfg.Store.Insert(rc.Context(), cfg.CredentialsCollection, store.Record{
				credentialUserField: owner,
				credentialHashField: hash,
				credentialDevField:  dev,
			}); err != nil {
				return fmt.Errorf("create-auth-credential: failed to persist credential: %w", err)
			}
			return nil
		}, nil
	}
}
