package auth

import (
	"context"
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
)

// Role gates a group of API routes.
type Role string

const (
	// RoleQueryReader may ask questions and read schemas, stats and results.
	RoleQueryReader Role = "query_reader"
	// RoleSchemaAdmin may evict cached schemas.
	RoleSchemaAdmin Role = "schema_admin"
)

var knownRoles = []Role{RoleQueryReader, RoleSchemaAdmin}

// Identity is the authenticated caller. UserID scopes which registered
// databases the caller may query.
type Identity struct {
	UserID string
	Roles  []Role
}

func (i Identity) HasRole(role Role) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator serves keys configured in ASKDB_AUTH_STATIC_KEYS.
// Only key digests are retained.
type StaticAPIKeyValidator struct {
	identities map[[sha256.Size]byte]Identity
}

// NewStaticAPIKeyValidator parses comma separated key:user:role|role entries.
func NewStaticAPIKeyValidator(spec string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{identities: map[[sha256.Size]byte]Identity{}}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, identity, err := parseKeyEntry(entry)
		if err != nil {
			return nil, err
		}
		digest := sha256.Sum256([]byte(key))
		if _, dup := validator.identities[digest]; dup {
			return nil, fmt.Errorf("static key for user %q is configured twice", identity.UserID)
		}
		validator.identities[digest] = identity
	}
	return validator, nil
}

func parseKeyEntry(entry string) (string, Identity, error) {
	key, rest, ok := strings.Cut(entry, ":")
	user, roleList, ok2 := strings.Cut(rest, ":")
	key, user = strings.TrimSpace(key), strings.TrimSpace(user)
	if !ok || !ok2 || key == "" || user == "" || strings.Contains(roleList, ":") {
		return "", Identity{}, fmt.Errorf("static key entry for %q: want key:user:role|role", user)
	}
	var roles []Role
	for _, name := range strings.Split(roleList, "|") {
		role := Role(strings.TrimSpace(name))
		switch {
		case role == "":
			continue
		case !slices.Contains(knownRoles, role):
			return "", Identity{}, fmt.Errorf("static key entry for %q: unknown role %q", user, role)
		case !slices.Contains(roles, role):
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("static key entry for %q: at least one role is required", user)
	}
	slices.Sort(roles)
	return key, Identity{UserID: user, Roles: roles}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.identities[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}
