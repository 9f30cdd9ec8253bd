// Package routes classifies request paths into access classes and maps
// abuse-prone endpoints to their rate-limited actions.
package routes

import (
	"net/http"
	"strings"

	"tradegate/internal/ratelimit/models"
	"tradegate/pkg/domainerrors"
)

// Kind is the access class of a route.
type Kind string

const (
	// KindPublic routes are reachable by anyone.
	KindPublic Kind = "public"
	// KindAuthOnly routes are for unauthenticated callers only (login, signup).
	KindAuthOnly Kind = "auth-only"
	// KindProtected routes require an authenticated caller.
	KindProtected Kind = "protected"
	// KindRoleGated routes require authentication plus a specific role.
	KindRoleGated Kind = "role-gated"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindPublic, KindAuthOnly, KindProtected, KindRoleGated:
		return true
	}
	return false
}

// Classification is the access class of a path, with the required role for
// role-gated routes.
type Classification struct {
	Kind Kind
	Role string
}

// RequiresIdentity reports whether the class admits only authenticated callers.
func (c Classification) RequiresIdentity() bool {
	return c.Kind == KindProtected || c.Kind == KindRoleGated
}

// Rule binds a path prefix to a classification. A prefix matches the exact
// path and any descendant segment ("/charts" matches "/charts" and
// "/charts/btc", not "/chartsx").
type Rule struct {
	Prefix         string
	Classification Classification
}

// ActionRule binds a method and path to a rate-limited action.
type ActionRule struct {
	Method string
	Path   string
	Action models.Action
}

// Classifier resolves paths against an ordered rule table. The most specific
// (longest) matching prefix wins; declaration order breaks ties. Unmatched
// paths are public.
type Classifier struct {
	rules   []Rule
	actions []ActionRule
}

// DefaultRules is the route table used when no table is configured.
func DefaultRules() []Rule {
	return []Rule{
		{Prefix: "/admin", Classification: Classification{Kind: KindRoleGated, Role: "admin"}},
		{Prefix: "/internal", Classification: Classification{Kind: KindRoleGated, Role: "admin"}},
		{Prefix: "/charts", Classification: Classification{Kind: KindProtected}},
		{Prefix: "/login", Classification: Classification{Kind: KindAuthOnly}},
		{Prefix: "/signup", Classification: Classification{Kind: KindAuthOnly}},
		{Prefix: "/verify", Classification: Classification{Kind: KindAuthOnly}},
	}
}

// DefaultActionRules maps the abuse-prone endpoints to their actions.
func DefaultActionRules() []ActionRule {
	return []ActionRule{
		{Method: http.MethodPost, Path: "/login", Action: models.ActionCredentialSubmit},
		{Method: http.MethodPost, Path: "/api/reports", Action: models.ActionReportSubmit},
	}
}

// New validates the rule tables and constructs a classifier. A malformed
// table is a deployment error and fails startup.
func New(rules []Rule, actions []ActionRule) (*Classifier, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	if actions == nil {
		actions = DefaultActionRules()
	}
	for _, r := range rules {
		if !strings.HasPrefix(r.Prefix, "/") {
			return nil, domainerrors.New(domainerrors.CodeConfig, "route prefix must start with '/': "+r.Prefix)
		}
		if !r.Classification.Kind.IsValid() {
			return nil, domainerrors.New(domainerrors.CodeConfig, "unknown route classification for prefix "+r.Prefix)
		}
		if r.Classification.Kind == KindRoleGated && r.Classification.Role == "" {
			return nil, domainerrors.New(domainerrors.CodeConfig, "role-gated route missing role: "+r.Prefix)
		}
		if r.Classification.Kind != KindRoleGated && r.Classification.Role != "" {
			return nil, domainerrors.New(domainerrors.CodeConfig, "role set on a non-role-gated route: "+r.Prefix)
		}
	}
	for _, a := range actions {
		if !strings.HasPrefix(a.Path, "/") {
			return nil, domainerrors.New(domainerrors.CodeConfig, "action path must start with '/': "+a.Path)
		}
		if !a.Action.IsValid() {
			return nil, domainerrors.New(domainerrors.CodeConfig, "unknown rate limit action for path "+a.Path)
		}
	}
	return &Classifier{rules: rules, actions: actions}, nil
}

// Classify maps a path to exactly one classification. Pure, no I/O.
func (c *Classifier) Classify(path string) Classification {
	best := Classification{Kind: KindPublic}
	bestLen := -1
	for _, r := range c.rules {
		if prefixMatches(path, r.Prefix) && len(r.Prefix) > bestLen {
			best = r.Classification
			bestLen = len(r.Prefix)
		}
	}
	return best
}

// LimitedAction returns the rate-limited action for a method and path, if one
// is configured.
func (c *Classifier) LimitedAction(method, path string) (models.Action, bool) {
	for _, a := range c.actions {
		if a.Method == method && pathEquals(path, a.Path) {
			return a.Action, true
		}
	}
	return "", false
}

func prefixMatches(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/' || strings.HasSuffix(prefix, "/")
}

// pathEquals treats a single trailing slash as insignificant.
func pathEquals(path, want string) bool {
	return path == want || path == want+"/"
}
