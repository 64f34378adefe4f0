package policyopa

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"attestd/internal/domain"
)

func TestDefaultEngineAllowsPrivilegedRole(t *testing.T) {
	engine := newDefaultEngine(t)

	allowed, reason, err := engine.CheckAccess(context.Background(), &domain.User{
		ID:    "user-1",
		Roles: []string{"author", "quality_manager"},
	}, "signature.invalidate", domain.AuditResource{Type: "signature", ID: "sig-1"})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allow, got denial: %s", reason)
	}
	if reason != "" {
		t.Fatalf("expected empty reason on allow, got %q", reason)
	}
}

func TestDefaultEngineDeniesWithoutRole(t *testing.T) {
	engine := newDefaultEngine(t)

	allowed, reason, err := engine.CheckAccess(context.Background(), &domain.User{
		ID:    "user-1",
		Roles: []string{"author"},
	}, "signature.invalidate", domain.AuditResource{Type: "signature", ID: "sig-1"})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if allowed {
		t.Fatal("expected denial for unprivileged role")
	}
	if reason == "" {
		t.Fatal("expected a denial reason")
	}
}

func TestDefaultEngineDeniesUnknownAction(t *testing.T) {
	engine := newDefaultEngine(t)

	allowed, _, err := engine.CheckAccess(context.Background(), &domain.User{
		ID:    "user-1",
		Roles: []string{"admin"},
	}, "signature.delete", domain.AuditResource{Type: "signature", ID: "sig-1"})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if allowed {
		t.Fatal("unknown actions should fall through to the default deny")
	}
}

func TestEngineDeterministic(t *testing.T) {
	engine := newDefaultEngine(t)
	input := AccessInput{
		User:     AccessUser{ID: "user-1", Roles: []string{"admin"}},
		Action:   "signature.invalidate",
		Resource: AccessResource{Type: "signature", ID: "sig-1"},
	}

	first, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate first: %v", err)
	}
	second, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate second: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("expected deterministic policy evaluation")
	}
}

func TestEngineFromBundlePath(t *testing.T) {
	path := filepath.Join("..", "..", "..", "policy", "bundles", "reference_v0")
	engine, err := NewEngineFromBundlePath(context.Background(), path)
	if err != nil {
		t.Fatalf("new engine from bundle: %v", err)
	}
	allowed, _, err := engine.CheckAccess(context.Background(), &domain.User{
		ID:    "user-1",
		Roles: []string{"admin"},
	}, "signature.invalidate", domain.AuditResource{Type: "signature", ID: "sig-1"})
	if err != nil {
		t.Fatalf("check access: %v", err)
	}
	if !allowed {
		t.Fatal("bundle policy should allow admin invalidation")
	}
}

func TestEngineRejectsTimeBuiltin(t *testing.T) {
	rejectBuiltin(t, "time.now_ns()")
}

func TestEngineRejectsHttpSend(t *testing.T) {
	rejectBuiltin(t, "http.send({\"method\": \"get\", \"url\": \"https://example.com\"})")
}

func TestEngineRejectsRand(t *testing.T) {
	rejectBuiltin(t, "rand.intn(10)")
}

func rejectBuiltin(t *testing.T, expr string) {
	t.Helper()
	dir := t.TempDir()
	regoContent := `package attestd.authz
result := {"allow": true, "deny": []} {
  ` + expr + `
}`
	if err := os.WriteFile(filepath.Join(dir, "authz.rego"), []byte(regoContent), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}

	_, err := NewEngineFromBundlePath(context.Background(), dir)
	if err == nil {
		t.Fatal("expected builtin to be rejected")
	}
}

func newDefaultEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewDefaultEngine(context.Background())
	if err != nil {
		t.Fatalf("new default engine: %v", err)
	}
	return engine
}
