package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"attestd/internal/domain"
	"attestd/internal/usecase"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

var _ usecase.PermissionChecker = (*Engine)(nil)

const defaultQuery = "data.attestd.authz.result"

// defaultPolicy is compiled in so the service makes identical permission
// decisions with or without an external bundle on disk.
const defaultPolicy = `package attestd.authz

privileged = {"admin", "quality_manager"}

default result = {
	"allow": false,
	"deny": [{"code": "ROLE_REQUIRED", "message": "action requires an admin or quality_manager role"}],
}

result = {"allow": true, "deny": []} {
	input.action == "signature.invalidate"
	some i
	privileged[input.user.roles[i]]
}
`

type AccessInput struct {
	User     AccessUser     `json:"user"`
	Action   string         `json:"action"`
	Resource AccessResource `json:"resource"`
}

type AccessUser struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles"`
}

type AccessResource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type AccessDeny struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AccessResult struct {
	Allow bool         `json:"allow"`
	Deny  []AccessDeny `json:"deny"`
}

type Engine struct {
	query rego.PreparedEvalQuery
}

// NewDefaultEngine compiles the built-in policy module.
func NewDefaultEngine(ctx context.Context) (*Engine, error) {
	return newEngineWith(ctx, rego.Module("authz.rego", defaultPolicy))
}

// NewEngineFromBundlePath loads every .rego file under bundlePath. Policies
// are restricted to a pure-builtin subset, so a bundle can never reach the
// network or the clock during an access decision.
func NewEngineFromBundlePath(ctx context.Context, bundlePath string) (*Engine, error) {
	if bundlePath == "" {
		return nil, errors.New("bundle path is required")
	}
	return newEngineWith(ctx, rego.Load([]string{bundlePath}, nil))
}

func newEngineWith(ctx context.Context, source func(*rego.Rego)) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		source,
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	return &Engine{query: prepared}, nil
}

func (e *Engine) Evaluate(ctx context.Context, input AccessInput) (AccessResult, error) {
	if e == nil {
		return AccessResult{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return AccessResult{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return AccessResult{}, errors.New("empty policy result")
	}
	result, err := decodeAccessResult(results[0].Expressions[0].Value)
	if err != nil {
		return AccessResult{}, err
	}
	sort.Slice(result.Deny, func(i, j int) bool {
		if result.Deny[i].Code == result.Deny[j].Code {
			return result.Deny[i].Message < result.Deny[j].Message
		}
		return result.Deny[i].Code < result.Deny[j].Code
	})
	return result, nil
}

// CheckAccess adapts policy evaluation to the permission collaborator
// contract: allowed plus a human-readable denial reason.
func (e *Engine) CheckAccess(ctx context.Context, user *domain.User, action string, resource domain.AuditResource) (bool, string, error) {
	if user == nil {
		return false, "", errors.New("user is required")
	}
	input := AccessInput{
		User: AccessUser{
			ID:       user.ID,
			Email:    user.Email,
			TenantID: user.TenantID,
			Roles:    user.Roles,
		},
		Action: action,
		Resource: AccessResource{
			Type: resource.Type,
			ID:   resource.ID,
			Name: resource.Name,
		},
	}
	result, err := e.Evaluate(ctx, input)
	if err != nil {
		return false, "", err
	}
	if result.Allow {
		return true, "", nil
	}
	reasons := make([]string, 0, len(result.Deny))
	for _, deny := range result.Deny {
		reasons = append(reasons, deny.Message)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "denied by policy")
	}
	return false, strings.Join(reasons, "; "), nil
}

func decodeAccessResult(value any) (AccessResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return AccessResult{}, err
	}
	var result AccessResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return AccessResult{}, err
	}
	return result, nil
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
