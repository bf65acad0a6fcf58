package analysis

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// parseScript parses JavaScript/TypeScript source into a syntax tree.
func parseScript(ctx context.Context, content []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(javascript.GetLanguage())
	return parser.ParseCtx(ctx, nil, content)
}

// nodeText extracts the source text covered by a node.
func nodeText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	return string(content[node.StartByte():node.EndByte()])
}

// nodeRule inspects syntax nodes of a single kind and reports at most one
// finding per node. Rules are registered per node kind and the tree is
// walked exactly once.
type nodeRule interface {
	// Kind returns the node kind this rule inspects
	Kind() string

	// Inspect returns a finding for the node, or nil
	Inspect(node *sitter.Node, content []byte) *models.SecurityVulnerability
}

// nodeRuleRegistry indexes rules by the node kind they inspect.
var nodeRuleRegistry = buildNodeRuleRegistry()

func buildNodeRuleRegistry() map[string][]nodeRule {
	rules := []nodeRule{
		&evalCallRule{},
		&timerStringRule{},
		&requireDangerousRule{},
		&processExecRule{},
		&weakHashRule{},
		&functionConstructorRule{},
	}
	registry := make(map[string][]nodeRule)
	for _, r := range rules {
		registry[r.Kind()] = append(registry[r.Kind()], r)
	}
	return registry
}

// scanSyntaxTree walks the tree once, dispatching each node to the rules
// registered for its kind.
func scanSyntaxTree(relPath string, tree *sitter.Tree, content []byte) []models.SecurityVulnerability {
	var findings []models.SecurityVulnerability
	walkTree(tree.RootNode(), func(node *sitter.Node) {
		for _, rule := range nodeRuleRegistry[node.Type()] {
			if f := rule.Inspect(node, content); f != nil {
				f.File = relPath
				f.Line = int(node.StartPoint().Row) + 1
				f.Column = int(node.StartPoint().Column) + 1
				f.Pass = "structural"
				findings = append(findings, *f)
			}
		}
	})
	return findings
}

// walkTree visits every named node in depth-first order.
func walkTree(node *sitter.Node, visit func(*sitter.Node)) {
	if node == nil {
		return
	}
	visit(node)
	for i := 0; i < int(node.NamedChildCount()); i++ {
		walkTree(node.NamedChild(i), visit)
	}
}

// callee returns the full and last-segment names of a call target, e.g.
// ("cp.execSync", "execSync") for cp.execSync(...).
func callee(node *sitter.Node, content []byte) (string, string) {
	fn := node.ChildByFieldName("function")
	if fn == nil {
		return "", ""
	}
	full := nodeText(fn, content)
	last := full
	if idx := strings.LastIndex(full, "."); idx >= 0 {
		last = full[idx+1:]
	}
	return full, last
}

// firstArgString returns the unquoted first argument if it is a string
// literal, and whether there was one.
func firstArgString(node *sitter.Node, content []byte) (string, bool) {
	args := node.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return "", false
	}
	arg := args.NamedChild(0)
	if arg.Type() != "string" {
		return "", false
	}
	return strings.Trim(nodeText(arg, content), `"'`), true
}

// evalCallRule flags direct eval invocations.
type evalCallRule struct{}

func (r *evalCallRule) Kind() string { return "call_expression" }

func (r *evalCallRule) Inspect(node *sitter.Node, content []byte) *models.SecurityVulnerability {
	_, name := callee(node, content)
	if name != "eval" {
		return nil
	}
	return &models.SecurityVulnerability{
		Type:        models.VulnCodeInjection,
		Severity:    models.SeverityCritical,
		Snippet:     snippet(nodeText(node, content)),
		Description: "Dynamic code evaluation via eval",
		Remediation: "Replace eval with explicit parsing or a safe expression evaluator",
	}
}

// functionConstructorRule flags new Function("...") construction.
type functionConstructorRule struct{}

func (r *functionConstructorRule) Kind() string { return "new_expression" }

func (r *functionConstructorRule) Inspect(node *sitter.Node, content []byte) *models.SecurityVulnerability {
	ctor := node.ChildByFieldName("constructor")
	if ctor == nil || nodeText(ctor, content) != "Function" {
		return nil
	}
	return &models.SecurityVulnerability{
		Type:        models.VulnCodeInjection,
		Severity:    models.SeverityCritical,
		Snippet:     snippet(nodeText(node, content)),
		Description: "Dynamic code construction via the Function constructor",
		Remediation: "Avoid constructing code from strings",
	}
}

// timerStringRule flags setTimeout/setInterval with a string body, which is
// implicit eval.
type timerStringRule struct{}

func (r *timerStringRule) Kind() string { return "call_expression" }

func (r *timerStringRule) Inspect(node *sitter.Node, content []byte) *models.SecurityVulnerability {
	_, name := callee(node, content)
	if name != "setTimeout" && name != "setInterval" {
		return nil
	}
	if _, isString := firstArgString(node, content); !isString {
		return nil
	}
	return &models.SecurityVulnerability{
		Type:        models.VulnCodeInjection,
		Severity:    models.SeverityHigh,
		Snippet:     snippet(nodeText(node, content)),
		Description: "Timer callback given as a string is evaluated as code",
		Remediation: "Pass a function reference instead of a string",
	}
}

// requireDangerousRule flags requires of modules that break isolation.
type requireDangerousRule struct{}

var dangerousModules = map[string]string{
	"child_process": "spawns host processes",
	"vm":            "executes arbitrary code outside the sandbox",
	"cluster":       "forks host processes",
}

func (r *requireDangerousRule) Kind() string { return "call_expression" }

func (r *requireDangerousRule) Inspect(node *sitter.Node, content []byte) *models.SecurityVulnerability {
	full, _ := callee(node, content)
	if full != "require" {
		return nil
	}
	mod, ok := firstArgString(node, content)
	if !ok {
		return nil
	}
	reason, dangerous := dangerousModules[mod]
	if !dangerous {
		return nil
	}
	return &models.SecurityVulnerability{
		Type:        models.VulnCommandInjection,
		Severity:    models.SeverityHigh,
		Snippet:     snippet(nodeText(node, content)),
		Description: "Import of restricted module " + mod + ": " + reason,
		Remediation: "Request host capabilities through the plugin API instead",
	}
}

// processExecRule flags direct process execution calls.
type processExecRule struct{}

var execCallNames = map[string]bool{
	"exec":      true,
	"execSync":  true,
	"execFile":  true,
	"spawn":     true,
	"spawnSync": true,
	"fork":      true,
}

func (r *processExecRule) Kind() string { return "call_expression" }

func (r *processExecRule) Inspect(node *sitter.Node, content []byte) *models.SecurityVulnerability {
	full, name := callee(node, content)
	if !execCallNames[name] || !strings.Contains(full, ".") {
		return nil
	}
	return &models.SecurityVulnerability{
		Type:        models.VulnCommandInjection,
		Severity:    models.SeverityHigh,
		Snippet:     snippet(nodeText(node, content)),
		Description: "Process execution call " + full,
		Remediation: "Request host capabilities instead of spawning processes",
	}
}

// weakHashRule flags createHash with a weak algorithm literal.
type weakHashRule struct{}

func (r *weakHashRule) Kind() string { return "call_expression" }

func (r *weakHashRule) Inspect(node *sitter.Node, content []byte) *models.SecurityVulnerability {
	_, name := callee(node, content)
	if name != "createHash" {
		return nil
	}
	alg, ok := firstArgString(node, content)
	if !ok {
		return nil
	}
	switch strings.ToLower(alg) {
	case "md5", "sha1":
		return &models.SecurityVulnerability{
			Type:        models.VulnWeakCrypto,
			Severity:    models.SeverityMedium,
			Snippet:     snippet(nodeText(node, content)),
			Description: "Weak hash algorithm " + alg,
			Remediation: "Use SHA-256 or stronger",
		}
	}
	return nil
}
