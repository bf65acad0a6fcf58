package analysis

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// taintSourceCalls are call targets whose return value is considered
// tainted regardless of arguments.
var taintSourceCalls = map[string]bool{
	"getUserInput": true,
	"readInput":    true,
	"prompt":       true,
	"receive":      true,
	"recv":         true,
	"deserialize":  true,
	"parse":        false, // too common to seed on its own
}

// taintSinkCalls are call targets that must never receive tainted values.
var taintSinkCalls = map[string]bool{
	"exec":          true,
	"execSync":      true,
	"eval":          true,
	"query":         true,
	"writeFile":     true,
	"writeFileSync": true,
	"send":          true,
	"postMessage":   true,
}

// assignmentEdge records "to is assigned from from".
type assignmentEdge struct {
	from string
	to   string
}

// propagateTaint performs reachability between taint sources and sinks
// through assignment chains: a variable seeded from a source call or an
// untrusted expression taints every variable transitively assigned from
// it; a sink call receiving any tainted variable yields a finding.
func propagateTaint(relPath string, tree *sitter.Tree, content []byte) []models.SecurityVulnerability {
	seeded := collectTaintedVars(tree, content, untrustedSourcePattern)
	var edges []assignmentEdge

	walkTree(tree.RootNode(), func(node *sitter.Node) {
		var nameNode, valueNode *sitter.Node
		switch node.Type() {
		case "variable_declarator":
			nameNode = node.ChildByFieldName("name")
			valueNode = node.ChildByFieldName("value")
		case "assignment_expression":
			nameNode = node.ChildByFieldName("left")
			valueNode = node.ChildByFieldName("right")
		default:
			return
		}
		if nameNode == nil || valueNode == nil || nameNode.Type() != "identifier" {
			return
		}
		to := nodeText(nameNode, content)

		switch valueNode.Type() {
		case "identifier":
			edges = append(edges, assignmentEdge{from: nodeText(valueNode, content), to: to})
		case "call_expression":
			if _, name := callee(valueNode, content); taintSourceCalls[name] {
				seeded[to] = true
			}
			// Propagate through wrapping calls like f(x)
			if args := valueNode.ChildByFieldName("arguments"); args != nil {
				for i := 0; i < int(args.NamedChildCount()); i++ {
					arg := args.NamedChild(i)
					if arg.Type() == "identifier" {
						edges = append(edges, assignmentEdge{from: nodeText(arg, content), to: to})
					}
				}
			}
		case "binary_expression", "template_string":
			// Concatenation keeps taint flowing
			walkTree(valueNode, func(part *sitter.Node) {
				if part.Type() == "identifier" {
					edges = append(edges, assignmentEdge{from: nodeText(part, content), to: to})
				}
			})
		}
	})

	// Fixpoint over assignment edges
	for changed := true; changed; {
		changed = false
		for _, e := range edges {
			if seeded[e.from] && !seeded[e.to] {
				seeded[e.to] = true
				changed = true
			}
		}
	}

	var findings []models.SecurityVulnerability
	walkTree(tree.RootNode(), func(node *sitter.Node) {
		if node.Type() != "call_expression" {
			return
		}
		_, name := callee(node, content)
		if !taintSinkCalls[name] {
			return
		}
		args := node.ChildByFieldName("arguments")
		if args == nil {
			return
		}
		for i := 0; i < int(args.NamedChildCount()); i++ {
			arg := args.NamedChild(i)
			if arg.Type() != "identifier" || !seeded[nodeText(arg, content)] {
				continue
			}
			findings = append(findings, models.SecurityVulnerability{
				Type:        models.VulnTaintFlow,
				Severity:    models.SeverityHigh,
				File:        relPath,
				Line:        int(node.StartPoint().Row) + 1,
				Column:      int(node.StartPoint().Column) + 1,
				Snippet:     snippet(nodeText(node, content)),
				Description: "Tainted value " + nodeText(arg, content) + " reaches sink " + name,
				Remediation: "Sanitize the value before it reaches " + name + " or break the propagation chain",
				Pass:        "taint",
			})
			break
		}
	})
	return findings
}
