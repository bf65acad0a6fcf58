package analysis

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// untrustedSourcePattern matches expressions that yield untrusted data:
// request inputs, process arguments, network responses, message payloads.
var untrustedSourcePattern = regexp.MustCompile(
	`\b(req\.(?:query|body|params|headers)|request\.(?:query|body|params)|process\.argv|process\.env|fetch\s*\(|axios\.(?:get|post)|socket\.on|event\.data|message\.data)`)

// sensitiveSinkNames are call targets that must not receive untrusted data
// without sanitization.
var sensitiveSinkNames = map[string]models.VulnerabilityType{
	"exec":             models.VulnCommandInjection,
	"execSync":         models.VulnCommandInjection,
	"spawn":            models.VulnCommandInjection,
	"eval":             models.VulnCodeInjection,
	"query":            models.VulnSQLInjection,
	"writeFile":        models.VulnPathTraversal,
	"writeFileSync":    models.VulnPathTraversal,
	"appendFile":       models.VulnPathTraversal,
	"appendFileSync":   models.VulnPathTraversal,
	"createReadStream": models.VulnPathTraversal,
	"readFile":         models.VulnPathTraversal,
	"readFileSync":     models.VulnPathTraversal,
}

// sanitizerPattern matches calls that are accepted as sanitization between
// a source and a sink.
var sanitizerPattern = regexp.MustCompile(
	`(?i)\b(saniti[sz]e\w*|escape\w*|encodeURIComponent|validate\w*|parseInt|Number|path\.basename)\s*\(`)

// analyzeDataFlow links untrusted sources to sensitive sinks within one
// file. A variable assigned from an untrusted source marks the variable
// tainted; a sink call whose arguments mention a tainted variable, or an
// untrusted source directly, without an intervening sanitizer call yields a
// finding.
func analyzeDataFlow(relPath string, tree *sitter.Tree, content []byte) []models.SecurityVulnerability {
	tainted := collectTaintedVars(tree, content, untrustedSourcePattern)

	var findings []models.SecurityVulnerability
	walkTree(tree.RootNode(), func(node *sitter.Node) {
		if node.Type() != "call_expression" {
			return
		}
		_, name := callee(node, content)
		vulnType, isSink := sensitiveSinkNames[name]
		if !isSink {
			return
		}
		args := node.ChildByFieldName("arguments")
		if args == nil {
			return
		}
		argText := nodeText(args, content)
		if sanitizerPattern.MatchString(argText) {
			return
		}

		flagged := untrustedSourcePattern.MatchString(argText)
		origin := "untrusted input"
		if !flagged {
			for varName := range tainted {
				if containsIdentifier(argText, varName) {
					flagged = true
					origin = "variable " + varName
					break
				}
			}
		}
		if !flagged {
			return
		}
		findings = append(findings, models.SecurityVulnerability{
			Type:        vulnType,
			Severity:    models.SeverityHigh,
			File:        relPath,
			Line:        int(node.StartPoint().Row) + 1,
			Column:      int(node.StartPoint().Column) + 1,
			Snippet:     snippet(nodeText(node, content)),
			Description: "Unsanitized data flow from " + origin + " into " + name,
			Remediation: "Sanitize or validate untrusted data before passing it to " + name,
			Pass:        "dataflow",
		})
	})
	return findings
}

// collectTaintedVars finds variables whose initializer or assigned value
// matches the source pattern.
func collectTaintedVars(tree *sitter.Tree, content []byte, source *regexp.Regexp) map[string]bool {
	tainted := make(map[string]bool)
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
		if source.MatchString(nodeText(valueNode, content)) {
			tainted[nodeText(nameNode, content)] = true
		}
	})
	return tainted
}

// containsIdentifier reports whether text mentions name as a whole word.
func containsIdentifier(text, name string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], name)
		if pos < 0 {
			return false
		}
		pos += idx
		before := pos == 0 || !isIdentChar(text[pos-1])
		afterIdx := pos + len(name)
		after := afterIdx >= len(text) || !isIdentChar(text[afterIdx])
		if before && after {
			return true
		}
		idx = pos + len(name)
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
