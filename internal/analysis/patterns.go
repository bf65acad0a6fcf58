package analysis

import (
	"regexp"
	"strings"

	"github.com/threatflux/pluginsentinel/internal/models"
)

// patternRule is one regex-based anti-pattern detector.
type patternRule struct {
	Type        models.VulnerabilityType
	Severity    models.Severity
	Pattern     *regexp.Regexp
	Description string
	Remediation string
}

// patternRules covers well-known anti-patterns: hard-coded secrets,
// dynamic-code execution, unsafe deserialization, weak crypto, traversal.
var patternRules = []patternRule{
	{
		Type:        models.VulnHardcodedSecret,
		Severity:    models.SeverityCritical,
		Pattern:     regexp.MustCompile(`(?i)(api[_-]?key|secret[_-]?key|access[_-]?token|private[_-]?key|password)\s*[:=]\s*["'][A-Za-z0-9+/_\-]{12,}["']`),
		Description: "Hard-coded credential in source",
		Remediation: "Move credentials to environment variables or a secret store",
	},
	{
		Type:        models.VulnHardcodedSecret,
		Severity:    models.SeverityCritical,
		Pattern:     regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
		Description: "Embedded private key material",
		Remediation: "Remove private keys from the plugin tree and rotate them",
	},
	{
		Type:        models.VulnCodeInjection,
		Severity:    models.SeverityCritical,
		Pattern:     regexp.MustCompile(`\beval\s*\(`),
		Description: "Dynamic code evaluation via eval",
		Remediation: "Replace eval with explicit parsing or a safe expression evaluator",
	},
	{
		Type:        models.VulnCodeInjection,
		Severity:    models.SeverityCritical,
		Pattern:     regexp.MustCompile(`new\s+Function\s*\(`),
		Description: "Dynamic code construction via the Function constructor",
		Remediation: "Avoid constructing code from strings",
	},
	{
		Type:        models.VulnCommandInjection,
		Severity:    models.SeverityHigh,
		Pattern:     regexp.MustCompile(`(?:child_process|execSync|spawnSync)\s*[.(]`),
		Description: "Direct process execution from plugin code",
		Remediation: "Request host capabilities instead of spawning processes",
	},
	{
		Type:        models.VulnUnsafeDeserialization,
		Severity:    models.SeverityHigh,
		Pattern:     regexp.MustCompile(`(?i)(unserialize|node-serialize|pickle\.loads|yaml\.load\s*\((?:[^)]*[^,)])?\))`),
		Description: "Unsafe deserialization of untrusted data",
		Remediation: "Use a schema-validated safe parser",
	},
	{
		Type:        models.VulnWeakCrypto,
		Severity:    models.SeverityMedium,
		Pattern:     regexp.MustCompile(`(?i)createHash\s*\(\s*["'](md5|sha1)["']\s*\)`),
		Description: "Weak hash algorithm",
		Remediation: "Use SHA-256 or stronger",
	},
	{
		Type:        models.VulnWeakCrypto,
		Severity:    models.SeverityMedium,
		Pattern:     regexp.MustCompile(`(?i)\b(des|rc4|ecb)\b.{0,20}(cipher|encrypt)`),
		Description: "Weak cipher configuration",
		Remediation: "Use AES-GCM or another authenticated cipher",
	},
	{
		Type:        models.VulnPathTraversal,
		Severity:    models.SeverityHigh,
		Pattern:     regexp.MustCompile(`\.\./\.\./`),
		Description: "Path traversal sequence in file path",
		Remediation: "Resolve and validate paths against an allowed root",
	},
	{
		Type:        models.VulnCrossSiteScripting,
		Severity:    models.SeverityMedium,
		Pattern:     regexp.MustCompile(`(?:innerHTML|outerHTML|document\.write)\s*[=(]`),
		Description: "Raw HTML injection into the document",
		Remediation: "Use text nodes or a sanitizing renderer",
	},
	{
		Type:        models.VulnPrototypePollution,
		Severity:    models.SeverityHigh,
		Pattern:     regexp.MustCompile(`\[["']__proto__["']\]|\.__proto__\s*=`),
		Description: "Prototype pollution primitive",
		Remediation: "Reject __proto__ keys when merging untrusted objects",
	},
	{
		Type:        models.VulnSQLInjection,
		Severity:    models.SeverityHigh,
		Pattern:     regexp.MustCompile(`(?i)(select|insert|update|delete)\s+.{0,80}(\+\s*\w+|\$\{)`),
		Description: "SQL statement built by string concatenation",
		Remediation: "Use parameterized queries",
	},
}

// scanPatterns runs every pattern rule over the file line by line.
func scanPatterns(relPath string, content []byte) []models.SecurityVulnerability {
	var findings []models.SecurityVulnerability
	lines := strings.Split(string(content), "\n")
	for lineNo, line := range lines {
		for i := range patternRules {
			rule := &patternRules[i]
			if loc := rule.Pattern.FindStringIndex(line); loc != nil {
				findings = append(findings, models.SecurityVulnerability{
					Type:        rule.Type,
					Severity:    rule.Severity,
					File:        relPath,
					Line:        lineNo + 1,
					Column:      loc[0] + 1,
					Snippet:     snippet(line),
					Description: rule.Description,
					Remediation: rule.Remediation,
					Pass:        "pattern",
				})
			}
		}
	}
	return findings
}

// snippet trims a matched line for inclusion in a finding.
func snippet(line string) string {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) > 160 {
		trimmed = trimmed[:160]
	}
	return trimmed
}
