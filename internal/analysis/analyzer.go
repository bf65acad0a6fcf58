// Package analysis implements static security analysis of plugin source
// trees: a regex pattern scan, a syntax-tree rule scan, data-flow analysis
// from untrusted sources to sensitive sinks, and taint propagation.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// Common errors
var (
	// ErrAnalysisTimeout indicates the scan exceeded its time budget
	ErrAnalysisTimeout = errors.New("analysis timed out")

	// ErrInvalidRoot indicates the analysis root is not a readable directory
	ErrInvalidRoot = errors.New("invalid analysis root")
)

// Per-severity score deductions. The score is floored at 0.
const (
	deductionCritical = 25
	deductionHigh     = 15
	deductionMedium   = 8
	deductionLow      = 3
)

// Options controls a single analysis run.
type Options struct {
	// IncludeTests includes conventional test files in the scan
	IncludeTests bool

	// MaxDepth bounds directory recursion depth (0 means default)
	MaxDepth int

	// Timeout is the total time budget for the run (0 means default)
	Timeout time.Duration

	// MaxFileSize is the per-file size cap in bytes (0 means default)
	MaxFileSize int64
}

// Result is the outcome of one analysis run.
type Result struct {
	Safe            bool                           `json:"safe"`
	Score           int                            `json:"score"`
	Vulnerabilities []models.SecurityVulnerability `json:"vulnerabilities"`
	QualityMetrics  models.QualityMetrics          `json:"quality_metrics"`
	Recommendations []string                       `json:"recommendations"`
	Signature       string                         `json:"signature"`
	Warnings        []string                       `json:"warnings,omitempty"`
	Duration        time.Duration                  `json:"duration"`
}

// Analyzer scans plugin source trees for vulnerabilities. Instances are
// safe for concurrent use.
type Analyzer struct {
	logger       *logrus.Logger
	maxDepth     int
	timeout      time.Duration
	maxFileSize  int64
	excludedDirs map[string]bool
}

// NewAnalyzer creates an analyzer with the given options applied.
func NewAnalyzer(options ...func(*Analyzer)) *Analyzer {
	a := &Analyzer{
		logger:      logrus.New(),
		maxDepth:    10,
		timeout:     30 * time.Second,
		maxFileSize: 1024 * 1024, // 1MB per file
		excludedDirs: map[string]bool{
			".git":         true,
			".svn":         true,
			".hg":          true,
			"node_modules": true,
			"vendor":       true,
			"dist":         true,
			"build":        true,
			"coverage":     true,
		},
	}
	for _, option := range options {
		option(a)
	}
	return a
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) func(*Analyzer) {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// WithDefaultTimeout sets the default time budget for runs
func WithDefaultTimeout(d time.Duration) func(*Analyzer) {
	return func(a *Analyzer) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// sourceFile is one collected file with its content loaded.
type sourceFile struct {
	relPath string
	content []byte
}

// Analyze walks the plugin tree under rootPath and runs all detection
// passes. Unreadable files are skipped with a warning and never abort the
// run; exceeding the time budget fails the whole analysis with
// ErrAnalysisTimeout rather than returning partial results.
func (a *Analyzer) Analyze(ctx context.Context, rootPath string, opts Options) (*Result, error) {
	start := time.Now()

	info, err := os.Stat(rootPath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoot, rootPath)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = a.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &Result{}

	files, err := a.collectFiles(ctx, rootPath, opts, result)
	if err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"root":  rootPath,
		"files": len(files),
	}).Debug("Collected source files for analysis")

	var findings []models.SecurityVulnerability
	for _, f := range files {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: after %s", ErrAnalysisTimeout, time.Since(start))
		}

		findings = append(findings, scanPatterns(f.relPath, f.content)...)

		if isScriptFile(f.relPath) {
			tree, parseErr := parseScript(ctx, f.content)
			if parseErr != nil {
				// A parse failure on one file does not stop the rest.
				result.Warnings = append(result.Warnings, fmt.Sprintf("parse failed for %s: %v", f.relPath, parseErr))
				a.logger.WithError(parseErr).WithField("file", f.relPath).Warn("Failed to parse source file")
				continue
			}
			findings = append(findings, scanSyntaxTree(f.relPath, tree, f.content)...)
			findings = append(findings, analyzeDataFlow(f.relPath, tree, f.content)...)
			findings = append(findings, propagateTaint(f.relPath, tree, f.content)...)
			tree.Close()
		}
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: after %s", ErrAnalysisTimeout, time.Since(start))
	}

	result.Vulnerabilities = dedupeAndRank(findings)
	a.computeQuality(files, result)
	result.Score = computeScore(result.Vulnerabilities, result.QualityMetrics)
	result.Safe = isSafe(result.Vulnerabilities)
	result.Recommendations = buildRecommendations(result.Vulnerabilities)
	result.Signature = contentSignature(files)
	result.Duration = time.Since(start)

	summary := models.Summarize(result.Vulnerabilities)
	a.logger.WithFields(logrus.Fields{
		"root":     rootPath,
		"score":    result.Score,
		"safe":     result.Safe,
		"findings": summary.Total,
		"critical": summary.Critical,
		"high":     summary.High,
	}).Info("Completed plugin source analysis")

	return result, nil
}

// collectFiles walks the tree collecting readable text files under the
// depth and size budgets.
func (a *Analyzer) collectFiles(ctx context.Context, rootPath string, opts Options, result *Result) ([]sourceFile, error) {
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = a.maxDepth
	}
	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = a.maxFileSize
	}

	var files []sourceFile
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, walkErr error) error {
		if ctx.Err() != nil {
			return ErrAnalysisTimeout
		}
		rel, relErr := filepath.Rel(rootPath, path)
		if relErr != nil {
			return nil
		}
		if walkErr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unreadable path %s: %v", rel, walkErr))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if a.excludedDirs[d.Name()] {
				return filepath.SkipDir
			}
			if depthOf(rel) >= maxDepth {
				return filepath.SkipDir
			}
			return nil
		}
		if !opts.IncludeTests && isTestFile(rel) {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unreadable file %s: %v", rel, infoErr))
			return nil
		}
		if info.Size() > maxSize {
			result.Warnings = append(result.Warnings, fmt.Sprintf("skipped oversized file %s (%d bytes)", rel, info.Size()))
			result.QualityMetrics.FilesSkipped++
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unreadable file %s: %v", rel, readErr))
			result.QualityMetrics.FilesSkipped++
			return nil
		}
		if !isTextContent(content) {
			result.QualityMetrics.FilesSkipped++
			return nil
		}
		files = append(files, sourceFile{relPath: filepath.ToSlash(rel), content: content})
		return nil
	})
	if errors.Is(err, ErrAnalysisTimeout) {
		return nil, fmt.Errorf("%w: while walking %s", ErrAnalysisTimeout, rootPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", rootPath, err)
	}
	return files, nil
}

// computeQuality fills quality metrics from the collected files.
func (a *Analyzer) computeQuality(files []sourceFile, result *Result) {
	m := &result.QualityMetrics
	m.FilesScanned = len(files)
	var totalLineLen, lineCount int
	for _, f := range files {
		lines := strings.Split(string(f.content), "\n")
		m.TotalLines += len(lines)
		depth := 0
		maxDepth := 0
		funcLines := 0
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			totalLineLen += len(line)
			lineCount++
			if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "*") {
				m.CommentLines++
			}
			depth += strings.Count(line, "{") - strings.Count(line, "}")
			if depth > maxDepth {
				maxDepth = depth
			}
			if strings.Contains(trimmed, "function ") || strings.Contains(trimmed, "=>") {
				funcLines = 0
			}
			funcLines++
			if funcLines == 120 {
				m.LongFunctions++
			}
		}
		if maxDepth > m.MaxNestingDepth {
			m.MaxNestingDepth = maxDepth
		}
	}
	if lineCount > 0 {
		m.AvgLineLength = float64(totalLineLen) / float64(lineCount)
	}
}

// computeScore derives the 0-100 score from findings and complexity
// penalties. The score is monotonically non-increasing in CRITICAL/HIGH
// findings.
func computeScore(vulns []models.SecurityVulnerability, quality models.QualityMetrics) int {
	score := 100
	for _, v := range vulns {
		switch v.Severity {
		case models.SeverityCritical:
			score -= deductionCritical
		case models.SeverityHigh:
			score -= deductionHigh
		case models.SeverityMedium:
			score -= deductionMedium
		case models.SeverityLow:
			score -= deductionLow
		}
	}
	// Complexity penalties
	if quality.MaxNestingDepth > 8 {
		score -= 5
	}
	score -= quality.LongFunctions * 2
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// isSafe reports whether the finding set contains no CRITICAL/HIGH entries.
func isSafe(vulns []models.SecurityVulnerability) bool {
	for _, v := range vulns {
		if v.Severity == models.SeverityCritical || v.Severity == models.SeverityHigh {
			return false
		}
	}
	return true
}

// dedupeAndRank collapses findings with the same file+line+type and orders
// the result by severity, CRITICAL first.
func dedupeAndRank(findings []models.SecurityVulnerability) []models.SecurityVulnerability {
	seen := make(map[string]bool, len(findings))
	deduped := make([]models.SecurityVulnerability, 0, len(findings))
	for _, f := range findings {
		key := fmt.Sprintf("%s:%d:%s", f.File, f.Line, f.Type)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, f)
	}
	sort.SliceStable(deduped, func(i, j int) bool {
		return deduped[i].Severity.Rank() > deduped[j].Severity.Rank()
	})
	return deduped
}

// buildRecommendations derives remediation guidance from the finding set.
func buildRecommendations(vulns []models.SecurityVulnerability) []string {
	seen := make(map[models.VulnerabilityType]bool)
	var recs []string
	for _, v := range vulns {
		if seen[v.Type] || v.Remediation == "" {
			continue
		}
		seen[v.Type] = true
		recs = append(recs, fmt.Sprintf("%s: %s", v.Type, v.Remediation))
	}
	if len(recs) == 0 {
		recs = append(recs, "No remediation required")
	}
	return recs
}

// contentSignature computes a stable content-addressed signature over the
// sorted relative-path + content pairs of the collected files. The same
// tree always yields the same signature, usable for change detection.
func contentSignature(files []sourceFile) string {
	sorted := make([]sourceFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].relPath < sorted[j].relPath })

	h := sha256.New()
	for _, f := range sorted {
		h.Write([]byte(f.relPath))
		h.Write([]byte{0})
		h.Write(f.content)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// depthOf counts path separators in a relative path.
func depthOf(rel string) int {
	if rel == "." {
		return 0
	}
	return strings.Count(filepath.ToSlash(rel), "/") + 1
}

// isTestFile matches conventional test file names.
func isTestFile(rel string) bool {
	base := strings.ToLower(filepath.Base(rel))
	return strings.Contains(base, ".test.") || strings.Contains(base, ".spec.") ||
		strings.HasSuffix(base, "_test.go") ||
		strings.HasPrefix(filepath.ToSlash(rel), "test/") ||
		strings.HasPrefix(filepath.ToSlash(rel), "tests/")
}

// isScriptFile reports whether the file should get syntax-tree passes.
func isScriptFile(rel string) bool {
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx":
		return true
	}
	return false
}

// isTextContent heuristically rejects binary content.
func isTextContent(content []byte) bool {
	if len(content) == 0 {
		return true
	}
	sample := content
	if len(sample) > 8000 {
		sample = sample[:8000]
	}
	for _, b := range sample {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(sample) || utf8.RuneCount(sample) > len(sample)/2
}
