package models

// SecurityVulnerability is a single static-analysis finding. Instances are
// immutable and owned by the analysis run that produced them.
type SecurityVulnerability struct {
	ID          string            `json:"id"`
	Type        VulnerabilityType `json:"type"`
	Severity    Severity          `json:"severity"`
	File        string            `json:"file"`
	Line        int               `json:"line"`
	Column      int               `json:"column,omitempty"`
	Snippet     string            `json:"snippet,omitempty"`
	Description string            `json:"description"`
	Remediation string            `json:"remediation,omitempty"`
	Pass        string            `json:"pass,omitempty"` // which detection pass produced it
}

// QualityMetrics summarizes non-security code quality signals gathered
// during analysis.
type QualityMetrics struct {
	FilesScanned int `json:"files_scanned"`
	FilesSkipped int `json:"files_skipped"`
	TotalLines   int `json:"total_lines"`
	CommentLines int `json:"comment_lines"`
	LongFunctions   int     `json:"long_functions"`
	MaxNestingDepth int     `json:"max_nesting_depth"`
	AvgLineLength   float64 `json:"avg_line_length"`
}

// FindingSummary counts findings per severity.
type FindingSummary struct {
	Total    int `json:"total"`
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Summarize builds a FindingSummary from a finding list.
func Summarize(vulns []SecurityVulnerability) FindingSummary {
	s := FindingSummary{Total: len(vulns)}
	for _, v := range vulns {
		switch v.Severity {
		case SeverityCritical:
			s.Critical++
		case SeverityHigh:
			s.High++
		case SeverityMedium:
			s.Medium++
		case SeverityLow:
			s.Low++
		default:
			s.Info++
		}
	}
	return s
}
