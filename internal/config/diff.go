package config

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Diff returns a unified diff between two configs with secrets redacted.
// The result is empty when nothing changed.
func Diff(old, updated *Config) string {
	var a, b string
	if old != nil {
		out, _ := GenerateHCL(old.Redacted())
		a = string(out)
	}
	if updated != nil {
		out, _ := GenerateHCL(updated.Redacted())
		b = string(out)
	}
	if a == b {
		return ""
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: "running",
		ToFile:   "loaded",
		Context:  2,
	}
	text, _ := difflib.GetUnifiedDiffString(diff)
	return text
}
