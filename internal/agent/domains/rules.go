package domains

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/moolen/lookout/internal/logging"
)

// Rules holds the Dynatrace rules documents that are embedded into prompts.
// Any document may be empty.
type Rules struct {
	Master             string
	Query              string
	Problems           string
	SecurityEvents     string
	IncidentResponse   string
	Investigation      string
	SecurityCompliance string
}

// rulesFiles maps each document to its path below the rules directory.
var rulesFiles = []struct {
	path string
	set  func(*Rules, string)
}{
	{"DynatraceMcpIntegration.md", func(r *Rules, s string) { r.Master = s }},
	{"reference/DynatraceQueryLanguage.md", func(r *Rules, s string) { r.Query = s }},
	{"reference/DynatraceProblemsSpec.md", func(r *Rules, s string) { r.Problems = s }},
	{"reference/DynatraceSecurityEvents.md", func(r *Rules, s string) { r.SecurityEvents = s }},
	{"workflows/DynatraceIncidentResponse.md", func(r *Rules, s string) { r.IncidentResponse = s }},
	{"workflows/DynatraceInvestigationChecklist.md", func(r *Rules, s string) { r.Investigation = s }},
	{"workflows/DynatraceSecurityCompliance.md", func(r *Rules, s string) { r.SecurityCompliance = s }},
}

// LoadRules reads the rules documents from dir. Missing files are skipped
// so the assistant still works without a rules checkout; other read errors
// are returned.
func LoadRules(dir string) (Rules, error) {
	var rules Rules
	if dir == "" {
		return rules, nil
	}
	logger := logging.GetLogger("domains")

	loaded := 0
	for _, f := range rulesFiles {
		// #nosec G304 -- rules directory comes from the operator's config
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(f.path)))
		if errors.Is(err, fs.ErrNotExist) {
			logger.Debug("rules file %s not found in %s", f.path, dir)
			continue
		}
		if err != nil {
			return Rules{}, fmt.Errorf("failed to read rules file %s: %w", f.path, err)
		}
		f.set(&rules, string(data))
		loaded++
	}
	logger.Info("Loaded %d of %d rules documents from %s", loaded, len(rulesFiles), dir)
	return rules, nil
}
