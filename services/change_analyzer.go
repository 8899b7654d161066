package services

import (
	"bufio"
	"errors"
	"regexp"
	"strings"
	"sync"

	"github.com/KBesada24/AI-E2E-Agent/models"
	"github.com/KBesada24/AI-E2E-Agent/utils"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"
)

// ChangeAnalyzer maps changed file paths onto the modules that own them
type ChangeAnalyzer struct {
	modules []models.ModuleDefinition
	logger  *utils.Logger

	// regex translations of patterns doublestar rejected
	fallbackMu sync.Mutex
	fallback   map[string]*regexp.Regexp
}

// NewChangeAnalyzer creates a change analyzer over the module mapping table
func NewChangeAnalyzer(mapping *models.ModuleMapping, logger *utils.Logger) *ChangeAnalyzer {
	if logger == nil {
		logger = utils.GetLogger()
	}
	var modules []models.ModuleDefinition
	if mapping != nil {
		modules = mapping.Modules
	}
	return &ChangeAnalyzer{
		modules:  modules,
		logger:   logger.WithSource("change_analyzer"),
		fallback: make(map[string]*regexp.Regexp),
	}
}

// AnalyzeChangedFiles returns the ids of affected modules in mapping order
func (a *ChangeAnalyzer) AnalyzeChangedFiles(changedFiles []string) []string {
	files := normalizePaths(changedFiles)
	if len(files) == 0 {
		return []string{}
	}

	affected := []string{}
	for _, module := range a.modules {
		if a.MatchesAnyPattern(files, module.FilePatterns) {
			affected = append(affected, module.ID)
		}
	}

	a.logger.Info("Change analysis completed", map[string]interface{}{
		"changed_files":    len(files),
		"affected_modules": affected,
	})
	return affected
}

// MatchesAnyPattern reports whether any file matches any pattern
func (a *ChangeAnalyzer) MatchesAnyPattern(files, patterns []string) bool {
	for _, pattern := range patterns {
		for _, file := range files {
			if a.Match(pattern, file) {
				return true
			}
		}
	}
	return false
}

// Match tests one path against one glob where * stays inside a segment and ** spans any depth
func (a *ChangeAnalyzer) Match(pattern, path string) bool {
	pattern = normalizePath(pattern)
	path = normalizePath(path)
	if pattern == "" || path == "" {
		return false
	}

	ok, err := doublestar.Match(pattern, path)
	if err == nil {
		return ok
	}
	if !errors.Is(err, doublestar.ErrBadPattern) {
		return false
	}

	re := a.fallbackRegex(pattern)
	return re != nil && re.MatchString(path)
}

func (a *ChangeAnalyzer) fallbackRegex(pattern string) *regexp.Regexp {
	a.fallbackMu.Lock()
	defer a.fallbackMu.Unlock()

	if re, ok := a.fallback[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(globToRegex(pattern))
	if err != nil {
		a.logger.Warn("Unusable file pattern ignored", map[string]interface{}{
			"pattern": pattern,
			"error":   err.Error(),
		})
		re = nil
	} else {
		a.logger.Debug("File pattern matched through regex translation", map[string]interface{}{
			"pattern": pattern,
		})
	}
	a.fallback[pattern] = re
	return re
}

// globToRegex translates a glob into an anchored regex, quoting everything else literally
func globToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString(`^(?:.*/)?`)
	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			b.WriteString(`(?:.+/)?`)
			i += 3
		case strings.HasPrefix(pattern[i:], "/**"):
			b.WriteString(`(?:/.*)?`)
			i += 3
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(`.*`)
			i += 2
		case pattern[i] == '*':
			b.WriteString(`[^/]*`)
			i++
		case pattern[i] == '?':
			b.WriteString(`[^/]`)
			i++
		default:
			b.WriteString(regexp.QuoteMeta(pattern[i : i+1]))
			i++
		}
	}
	b.WriteString(`$`)
	return b.String()
}

// CriticalModules returns the modules flagged critical, in mapping order
func (a *ChangeAnalyzer) CriticalModules() []models.ModuleDefinition {
	return lo.Filter(a.modules, func(m models.ModuleDefinition, _ int) bool {
		return m.Critical
	})
}

// AllModules returns every module in mapping order
func (a *ChangeAnalyzer) AllModules() []models.ModuleDefinition {
	return a.modules
}

// ModuleByID looks up a module definition
func (a *ChangeAnalyzer) ModuleByID(id string) (models.ModuleDefinition, bool) {
	return lo.Find(a.modules, func(m models.ModuleDefinition) bool {
		return m.ID == id
	})
}

// ParseGitDiffOutput extracts file paths from git diff, --name-status or --name-only output
func ParseGitDiffOutput(output string) []string {
	var files []string
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
		case strings.HasPrefix(line, "diff --git "):
			if idx := strings.LastIndex(line, " b/"); idx >= 0 {
				files = append(files, line[idx+3:])
			}
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "),
			strings.HasPrefix(line, "index "), strings.HasPrefix(line, "@@"),
			strings.HasPrefix(line, "+"), strings.HasPrefix(line, "-"),
			strings.HasPrefix(line, " "):
		case strings.Contains(line, "\t"):
			// name-status: "M\tpath" or "R100\told\tnew"
			fields := strings.Split(line, "\t")
			files = append(files, strings.TrimSpace(fields[len(fields)-1]))
		case isDiffMetadata(trimmed):
		default:
			files = append(files, trimmed)
		}
	}

	return normalizePaths(files)
}

func isDiffMetadata(line string) bool {
	for _, prefix := range []string{
		"new file mode", "deleted file mode", "old mode", "new mode",
		"similarity index", "rename from", "rename to", "copy from", "copy to",
		"Binary files", `\ No newline`,
	} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// NormalizeWebhookPaths strips leading slashes from repository paths and dedupes them
func NormalizeWebhookPaths(paths []string) []string {
	return normalizePaths(paths)
}

func normalizePaths(paths []string) []string {
	out := lo.FilterMap(paths, func(p string, _ int) (string, bool) {
		p = normalizePath(p)
		return p, p != ""
	})
	return lo.Uniq(out)
}

func normalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	p = strings.TrimPrefix(p, "./")
	return strings.TrimPrefix(p, "/")
}
