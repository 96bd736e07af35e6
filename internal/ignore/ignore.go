// Package ignore decides which local paths are left out of folder uploads.
package ignore

import (
	"bufio"
	"log/slog"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/figaro/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

var defaultIgnoreLines = []string{
	// figaro
	".figaro/",
	"*.figaro.tmp.*",
	// vcs
	".git/",
	".svn/",
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
}

type List struct {
	ignorePath string
	globs      []string
	rules      *gitignore.GitIgnore
}

// New returns a list built from the defaults and the exclude globs. Call Load
// to add the rules of the ignore file.
func New(ignorePath string, excludeGlobs []string) *List {
	l := &List{ignorePath: ignorePath}
	for _, g := range excludeGlobs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if !doublestar.ValidatePattern(g) {
			slog.Warn("ignore invalid exclude pattern", "pattern", g)
			continue
		}
		l.globs = append(l.globs, g)
	}
	l.rules = gitignore.CompileIgnoreLines(defaultIgnoreLines...)
	return l
}

// Load (re)compiles the rules, appending the ignore file when it exists.
func (l *List) Load() {
	lines := append([]string(nil), defaultIgnoreLines...)

	if l.ignorePath != "" && utils.FileExists(l.ignorePath) {
		file, err := os.Open(l.ignorePath)
		if err != nil {
			slog.Warn("ignore open", "path", l.ignorePath, "error", err)
		} else {
			defer file.Close()
			rules := 0
			scanner := bufio.NewScanner(file)
			for scanner.Scan() {
				line := strings.TrimRight(scanner.Text(), "\r")
				if strings.TrimSpace(line) == "" {
					continue
				}
				lines = append(lines, line)
				rules++
			}
			if err := scanner.Err(); err != nil {
				slog.Warn("ignore read", "path", l.ignorePath, "error", err)
			} else {
				slog.Debug("ignore loaded", "path", l.ignorePath, "rules", rules)
			}
		}
	}

	l.rules = gitignore.CompileIgnoreLines(lines...)
}

// ShouldIgnore reports whether the slash separated relative path, or any of
// its parent directories, is excluded.
func (l *List) ShouldIgnore(rel string) bool {
	if rel == "" {
		return false
	}
	if l.rules != nil && l.rules.MatchesPath(rel) {
		return true
	}
	for _, g := range l.globs {
		for p := rel; p != ""; p = parent(p) {
			if ok, _ := doublestar.Match(g, p); ok {
				return true
			}
		}
	}
	return false
}

// ShouldIgnoreDir is ShouldIgnore for a directory, which also honours
// patterns that only match directories ("build/").
func (l *List) ShouldIgnoreDir(rel string) bool {
	if rel == "" {
		return false
	}
	if l.ShouldIgnore(rel) {
		return true
	}
	return l.rules != nil && l.rules.MatchesPath(rel+"/")
}

func parent(p string) string {
	i := strings.LastIndexByte(p, '/')
	if i < 0 {
		return ""
	}
	return p[:i]
}
