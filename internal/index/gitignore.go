package index

import (
	"bufio"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ignoreRule is one compiled .gitignore line.
type ignoreRule struct {
	glob    string
	negate  bool
	dirOnly bool
}

// ignoreRules holds the rules of a root .gitignore. Later rules win, so a
// negated pattern re-includes what an earlier one excluded.
type ignoreRules []ignoreRule

// loadGitignore reads root/.gitignore. A missing file yields no rules.
func loadGitignore(root string) (ignoreRules, error) {
	f, err := os.Open(filepath.Join(root, ".gitignore"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rules ignoreRules
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if r, ok := parseIgnoreLine(sc.Text()); ok {
			rules = append(rules, r)
		}
	}
	return rules, sc.Err()
}

func parseIgnoreLine(line string) (ignoreRule, bool) {
	line = strings.TrimRight(line, " \t\r")
	if line == "" || strings.HasPrefix(line, "#") {
		return ignoreRule{}, false
	}
	var r ignoreRule
	if strings.HasPrefix(line, "!") {
		r.negate = true
		line = line[1:]
	}
	line = strings.TrimPrefix(line, `\`)
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	anchored := strings.Contains(line, "/")
	line = strings.TrimPrefix(line, "/")
	if line == "" || !doublestar.ValidatePattern(line) {
		return ignoreRule{}, false
	}
	if anchored {
		r.glob = line
	} else {
		r.glob = "**/" + line
	}
	return r, true
}

// ignored reports whether rel is excluded. A file under an excluded
// directory is excluded regardless of later negations, as in git.
func (rs ignoreRules) ignored(rel string, isDir bool) bool {
	if len(rs) == 0 {
		return false
	}
	rel = strings.TrimSuffix(rel, "/")
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if rs.match(dir, true) {
			return true
		}
	}
	return rs.match(rel, isDir)
}

func (rs ignoreRules) match(rel string, isDir bool) bool {
	ignored := false
	for _, r := range rs {
		if r.dirOnly && !isDir {
			continue
		}
		if ok, _ := doublestar.Match(r.glob, rel); ok {
			ignored = !r.negate
		}
	}
	return ignored
}
