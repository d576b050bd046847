package mcp

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ProjectInfo identifies the indexed project.
type ProjectInfo struct {
	Name     string `json:"name"`
	RootPath string `json:"root_path"`
	Type     string `json:"type"`
}

var (
	goModuleRe     = regexp.MustCompile(`^module\s+(\S+)`)
	pyprojectName  = regexp.MustCompile(`^\s*name\s*=\s*["']([^"']+)["']`)
	projectProbers = []struct {
		kind  string
		probe func(root string) string
	}{
		{"go", goModuleName},
		{"node", packageJSONName},
		{"python", pyprojectProjectName},
	}
)

// DetectProject names the project at root from go.mod, package.json or
// pyproject.toml, in that order, falling back to the directory name.
func DetectProject(root string) ProjectInfo {
	for _, p := range projectProbers {
		if name := p.probe(root); name != "" {
			return ProjectInfo{Name: name, RootPath: root, Type: p.kind}
		}
	}
	return ProjectInfo{Name: filepath.Base(root), RootPath: root, Type: "unknown"}
}

// goModuleName returns the last element of the module path.
func goModuleName(root string) string {
	var name string
	scanLines(filepath.Join(root, "go.mod"), func(line string) bool {
		if m := goModuleRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			name = filepath.Base(m[1])
			return false
		}
		return true
	})
	return name
}

// packageJSONName strips the scope from "@org/name".
func packageJSONName(root string) string {
	data, err := os.ReadFile(filepath.Join(root, "package.json"))
	if err != nil {
		return ""
	}
	var pkg struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(data, &pkg) != nil {
		return ""
	}
	if i := strings.LastIndex(pkg.Name, "/"); strings.HasPrefix(pkg.Name, "@") && i >= 0 {
		return pkg.Name[i+1:]
	}
	return pkg.Name
}

// pyprojectProjectName reads name from the [project] table.
func pyprojectProjectName(root string) string {
	var name string
	inProject := false
	scanLines(filepath.Join(root, "pyproject.toml"), func(line string) bool {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") {
			inProject = trimmed == "[project]"
			return true
		}
		if m := pyprojectName.FindStringSubmatch(line); inProject && m != nil {
			name = m[1]
			return false
		}
		return true
	})
	return name
}

// scanLines calls fn for each line of path until fn returns false. Missing
// files are ignored.
func scanLines(path string, fn func(string) bool) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if !fn(sc.Text()) {
			return
		}
	}
}
