package index

import (
	"path"
	"strings"

	"github.com/Aman-CERP/fusesearch/internal/store"
)

var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".rs":    "rust",
	".rb":    "ruby",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".proto": "protobuf",
	".md":    "markdown",
	".mdx":   "markdown",
	".rst":   "rst",
	".txt":   "text",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".ini":   "ini",
	".xml":   "xml",
	".mod":   "gomod",
}

var languageByName = map[string]string{
	"dockerfile": "dockerfile",
	"makefile":   "makefile",
	"go.mod":     "gomod",
	"go.sum":     "gomod",
}

var kindByLanguage = map[string]store.Kind{
	"markdown":   store.KindDocs,
	"rst":        store.KindDocs,
	"text":       store.KindText,
	"":           store.KindText,
	"yaml":       store.KindConfig,
	"json":       store.KindConfig,
	"toml":       store.KindConfig,
	"ini":        store.KindConfig,
	"xml":        store.KindConfig,
	"gomod":      store.KindConfig,
	"dockerfile": store.KindConfig,
	"makefile":   store.KindConfig,
}

// DetectLanguage maps a file path to a language name, or "" when unknown.
func DetectLanguage(p string) string {
	base := strings.ToLower(path.Base(p))
	if lang, ok := languageByName[base]; ok {
		return lang
	}
	return languageByExt[path.Ext(base)]
}

// DetectKind maps a language to its content kind. Unlisted languages are code.
func DetectKind(language string) store.Kind {
	if k, ok := kindByLanguage[language]; ok {
		return k
	}
	return store.KindCode
}
