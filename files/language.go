package files

import (
	"path"
	"strings"
)

const defaultLanguage = "plaintext"

// languages maps file extensions to editor syntax identifiers.
var languages = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".mjs":  "javascript",
	".jsx":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".json": "json",
	".md":   "markdown",
	".html": "html",
	".htm":  "html",
	".css":  "css",
	".c":    "c",
	".h":    "cpp",
	".cc":   "cpp",
	".cpp":  "cpp",
	".hpp":  "cpp",
	".ino":  "cpp",
	".java": "java",
	".go":   "go",
	".rs":   "rust",
	".sh":   "shell",
	".yml":  "yaml",
	".yaml": "yaml",
	".xml":  "xml",
	".sql":  "sql",
	".txt":  "plaintext",
}

// LanguageFor infers the editor language from the extension of p.
func LanguageFor(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if lang, ok := languages[ext]; ok {
		return lang
	}
	return defaultLanguage
}
