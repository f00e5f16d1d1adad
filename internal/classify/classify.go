// Package classify maps repository file paths to source-language tags and
// filters file trees down to convertible candidates.
package classify

import (
	"path"
	"sort"
	"strings"
)

// extensions is the static extension-to-language table. Multiple extensions
// may map to the same language.
var extensions = map[string]string{
	".sh":     "shell",
	".bash":   "shell",
	".ps1":    "powershell",
	".ts":     "typescript",
	".js":     "javascript",
	".go":     "go",
	".rs":     "rust",
	".rb":     "ruby",
	".php":    "php",
	".java":   "java",
	".scala":  "scala",
	".kt":     "kotlin",
	".swift":  "swift",
	".cs":     "csharp",
	".cpp":    "cpp",
	".cc":     "cpp",
	".c":      "c",
	".pl":     "perl",
	".r":      "r",
	".lua":    "lua",
	".dart":   "dart",
	".groovy": "groovy",
	".py":     "python",
}

// targetExtensions maps a target language to the extension converted files
// are written with.
var targetExtensions = map[string]string{
	"python":     ".py",
	"go":         ".go",
	"javascript": ".js",
	"typescript": ".ts",
	"ruby":       ".rb",
	"rust":       ".rs",
}

// File is a path with its blob size.
type File struct {
	Path string
	Size int64
}

// Candidate is a file selected for conversion.
type Candidate struct {
	Path     string
	Language string
}

// Limits bounds the candidate selection.
type Limits struct {
	MaxFileSize int64
	MaxFiles    int
}

// LanguageOf returns the source-language tag for a path, or "" when the
// extension is not in the table.
func LanguageOf(p string) string {
	ext := strings.ToLower(path.Ext(p))
	return extensions[ext]
}

// SupportedLanguages returns the source-language tags in sorted order.
func SupportedLanguages() []string {
	seen := make(map[string]struct{}, len(extensions))
	out := make([]string, 0, len(extensions))
	for _, lang := range extensions {
		if _, ok := seen[lang]; ok {
			continue
		}
		seen[lang] = struct{}{}
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// TargetExtension returns the file extension for a target language, falling
// back to ".txt" for unknown targets so converted output is never dropped.
func TargetExtension(targetLanguage string) string {
	if ext, ok := targetExtensions[targetLanguage]; ok {
		return ext
	}
	return ".txt"
}

// IsSupportedTarget reports whether the target language has a known extension.
func IsSupportedTarget(targetLanguage string) bool {
	_, ok := targetExtensions[targetLanguage]
	return ok
}

// Classify selects convertible candidates from files. Requested filters the
// result to the given source languages (empty means all); files already in
// the target language, files over the size limit, and files with unknown
// extensions are excluded. The result is sorted lexically by path and capped
// at MaxFiles, so selection is deterministic. An empty result is not an
// error.
func Classify(files []File, requested []string, targetLanguage string, limits Limits) []Candidate {
	wanted := make(map[string]struct{}, len(requested))
	for _, lang := range requested {
		wanted[strings.ToLower(strings.TrimSpace(lang))] = struct{}{}
	}
	out := make([]Candidate, 0, len(files))
	for _, f := range files {
		lang := LanguageOf(f.Path)
		if lang == "" || lang == targetLanguage {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[lang]; !ok {
				continue
			}
		}
		if limits.MaxFileSize > 0 && f.Size > limits.MaxFileSize {
			continue
		}
		out = append(out, Candidate{Path: f.Path, Language: lang})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if limits.MaxFiles > 0 && len(out) > limits.MaxFiles {
		out = out[:limits.MaxFiles]
	}
	return out
}

// ConvertedPath derives the output path for a converted file, replacing the
// source extension with the target language's.
func ConvertedPath(p, targetLanguage string) string {
	ext := path.Ext(p)
	target := TargetExtension(targetLanguage)
	if ext == "" {
		return p + target
	}
	return strings.TrimSuffix(p, ext) + target
}
