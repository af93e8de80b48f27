package pipeline

import (
	"path"
	"sort"
	"strings"

	"github.com/reviewpilot/reviewpilot/internal/githubapi"
)

// Structure holds signals derived from the repository file tree. It
// feeds both the analysis prompt and the deterministic scoring.
type Structure struct {
	ProjectType    string         `json:"project_type"`
	DirectoryCount int            `json:"directory_count"`
	FileCount      int            `json:"file_count"`
	FilesByType    map[string]int `json:"files_by_type"`
	HasTests       bool           `json:"has_tests"`
	HasDocs        bool           `json:"has_docs"`
	HasCI          bool           `json:"has_ci"`
	DefaultBranch  string         `json:"default_branch"`
}

// analyzeStructure summarizes a file tree.
func analyzeStructure(tree []githubapi.TreeEntry, defaultBranch string) Structure {
	s := Structure{
		FilesByType:   map[string]int{},
		DefaultBranch: defaultBranch,
	}

	for _, e := range tree {
		if e.Type == "tree" {
			s.DirectoryCount++
			lower := strings.ToLower(e.Path)
			if strings.Contains(lower, "test") || strings.Contains(lower, "spec") {
				s.HasTests = true
			}
			if strings.Contains(lower, "doc") {
				s.HasDocs = true
			}
			continue
		}

		s.FileCount++
		base := path.Base(e.Path)
		ext := strings.TrimPrefix(path.Ext(base), ".")
		if ext == "" {
			ext = "unknown"
		}
		s.FilesByType[ext]++

		switch {
		case strings.EqualFold(base, "README.md"):
			s.HasDocs = true
		case base == "Dockerfile", base == "Jenkinsfile", base == ".gitlab-ci.yml":
			s.HasCI = true
		case strings.HasPrefix(e.Path, ".github/"):
			s.HasCI = true
		}
		if strings.HasSuffix(strings.TrimSuffix(base, path.Ext(base)), "_test") {
			s.HasTests = true
		}
	}

	s.ProjectType = detectProjectType(s.FilesByType)
	return s
}

// detectProjectType guesses the dominant stack from file extensions.
func detectProjectType(filesByType map[string]int) string {
	switch {
	case filesByType["go"] > 0:
		return "Go"
	case filesByType["py"] > 0:
		return "Python"
	case filesByType["ts"] > 0 || filesByType["js"] > 0:
		return "JavaScript/TypeScript"
	case filesByType["rs"] > 0:
		return "Rust"
	case filesByType["java"] > 0:
		return "Java"
	case filesByType["c"] > 0 || filesByType["cc"] > 0 || filesByType["cpp"] > 0 || filesByType["h"] > 0:
		return "C/C++"
	case filesByType["html"] > 0 || filesByType["css"] > 0:
		return "Web"
	default:
		return "Unknown"
	}
}

// rankValue orders files for fetching: manifests and docs first, then
// source, then everything else. Lower ranks first.
func rankValue(p string) int {
	base := strings.ToLower(path.Base(p))
	switch base {
	case "readme.md", "readme":
		return 0
	case "go.mod", "package.json", "pyproject.toml", "cargo.toml",
		"requirements.txt", "makefile", "dockerfile", "setup.py":
		return 1
	}
	switch strings.TrimPrefix(path.Ext(base), ".") {
	case "md":
		return 2
	case "go", "py", "ts", "js", "rs", "java", "rb", "c", "cc", "cpp", "h":
		return 3
	case "yaml", "yml", "toml", "json":
		return 4
	default:
		return 5
	}
}

// binaryExts are never fetched.
var binaryExts = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "ico": true,
	"pdf": true, "zip": true, "gz": true, "tar": true, "jar": true,
	"exe": true, "so": true, "dylib": true, "dll": true, "bin": true,
	"woff": true, "woff2": true, "ttf": true, "lock": true, "sum": true,
}

// rankFiles selects the fetch-worthy subset of a tree in priority order.
// Oversized repositories are sampled down to maxFiles candidates; size
// alone never fails a fetch.
func rankFiles(tree []githubapi.TreeEntry, maxFiles int) (selected []githubapi.TreeEntry, sampled bool) {
	var files []githubapi.TreeEntry
	for _, e := range tree {
		if e.Type != "blob" {
			continue
		}
		ext := strings.TrimPrefix(path.Ext(e.Path), ".")
		if binaryExts[strings.ToLower(ext)] {
			continue
		}
		files = append(files, e)
	}

	sort.SliceStable(files, func(i, j int) bool {
		ri, rj := rankValue(files[i].Path), rankValue(files[j].Path)
		if ri != rj {
			return ri < rj
		}
		if files[i].Size != files[j].Size {
			return files[i].Size < files[j].Size
		}
		return files[i].Path < files[j].Path
	})

	if len(files) > maxFiles {
		return files[:maxFiles], true
	}
	return files, false
}
