// Package attachments turns files and directories named on the command line into
// file parts of a user message.
package attachments

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/denormal/go-gitignore"
)

// Filter decides which files of a walked directory are attached. Files named
// explicitly only go through the size limit.
type Filter struct {
	MaxFileSize       int64            `yaml:"max-file-size,omitempty"`
	IncludeExts       []string         `yaml:"include-exts,omitempty"`
	ExcludeExts       []string         `yaml:"exclude-exts,omitempty"`
	ExcludeDirs       []string         `yaml:"exclude-dirs,omitempty"`
	ExcludeMatchPaths []*regexp.Regexp `yaml:"-"`
	DisableGitIgnore  bool             `yaml:"disable-gitignore,omitempty"`
	FilterBinaryFiles bool             `yaml:"filter-binary-files,omitempty"`

	DefaultExcludedDirs           []string         `yaml:"-"`
	DefaultExcludedMatchFilenames []*regexp.Regexp `yaml:"-"`
}

type FilterOption func(*Filter)

func NewFilter(options ...FilterOption) *Filter {
	f := &Filter{
		MaxFileSize:                   5 * 1024 * 1024,
		FilterBinaryFiles:             true,
		DefaultExcludedDirs:           DefaultExcludedDirs,
		DefaultExcludedMatchFilenames: DefaultExcludedMatchFilenames,
	}
	for _, option := range options {
		option(f)
	}
	return f
}

func WithMaxFileSize(size int64) FilterOption {
	return func(f *Filter) {
		f.MaxFileSize = size
	}
}

func WithIncludeExts(exts []string) FilterOption {
	return func(f *Filter) {
		f.IncludeExts = exts
	}
}

func WithExcludeExts(exts []string) FilterOption {
	return func(f *Filter) {
		f.ExcludeExts = exts
	}
}

func WithExcludeDirs(dirs []string) FilterOption {
	return func(f *Filter) {
		f.ExcludeDirs = dirs
	}
}

func WithExcludeMatchPaths(patterns []string) FilterOption {
	return func(f *Filter) {
		for _, p := range patterns {
			f.ExcludeMatchPaths = append(f.ExcludeMatchPaths, regexp.MustCompile(p))
		}
	}
}

func WithDisableGitIgnore(disable bool) FilterOption {
	return func(f *Filter) {
		f.DisableGitIgnore = disable
	}
}

func WithFilterBinaryFiles(filter bool) FilterOption {
	return func(f *Filter) {
		f.FilterBinaryFiles = filter
	}
}

var (
	DefaultExcludedDirs = []string{
		".git", ".svn", "node_modules", "vendor", ".history", ".idea", ".vscode", "build", "dist",
	}

	DefaultExcludedMatchFilenames = []*regexp.Regexp{
		regexp.MustCompile(`.*-lock\.json$`),
		regexp.MustCompile(`go\.sum$`),
		regexp.MustCompile(`yarn\.lock$`),
	}
)

// loadGitIgnore reads root/.gitignore. A missing file means nothing is ignored.
func (f *Filter) loadGitIgnore(root string) gitignore.GitIgnore {
	if f.DisableGitIgnore {
		return nil
	}
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	ig, err := gitignore.NewFromFile(path)
	if err != nil {
		return nil
	}
	return ig
}

func (f *Filter) isExcludedDir(name string) bool {
	for _, d := range f.DefaultExcludedDirs {
		if name == d {
			return true
		}
	}
	for _, d := range f.ExcludeDirs {
		if name == d {
			return true
		}
	}
	return false
}

// includeFile reports whether a file found while walking is attached. rel is the
// path relative to the walked root.
func (f *Filter) includeFile(path, rel string, size int64, ig gitignore.GitIgnore) bool {
	if ig != nil {
		if m := ig.Relative(rel, false); m != nil && m.Ignore() {
			return false
		}
	}
	if size > f.MaxFileSize {
		return false
	}

	ext := strings.ToLower(filepath.Ext(path))
	if len(f.IncludeExts) > 0 {
		included := false
		for _, e := range f.IncludeExts {
			if ext == strings.ToLower(e) {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}
	for _, e := range f.ExcludeExts {
		if ext == strings.ToLower(e) {
			return false
		}
	}

	base := filepath.Base(path)
	for _, re := range f.DefaultExcludedMatchFilenames {
		if re.MatchString(base) {
			return false
		}
	}
	for _, re := range f.ExcludeMatchPaths {
		if re.MatchString(rel) {
			return false
		}
	}

	if f.FilterBinaryFiles && !isMedia(ext) {
		binary, err := isBinaryFile(path)
		if err == nil && binary {
			return false
		}
	}
	return true
}

// isMedia lists binary formats chat endpoints accept as attachments.
func isMedia(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".pdf":
		return true
	}
	return false
}

func isBinaryFile(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	buffer := make([]byte, 512)
	n, err := file.Read(buffer)
	if err != nil && err != io.EOF {
		return false, err
	}
	return bytes.IndexByte(buffer[:n], 0) != -1, nil
}
