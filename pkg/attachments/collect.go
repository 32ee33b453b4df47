package attachments

import (
	"encoding/base64"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/denormal/go-gitignore"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

// Collect returns one file part per attached file, in the order the paths were
// given and, inside a directory, in lexical order. Directories are walked and
// filtered; files named directly are always attached unless they exceed the size limit.
func Collect(paths []string, f *Filter) ([]uimessage.FilePart, error) {
	if f == nil {
		f = NewFilter()
	}
	var out []uimessage.FilePart
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "attach %s", p)
		}
		if !info.IsDir() {
			if info.Size() > f.MaxFileSize {
				return nil, errors.Errorf("attach %s: %d bytes exceeds the %d byte limit", p, info.Size(), f.MaxFileSize)
			}
			part, err := filePart(p, filepath.Base(p))
			if err != nil {
				return nil, err
			}
			out = append(out, part)
			continue
		}

		parts, err := collectDir(p, f)
		if err != nil {
			return nil, err
		}
		out = append(out, parts...)
	}
	return out, nil
}

func collectDir(root string, f *Filter) ([]uimessage.FilePart, error) {
	ig := f.loadGitIgnore(root)
	var out []uimessage.FilePart
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (f.isExcludedDir(d.Name()) || ignoredDir(ig, rel)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !f.includeFile(path, rel, info.Size(), ig) {
			log.Debug().Str("component", "attachments").Str("path", path).Msg("excluding file")
			return nil
		}
		part, err := filePart(path, filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		out = append(out, part)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", root)
	}
	return out, nil
}

func ignoredDir(ig gitignore.GitIgnore, rel string) bool {
	if ig == nil {
		return false
	}
	m := ig.Relative(rel, true)
	return m != nil && m.Ignore()
}

// filePart inlines the file as a base64 data URL.
func filePart(path, name string) (uimessage.FilePart, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return uimessage.FilePart{}, errors.Wrapf(err, "read %s", path)
	}
	mt := mediaType(path, b)
	return uimessage.FilePart{
		MediaType: mt,
		Filename:  name,
		URL:       "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(b),
	}, nil
}

func mediaType(path string, content []byte) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mt != "" {
		return mt
	}
	return http.DetectContentType(content)
}
