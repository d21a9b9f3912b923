package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// TaskIndex maps task names to definition document paths.
type TaskIndex struct {
	root any
}

// LoadTaskIndex reads the task cache at p. A missing cache yields an empty
// index so lookups fall through to a filesystem search.
func LoadTaskIndex(fsys billy.Filesystem, p string) (*TaskIndex, error) {
	data, err := util.ReadFile(fsys, clean(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &TaskIndex{}, nil
		}
		return nil, fmt.Errorf("read task index: %w", err)
	}
	root, err := oj.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse task index %s: %w", p, err)
	}
	return &TaskIndex{root: root}, nil
}

// Lookup returns the document path for task, relative to the installation
// root. Cached paths carry a leading separator which is dropped.
func (x *TaskIndex) Lookup(task string) (string, bool) {
	if x == nil || x.root == nil {
		return "", false
	}
	for _, v := range jp.C(task).Get(x.root) {
		if s, ok := v.(string); ok && s != "" {
			return clean(s), true
		}
	}
	return "", false
}

// SearchDefFile walks fsys for <task>.def.xml and returns the first match.
func SearchDefFile(fsys billy.Filesystem, task string) (string, error) {
	want := task + ".def.xml"
	var found string
	errFound := errors.New("found")
	err := util.Walk(fsys, "/", func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			// Unreadable directories are skipped, not fatal.
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() && strings.HasPrefix(info.Name(), ".") && p != "/" {
			return filepath.SkipDir
		}
		if !info.IsDir() && info.Name() == want {
			found = clean(p)
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", fmt.Errorf("search for %s: %w", want, err)
	}
	if found == "" {
		return "", fmt.Errorf("%w: %s", ErrUnknownTask, task)
	}
	return found, nil
}

// Locate finds the definition document for task, consulting the index first.
func Locate(fsys billy.Filesystem, index *TaskIndex, task string) (string, error) {
	if p, ok := index.Lookup(task); ok {
		if _, err := fsys.Stat(p); err == nil {
			return p, nil
		}
	}
	return SearchDefFile(fsys, task)
}
