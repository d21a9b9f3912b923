package schema

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/go-git/go-billy/v5"
	"go.uber.org/zap"

	"github.com/agentic-research/i2run/api"
)

// Loader reads definition documents from a filesystem rooted at the task
// installation and resolves their includes.
type Loader struct {
	fs  billy.Filesystem
	log *zap.Logger

	// ids numbers each document path so the active include chain can be
	// tracked as a bitmap.
	ids    map[string]uint32
	active *roaring.Bitmap
	chain  []string
}

// NewLoader returns a Loader reading from fsys.
func NewLoader(fsys billy.Filesystem, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		fs:     fsys,
		log:    logger,
		ids:    make(map[string]uint32),
		active: roaring.New(),
	}
}

// Load parses the document at p and merges every include into it.
func (l *Loader) Load(p string) (*Tree, error) {
	l.active.Clear()
	l.chain = l.chain[:0]
	return l.load(clean(p))
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(p)), "/")
}

func (l *Loader) docID(p string) uint32 {
	id, ok := l.ids[p]
	if !ok {
		id = uint32(len(l.ids))
		l.ids[p] = id
	}
	return id
}

func (l *Loader) load(p string) (*Tree, error) {
	id := l.docID(p)
	if l.active.Contains(id) {
		return nil, &ResolutionError{Path: p, Chain: append([]string(nil), l.chain...), Err: ErrCyclicInclude}
	}
	l.active.Add(id)
	l.chain = append(l.chain, p)
	defer func() {
		l.active.Remove(id)
		l.chain = l.chain[:len(l.chain)-1]
	}()

	f, err := l.fs.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ResolutionError{Path: p, Chain: append([]string(nil), l.chain[:len(l.chain)-1]...), Err: ErrMissingDocument}
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	defer func() { _ = f.Close() }()

	t, err := Parse(f, p)
	if err != nil {
		return nil, err
	}

	// Snapshot: merging may append containers to the body.
	includes := []Handle{}
	for _, c := range t.nodes[t.body].Children {
		if t.nodes[c].Kind == api.KindInclude {
			includes = append(includes, c)
		}
	}

	for _, inc := range includes {
		ref := t.nodes[inc].Include
		base, err := l.load(clean(ref.Path()))
		if err != nil {
			return nil, err
		}
		l.merge(t, base)
		t.detach(inc)
		l.log.Debug("merged include",
			zap.String("document", p),
			zap.String("base", base.source))
	}
	return t, nil
}

// merge copies the inheritable containers of base into t. Children already
// present in t (same kind and id) are kept; outputData is never inherited.
func (l *Loader) merge(t, base *Tree) {
	for _, id := range api.MergedContainers {
		dst := t.ensureContainer(id)
		src := base.Child(base.body, api.KindContainer, id)
		if src == Nil {
			continue
		}
		for _, c := range base.nodes[src].Children {
			n := &base.nodes[c]
			if n.Kind != api.KindContent && n.Kind != api.KindContainer {
				continue
			}
			if t.Child(dst, n.Kind, n.ID) != Nil {
				l.log.Debug("keeping local definition",
					zap.String("container", id),
					zap.String("id", n.ID))
				continue
			}
			t.graft(dst, base, c)
		}
	}
}

func (t *Tree) ensureContainer(id string) Handle {
	if h := t.Child(t.body, api.KindContainer, id); h != Nil {
		return h
	}
	return t.add(t.body, Node{Kind: api.KindContainer, ID: id})
}
