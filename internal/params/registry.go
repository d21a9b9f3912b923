package params

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Def is the schema description an entity is built from.
type Def struct {
	TypeName string
	Choices  []string
	Only     bool
	Default  string
	Item     *Def // list element type
}

// Factory builds an entity of one class.
type Factory func(r *Registry, name string, def Def) Entity

// Registry maps class names to factories.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	warned    map[string]bool
	log       *zap.Logger
}

// NewRegistry returns a registry preloaded with the known classes.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		factories: make(map[string]Factory),
		warned:    make(map[string]bool),
		log:       logger,
	}
	registerBuiltins(r)
	return r
}

// Register installs f for class, replacing any earlier factory.
func (r *Registry) Register(class string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[class] = f
}

// Known reports whether class has a factory.
func (r *Registry) Known(class string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[class]
	return ok
}

// New builds an entity for def. Unknown classes become string scalars.
func (r *Registry) New(name string, def Def) Entity {
	r.mu.Lock()
	f, ok := r.factories[def.TypeName]
	if !ok && !r.warned[def.TypeName] {
		r.warned[def.TypeName] = true
		r.log.Warn("unknown parameter class, treating as string",
			zap.String("class", def.TypeName),
			zap.String("entity", name))
	}
	r.mu.Unlock()
	if !ok {
		return scalarFactory(KindString)(r, name, def)
	}
	return f(r, name, def)
}

func scalarFactory(kind ScalarKind) Factory {
	return func(_ *Registry, name string, def Def) Entity {
		return NewScalar(name, def.TypeName, kind).
			WithChoices(def.Choices, def.Only).
			WithDefault(def.Default)
	}
}

func fileFactory(kind FileKind) Factory {
	return func(_ *Registry, name string, def Def) Entity {
		return NewFileRef(name, def.TypeName, kind)
	}
}

// listFactory builds lists of a fixed element class; CList takes its
// element type from the schema.
func listFactory(itemClass string) Factory {
	return func(r *Registry, name string, def Def) Entity {
		item := Def{TypeName: itemClass}
		if itemClass == "" {
			item = Def{TypeName: "CString"}
			if def.Item != nil {
				item = *def.Item
			}
		}
		return NewList(name, def.TypeName, item.TypeName, func(n string) Entity {
			return r.New(n, item)
		})
	}
}

// recordFactory builds a composite whose fields are given as id:class.
func recordFactory(fields ...string) Factory {
	return func(r *Registry, name string, def Def) Entity {
		rec := NewRecord(name, def.TypeName)
		for _, f := range fields {
			id, class, _ := strings.Cut(f, ":")
			rec.Add(id, r.New(rec.ChildName(id), Def{TypeName: class}))
		}
		return rec
	}
}

func registerBuiltins(r *Registry) {
	for _, c := range []string{
		"CString", "COneWord", "CText", "CUUID", "CFilePath", "CProjectName",
		"CJobTitle", "CSpaceGroup", "CSequenceString", "CHostName",
	} {
		r.factories[c] = scalarFactory(KindString)
	}
	for _, c := range []string{"CInt", "CJobNumber"} {
		r.factories[c] = scalarFactory(KindInt)
	}
	for _, c := range []string{"CFloat", "CWavelength", "CCellLength", "CCellAngle"} {
		r.factories[c] = scalarFactory(KindFloat)
	}
	r.factories["CBoolean"] = scalarFactory(KindBool)

	files := map[string]FileKind{
		"CDataFile":          FileGeneric,
		"CI2XmlDataFile":     FileGeneric,
		"CXmlDataFile":       FileGeneric,
		"CDictDataFile":      FileGeneric,
		"CTLSDataFile":       FileGeneric,
		"CMapDataFile":       FileGeneric,
		"CPdbDataFile":       FileModel,
		"CSeqDataFile":       FileSequence,
		"CAsuDataFile":       FileAsuContent,
		"CMiniMtzDataFile":   FileMiniMtz,
		"CObsDataFile":       FileMiniMtz,
		"CPhsDataFile":       FileMiniMtz,
		"CFreeRDataFile":     FileMiniMtz,
		"CMapCoeffsDataFile": FileMiniMtz,
		"CMtzDataFile":       FileMtz,
		"CUnmergedDataFile":  FileMtz,
	}
	for c, k := range files {
		r.factories[c] = fileFactory(k)
	}

	r.factories["CDict"] = func(_ *Registry, name string, def Def) Entity {
		return NewDict(name, def.TypeName)
	}
	r.factories["CAtomSelection"] = func(_ *Registry, name string, def Def) Entity {
		return NewSelection(name, def.TypeName)
	}

	r.factories["CList"] = listFactory("")
	r.factories["CImportUnmergedList"] = listFactory("CImportUnmerged")
	r.factories["CAsuContentSeqList"] = listFactory("CAsuContentSeq")
	r.factories["CEnsembleList"] = listFactory("CEnsemble")
	r.factories["CPdbEnsembleItemList"] = listFactory("CPdbEnsembleItem")

	r.factories["CAsuContentSeq"] = func(_ *Registry, name string, _ Def) Entity {
		return newAsuContentSeq(name)
	}
	r.factories["CAsuContent"] = func(_ *Registry, name string, _ Def) Entity {
		return newAsuContent(name)
	}
	r.factories["CEnsemble"] = recordFactory(
		"label:CString", "number:CInt", "use:CBoolean", "pdbItemList:CPdbEnsembleItemList")
	r.factories["CPdbEnsembleItem"] = recordFactory(
		"structure:CPdbDataFile", "identity_to_target:CFloat", "rms_to_target:CFloat")
	r.factories["CImportUnmerged"] = recordFactory(
		"file:CUnmergedDataFile", "cell:CCell", "wavelength:CWavelength",
		"crystalName:CString", "dataset:CString", "excludeSelection:CString")
	r.factories["CCell"] = recordFactory(
		"a:CCellLength", "b:CCellLength", "c:CCellLength",
		"alpha:CCellAngle", "beta:CCellAngle", "gamma:CCellAngle")
}

// Polymer types of an ASU sequence entry.
var polymerTypes = []string{"PROTEIN", "DNA", "RNA"}

func newAsuContentSeq(name string) *Record {
	rec := NewRecord(name, "CAsuContentSeq")
	rec.Add("nCopies", NewScalar(rec.ChildName("nCopies"), "CInt", KindInt))
	rec.Add("sequence", NewScalar(rec.ChildName("sequence"), "CSequenceString", KindString))
	rec.Add("name", NewScalar(rec.ChildName("name"), "COneWord", KindString))
	rec.Add("description", NewScalar(rec.ChildName("description"), "CString", KindString))
	rec.Add("polymerType", NewScalar(rec.ChildName("polymerType"), "CString", KindString).
		WithChoices(polymerTypes, true))
	return rec
}

func newAsuContent(name string) *Record {
	rec := NewRecord(name, "CAsuContent")
	seqName := rec.ChildName(FieldSeqList)
	rec.Add(FieldSeqList, NewList(seqName, "CAsuContentSeqList", "CAsuContentSeq", func(n string) Entity {
		return newAsuContentSeq(n)
	}))
	return rec
}
