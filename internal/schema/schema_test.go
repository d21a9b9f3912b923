package schema

import (
	"errors"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/agentic-research/i2run/api"
)

func include(relPath, baseName string) string {
	return `<file><CI2XmlDataFile><project>CCP4I2_TOP</project><relPath>` + relPath +
		`</relPath><baseName>` + baseName + `</baseName></CI2XmlDataFile></file>`
}

func doc(body string) string {
	return `<?xml version="1.0"?>
<ccp4i2>
  <ccp4i2_header><function>DEF</function></ccp4i2_header>
  <ccp4i2_body id="task">` + body + `</ccp4i2_body>
</ccp4i2>`
}

func content(id, class string) string {
	return `<content id="` + id + `"><className>` + class + `</className><qualifiers/></content>`
}

func writeFS(t *testing.T, files map[string]string) billy.Filesystem {
	t.Helper()
	fsys := memfs.New()
	for name, data := range files {
		require.NoError(t, util.WriteFile(fsys, name, []byte(data), 0o644))
	}
	return fsys
}

func ids(tr *Tree, hs []Handle) []string {
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = tr.PathOf(h).String()
	}
	return out
}

func TestParse_ContentQualifiersAndSubItem(t *testing.T) {
	src := doc(`
<container id="inputData">
  <content id="MODE">
    <className>CString</className>
    <qualifiers>
      <toolTip>Refinement mode</toolTip>
      <enumerators>RIGID,TLS,FULL</enumerators>
      <onlyEnumerators>True</onlyEnumerators>
      <default>FULL</default>
    </qualifiers>
  </content>
  <content id="SEQS">
    <className>CList</className>
    <qualifiers/>
    <subItem><className>CSeqDataFile</className><qualifiers/></subItem>
  </content>
</container>`)

	tr, err := Parse(strings.NewReader(src), "t.def.xml")
	require.NoError(t, err)

	mode, ok := tr.Resolve(Path{"inputData", "MODE"})
	require.True(t, ok)
	n := tr.Node(mode)
	assert.Equal(t, api.KindContent, n.Kind)
	assert.Equal(t, "CString", n.TypeName)
	assert.Equal(t, "Refinement mode", n.ToolTip)
	assert.Equal(t, []string{"RIGID", "TLS", "FULL"}, n.Choices)
	assert.True(t, n.OnlyEnumerators())
	assert.Equal(t, "FULL", n.Qualifiers["default"])

	seqs, ok := tr.Resolve(ParsePath("inputData.SEQS"))
	require.True(t, ok)
	item := tr.ItemType(seqs)
	require.NotEqual(t, Nil, item)
	assert.Equal(t, api.KindTypeDescriptor, tr.Node(item).Kind)
	assert.Equal(t, "CSeqDataFile", tr.Node(item).TypeName)

	// Type descriptors are not content.
	assert.Equal(t, []string{"inputData.MODE", "inputData.SEQS"}, ids(tr, tr.Contents()))
}

func TestParse_MissingBody(t *testing.T) {
	_, err := Parse(strings.NewReader(`<ccp4i2><ccp4i2_header/></ccp4i2>`), "bad.def.xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingBody)
}

func TestLoad_NoIncludesIsIdentity(t *testing.T) {
	src := doc(`
<container id="inputData">` + content("XYZIN", "CPdbDataFile") + `</container>
<container id="outputData">` + content("XYZOUT", "CPdbDataFile") + `</container>`)
	fsys := writeFS(t, map[string]string{"tasks/a/a.def.xml": src})

	parsed, err := Parse(strings.NewReader(src), "tasks/a/a.def.xml")
	require.NoError(t, err)
	loaded, err := NewLoader(fsys, zaptest.NewLogger(t)).Load("tasks/a/a.def.xml")
	require.NoError(t, err)

	if diff := cmp.Diff(parsed, loaded, cmp.AllowUnexported(Tree{})); diff != "" {
		t.Errorf("merge changed a document without includes (-parsed +loaded):\n%s", diff)
	}
}

func TestLoad_LocalDefinitionWins(t *testing.T) {
	base := doc(`
<container id="inputData">` + content("x", "CString") + content("y", "CFloat") + `</container>
<container id="keywords">` + content("NCYC", "CInt") + `</container>
<container id="outputData">` + content("XYZOUT", "CPdbDataFile") + `</container>`)
	derived := doc(include("wrappers/base", "base.def.xml") + `
<container id="inputData">` + content("x", "CInt") + `</container>`)

	fsys := writeFS(t, map[string]string{
		"wrappers/base/base.def.xml":       base,
		"wrappers/derived/derived.def.xml": derived,
	})

	tr, err := NewLoader(fsys, zaptest.NewLogger(t)).Load("wrappers/derived/derived.def.xml")
	require.NoError(t, err)

	x, ok := tr.Resolve(Path{"inputData", "x"})
	require.True(t, ok)
	assert.Equal(t, "CInt", tr.Node(x).TypeName, "derived definition must win")

	assert.Equal(t, []string{"inputData.x", "inputData.y", "keywords.NCYC"}, ids(tr, tr.Contents()))

	_, ok = tr.Resolve(Path{"outputData"})
	assert.False(t, ok, "outputData is never inherited")
	_, ok = tr.Resolve(Path{"controlParameters"})
	assert.True(t, ok, "merge creates missing containers")

	tr.Walk(func(_ Handle, n *Node) bool {
		assert.NotEqual(t, api.KindInclude, n.Kind)
		return true
	})
}

func TestLoad_NestedAndDiamondIncludes(t *testing.T) {
	fsys := writeFS(t, map[string]string{
		"root.def.xml": doc(`<container id="inputData">` + content("R", "CString") +
			`<container id="sub">` + content("deep", "CInt") + `</container></container>`),
		"left.def.xml": doc(include("", "root.def.xml") +
			`<container id="controlParameters">` + content("L", "CBoolean") + `</container>`),
		"right.def.xml": doc(include("", "root.def.xml") +
			`<container id="keywords">` + content("Rt", "CFloat") + `</container>`),
		"top.def.xml": doc(include("", "left.def.xml") + include("/", "right.def.xml")),
	})

	tr, err := NewLoader(fsys, zaptest.NewLogger(t)).Load("top.def.xml")
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"inputData.R", "inputData.sub.deep", "controlParameters.L", "keywords.Rt"},
		ids(tr, tr.Contents()))
}

func TestLoad_RejectsCycles(t *testing.T) {
	fsys := writeFS(t, map[string]string{
		"a.def.xml": doc(include("", "b.def.xml")),
		"b.def.xml": doc(include("", "c.def.xml")),
		"c.def.xml": doc(include("", "a.def.xml")),
	})

	_, err := NewLoader(fsys, zaptest.NewLogger(t)).Load("a.def.xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCyclicInclude)

	var rerr *ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "a.def.xml", rerr.Path)
	assert.Equal(t, []string{"a.def.xml", "b.def.xml", "c.def.xml"}, rerr.Chain)
}

func TestLoad_MissingInclude(t *testing.T) {
	fsys := writeFS(t, map[string]string{
		"a.def.xml": doc(include("wrappers/gone", "gone.def.xml")),
	})

	_, err := NewLoader(fsys, nil).Load("a.def.xml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingDocument)
	assert.Contains(t, err.Error(), "wrappers/gone/gone.def.xml")
}

func TestPathOf_ResolveRoundTrip(t *testing.T) {
	src := doc(`
<container id="inputData">` + content("shared", "CString") + `
  <container id="subtaskA">` + content("shared", "CFloat") + `</container>
</container>
<container id="outputData">` + content("shared", "CString") + `</container>`)
	tr, err := Parse(strings.NewReader(src), "t")
	require.NoError(t, err)

	tr.Walk(func(h Handle, n *Node) bool {
		if h == tr.Body() {
			return true
		}
		got, ok := tr.Resolve(tr.PathOf(h))
		require.True(t, ok, tr.PathOf(h).String())
		assert.Equal(t, h, got)
		return true
	})

	nested, _ := tr.Resolve(ParsePath("inputData.subtaskA.shared"))
	out, _ := tr.Resolve(ParsePath("outputData.shared"))
	assert.False(t, tr.InOutputData(nested))
	assert.True(t, tr.InOutputData(out))
	assert.Len(t, tr.Descendants(tr.Body(), "shared"), 3)
}

func TestOutline(t *testing.T) {
	tr, err := Parse(strings.NewReader(doc(`<container id="inputData">`+content("A", "CInt")+`</container>`)), "t")
	require.NoError(t, err)
	assert.Equal(t, "body task\n  container inputData\n    content A CInt\n", tr.Outline())
}

func TestTaskIndex(t *testing.T) {
	fsys := writeFS(t, map[string]string{
		"DefXMLCache.json":                     `{"refmac": "/wrappers/refmac/script/refmac.def.xml"}`,
		"wrappers/refmac/script/refmac.def.xml": doc(""),
		"pipelines/phaser/phaser.def.xml":       doc(""),
	})

	idx, err := LoadTaskIndex(fsys, "DefXMLCache.json")
	require.NoError(t, err)

	p, ok := idx.Lookup("refmac")
	require.True(t, ok)
	assert.Equal(t, "wrappers/refmac/script/refmac.def.xml", p)

	_, ok = idx.Lookup("phaser")
	assert.False(t, ok)

	p, err = Locate(fsys, idx, "phaser")
	require.NoError(t, err)
	assert.Equal(t, "pipelines/phaser/phaser.def.xml", p)

	_, err = Locate(fsys, idx, "nosuchtask")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestTaskIndex_MissingCache(t *testing.T) {
	idx, err := LoadTaskIndex(memfs.New(), "DefXMLCache.json")
	require.NoError(t, err)
	_, ok := idx.Lookup("anything")
	assert.False(t, ok)
}
