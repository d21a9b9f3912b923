package params

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/agentic-research/i2run/internal/schema"
)

const treeDoc = `<ccp4i2><ccp4i2_body id="refmac">
<container id="inputData">
  <content id="XYZIN"><className>CPdbDataFile</className></content>
  <content id="ASUIN"><className>CAsuDataFile</className></content>
  <content id="SEQIN"><className>CList</className><subItem><className>CSeqDataFile</className></subItem></content>
  <content id="ENSEMBLES"><className>CEnsembleList</className></content>
</container>
<container id="controlParameters">
  <content id="NCYC"><className>CInt</className><qualifiers><default>10</default></qualifiers></content>
  <content id="WEIGHT"><className>CFloat</className></content>
  <content id="MODE"><className>CString</className><qualifiers><enumerators>RIGID,TLS</enumerators><onlyEnumerators>True</onlyEnumerators></qualifiers></content>
  <content id="EXTRA"><className>CDict</className></content>
  <content id="MYSTERY"><className>CFrobnicator</className></content>
</container>
<container id="outputData">
  <content id="XYZOUT"><className>CPdbDataFile</className></content>
</container>
</ccp4i2_body></ccp4i2>`

func newTestTree(t *testing.T, logger *zap.Logger) *Tree {
	t.Helper()
	st, err := schema.Parse(strings.NewReader(treeDoc), "refmac.def.xml")
	require.NoError(t, err)
	return NewTree(st, NewRegistry(logger))
}

func at(t *testing.T, tr *Tree, path string) Entity {
	t.Helper()
	e, ok := tr.At(schema.ParsePath(path))
	require.True(t, ok, path)
	return e
}

func TestNewTree_Variants(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tr := newTestTree(t, zap.New(core))

	assert.Equal(t, "refmac", tr.Task)
	assert.Equal(t, VariantFile, at(t, tr, "inputData.XYZIN").Variant())
	assert.Equal(t, VariantList, at(t, tr, "inputData.SEQIN").Variant())
	assert.Equal(t, VariantDict, at(t, tr, "controlParameters.EXTRA").Variant())
	assert.Equal(t, VariantFile, at(t, tr, "outputData.XYZOUT").Variant())

	xyz := at(t, tr, "inputData.XYZIN").(*FileRef)
	assert.Equal(t, FileModel, xyz.Kind())
	require.NotNil(t, xyz.Selection())
	assert.Equal(t, "container.inputData.XYZIN", xyz.Name())

	mystery := at(t, tr, "controlParameters.MYSTERY")
	assert.Equal(t, VariantScalar, mystery.Variant())
	assert.Equal(t, 1, logs.FilterMessage("unknown parameter class, treating as string").Len())

	ncyc := at(t, tr, "controlParameters.NCYC").(*Scalar)
	assert.False(t, ncyc.IsSet())
	assert.Equal(t, "10", ncyc.Default())
}

func TestScalar_TypedSet(t *testing.T) {
	tr := newTestTree(t, zaptest.NewLogger(t))

	ncyc := at(t, tr, "controlParameters.NCYC")
	require.NoError(t, ncyc.Set("12"))
	assert.Equal(t, int64(12), ncyc.(*Scalar).Value())
	assert.Error(t, ncyc.Set("twelve"))

	w := at(t, tr, "controlParameters.WEIGHT")
	require.NoError(t, w.Set("-0.5"))
	assert.Equal(t, "-0.5", w.(*Scalar).String())

	mode := at(t, tr, "controlParameters.MODE")
	require.NoError(t, mode.Set("TLS"))
	assert.Error(t, mode.Set("SIDEWAYS"))
	assert.Equal(t, "TLS", mode.(*Scalar).String(), "rejected value leaves the old one")

	b := NewScalar("flag", "CBoolean", KindBool)
	require.NoError(t, b.Set("True"))
	assert.Equal(t, true, b.Value())
	require.NoError(t, b.Set("no"))
	assert.Equal(t, "False", b.String())
}

func TestList_GrowUsesItemFactory(t *testing.T) {
	tr := newTestTree(t, zaptest.NewLogger(t))

	seqs := at(t, tr, "inputData.SEQIN").(*List)
	seqs.Grow(3)
	require.Equal(t, 3, seqs.Len())
	assert.Equal(t, "container.inputData.SEQIN[2]", seqs.At(2).Name())
	assert.Equal(t, FileSequence, seqs.At(0).(*FileRef).Kind())

	ens := at(t, tr, "inputData.ENSEMBLES").(*List)
	e := ens.Append()
	items, ok := e.Field("pdbItemList")
	require.True(t, ok)
	items.(*List).Grow(2)
	structure, ok := items.(*List).At(1).Field("structure")
	require.True(t, ok)
	assert.Equal(t, "container.inputData.ENSEMBLES[0].pdbItemList[1].structure", structure.Name())
}

func TestDict_Ordered(t *testing.T) {
	d := NewDict("d", "CDict")
	d.Put("beta", "2")
	d.Put("alpha", "1.0")
	d.Put("beta", "3")
	assert.Equal(t, []string{"beta", "alpha"}, d.Keys())
	assert.Equal(t, map[string]string{"alpha": "1.0", "beta": "3"}, d.Map())
	assert.ErrorIs(t, d.Set("x"), ErrNotAssignable)
}

func TestWriteXML_OnlySetValues(t *testing.T) {
	tr := newTestTree(t, zaptest.NewLogger(t))
	require.NoError(t, at(t, tr, "controlParameters.NCYC").Set("5"))
	xyz := at(t, tr, "inputData.XYZIN").(*FileRef)
	xyz.SetFullPath("/data/model.pdb")
	xyz.Selection().SetText("A/")
	at(t, tr, "controlParameters.EXTRA").(*Dict).Put("alpha", "1.0")

	var buf bytes.Buffer
	require.NoError(t, tr.WriteXML(&buf, Header{Function: "PARAMS", TaskName: "refmac"}))
	out := buf.String()

	assert.Contains(t, out, "<NCYC>5</NCYC>")
	assert.Contains(t, out, "<baseName>model.pdb</baseName>")
	assert.Contains(t, out, "<text>A/</text>")
	assert.Contains(t, out, `<item key="alpha">1.0</item>`)
	assert.NotContains(t, out, "WEIGHT")
	assert.NotContains(t, out, "outputData")
}

func TestAsuContent_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "x"+AsuContentSuffix)
	require.NoError(t, CreateAsuContentFile(p))

	f := NewFileRef("asu", "CAsuDataFile", FileAsuContent)
	f.SetFullPath(p)
	require.NoError(t, f.LoadContent())
	assert.Equal(t, 0, f.SeqList().Len())

	rec := f.SeqList().Append().(*Record)
	require.NoError(t, SetSeqEntry(rec, 1, Sequence{Identifier: "sp|P1|X Y", Description: "lysozyme", Residues: "KVFGR"}))
	require.NoError(t, f.SaveContent())

	g := NewFileRef("asu", "CAsuDataFile", FileAsuContent)
	g.SetFullPath(p)
	require.NoError(t, g.LoadContent())
	require.Equal(t, 1, g.SeqList().Len())

	entry := g.SeqList().At(0).(*Record)
	get := func(id string) string {
		e, _ := entry.Field(id)
		return e.(*Scalar).String()
	}
	assert.Equal(t, "1", get("nCopies"))
	assert.Equal(t, "KVFGR", get("sequence"))
	assert.Equal(t, "sp_P1_X_Y", get("name"))
	assert.Equal(t, "PROTEIN", get("polymerType"))
}

func TestReadSequenceFile(t *testing.T) {
	dir := t.TempDir()
	fasta := filepath.Join(dir, "a.fasta")
	require.NoError(t, os.WriteFile(fasta, []byte(">sp|P00698|LYSC_CHICK Lysozyme C\nKVFGRCELAA\nAMKRHGLDNY\n>second\nAAAA\n"), 0o644))
	pir := filepath.Join(dir, "b.pir")
	require.NoError(t, os.WriteFile(pir, []byte(">P1;gene5\nGene 5 protein\nMIKVEIKPSQ*\n"), 0o644))
	bare := filepath.Join(dir, "dna.seq")
	require.NoError(t, os.WriteFile(bare, []byte("acgt acgt\n"), 0o644))

	s, err := ReadSequenceFile(fasta)
	require.NoError(t, err)
	assert.Equal(t, Sequence{Identifier: "sp|P00698|LYSC_CHICK", Description: "Lysozyme C", Residues: "KVFGRCELAAAMKRHGLDNY"}, s)

	s, err = ReadSequenceFile(pir)
	require.NoError(t, err)
	assert.Equal(t, Sequence{Identifier: "gene5", Description: "Gene 5 protein", Residues: "MIKVEIKPSQ"}, s)

	s, err = ReadSequenceFile(bare)
	require.NoError(t, err)
	assert.Equal(t, "dna", s.Identifier)
	assert.Equal(t, "DNA", DetectPolymer(s.Residues))
}

func TestDetectPolymer(t *testing.T) {
	assert.Equal(t, "DNA", DetectPolymer("ACGTTGCA"))
	assert.Equal(t, "RNA", DetectPolymer("ACGUUGCA"))
	assert.Equal(t, "PROTEIN", DetectPolymer("MKVLAT"))
	assert.Equal(t, "PROTEIN", DetectPolymer(""))
}

func TestAvailableName(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "view.scene.xml")
	assert.Equal(t, p, AvailableName(p))

	require.NoError(t, os.WriteFile(p, nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "view_1.scene.xml"), AvailableName(p))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "view_1.scene.xml"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "view_2.scene.xml"), AvailableName(p))
}

func TestFiles_ByParam(t *testing.T) {
	tr := newTestTree(t, zaptest.NewLogger(t))
	at(t, tr, "inputData.XYZIN").(*FileRef).SetFullPath("/a.pdb")
	seqs := at(t, tr, "inputData.SEQIN").(*List)
	seqs.Grow(2)
	seqs.At(0).(*FileRef).SetFullPath("/a.fasta")
	seqs.At(1).(*FileRef).SetFullPath("/b.fasta")

	files := tr.Files("inputData")
	assert.Len(t, files["XYZIN"], 1)
	assert.Len(t, files["SEQIN"], 2)
	assert.Empty(t, files["ASUIN"])
}
