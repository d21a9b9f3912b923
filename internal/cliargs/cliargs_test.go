package cliargs

import (
	"errors"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/agentic-research/i2run/internal/schema"
)

const testDoc = `<ccp4i2><ccp4i2_body id="t">
<container id="inputData">
  <content id="XYZIN"><className>CPdbDataFile</className><qualifiers><toolTip>Model</toolTip></qualifiers></content>
  <content id="SEQIN"><className>CList</className><qualifiers/><subItem><className>CSeqDataFile</className></subItem></content>
  <content id="HKLOUT"><className>CMtzDataFile</className><qualifiers/></content>
</container>
<container id="A"><content id="shared"><className>CFloat</className><qualifiers/></content></container>
<container id="B"><content id="shared"><className>CFloat</className><qualifiers/></content></container>
<container id="controlParameters">
  <content id="MODE"><className>CString</className><qualifiers><enumerators>RIGID,TLS</enumerators></qualifiers></content>
  <content id="NCYC"><className>CInt</className><qualifiers/></content>
  <content id="noDb"><className>CBoolean</className><qualifiers/></content>
</container>
<container id="outputData">
  <content id="RESULT"><className>CString</className><qualifiers/></content>
  <content id="HKLOUT"><className>CMtzDataFile</className><qualifiers/></content>
</container>
</ccp4i2_body></ccp4i2>`

func testTree(t *testing.T) *schema.Tree {
	t.Helper()
	tr, err := schema.Parse(strings.NewReader(testDoc), "t.def.xml")
	require.NoError(t, err)
	return tr
}

func flags(s *Set) []string {
	var out []string
	for _, spec := range s.Specs() {
		out = append(out, spec.Flag)
	}
	return out
}

func fixedFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("i2run", pflag.ContinueOnError)
	fs.String("projectName", "", "")
	fs.Bool("noDb", false, "")
	return fs
}

func TestBuild_FlagNames(t *testing.T) {
	s := Build(testTree(t), zaptest.NewLogger(t))

	assert.Equal(t, []string{
		"XYZIN", "SEQIN", "inputData.HKLOUT",
		"A.shared", "B.shared",
		"MODE", "NCYC", "noDb",
	}, flags(s))

	_, ok := s.Lookup("RESULT")
	assert.False(t, ok, "outputData content is never a flag")

	spec, ok := s.Lookup("XYZIN")
	require.True(t, ok)
	assert.Equal(t, "CPdbDataFile:Model", spec.Help)
	assert.Equal(t, schema.Path{"inputData", "XYZIN"}, spec.Path)

	seq, _ := s.Lookup("SEQIN")
	assert.True(t, seq.Multi)
	mode, _ := s.Lookup("MODE")
	assert.False(t, mode.Multi)
	assert.Equal(t, []string{"RIGID", "TLS"}, mode.Choices)
}

func TestRegister_ConflictIsSkipped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := Build(testTree(t), zap.New(core))
	fs := fixedFlags()

	errs := s.Register(fs)
	require.Len(t, errs, 1)

	var conflict *FlagConflictError
	require.True(t, errors.As(errs[0], &conflict))
	assert.Equal(t, "noDb", conflict.Flag)
	assert.Equal(t, 1, logs.FilterMessage("skipping conflicting flag").Len())

	// Everything else still registered.
	assert.NotNil(t, fs.Lookup("A.shared"))
	assert.NotNil(t, fs.Lookup("NCYC"))
}

func TestParse_Occurrences(t *testing.T) {
	s := Build(testTree(t), nil)
	fs := fixedFlags()
	s.Register(fs)

	pos, err := Parse(fs, []string{
		"refmac",
		"--SEQIN", "a.fasta",
		"--NCYC", "-5",
		"--projectName", "p1",
		"--SEQIN", "seqFile=/tmp/b c.fasta", "extra",
		"--XYZIN", "fileUse=-1.XYZOUT",
		"--SEQIN", "c.fasta",
		"--NCYC", "10",
		"--noDb",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"refmac"}, pos)

	groups, ok := Occurrences(fs, "SEQIN")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"a.fasta"}, {"seqFile=/tmp/b c.fasta", "extra"}, {"c.fasta"}}, groups)

	groups, ok = Occurrences(fs, "NCYC")
	require.True(t, ok)
	assert.Equal(t, [][]string{{"10"}}, groups, "later occurrence replaces earlier")

	groups, _ = Occurrences(fs, "XYZIN")
	assert.Equal(t, [][]string{{"fileUse=-1.XYZOUT"}}, groups)

	name, _ := fs.GetString("projectName")
	assert.Equal(t, "p1", name)
	noDb, _ := fs.GetBool("noDb")
	assert.True(t, noDb)

	_, ok = Occurrences(fs, "MODE")
	assert.False(t, ok)

	var supplied []string
	for _, sup := range s.Supplied(fs) {
		supplied = append(supplied, sup.Flag)
	}
	assert.Equal(t, []string{"XYZIN", "SEQIN", "NCYC"}, supplied)
}

func TestParse_Choices(t *testing.T) {
	s := Build(testTree(t), nil)
	fs := fixedFlags()
	s.Register(fs)

	_, err := Parse(fs, []string{"t", "--MODE", "TLS"})
	require.NoError(t, err)

	_, err = Parse(fs, []string{"t", "--MODE", "SIDEWAYS"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid choice")
}

func TestParse_Errors(t *testing.T) {
	s := Build(testTree(t), nil)
	fs := fixedFlags()
	s.Register(fs)

	_, err := Parse(fs, []string{"t", "--NOPE", "1"})
	assert.ErrorContains(t, err, "unknown flag")

	_, err = Parse(fs, []string{"t", "--NCYC", "--MODE", "TLS"})
	assert.ErrorContains(t, err, "expected at least one argument")

	_, err = Parse(fs, []string{"t", "-h"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}

func TestParseKnown_SkipsDerivedFlags(t *testing.T) {
	fs := fixedFlags()
	pos, err := ParseKnown(fs, []string{"refmac", "--NCYC", "10", "--noDb", "--projectName=p2", "--XYZIN", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"refmac"}, pos)

	name, _ := fs.GetString("projectName")
	assert.Equal(t, "p2", name)
}
