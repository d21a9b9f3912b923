package params

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"time"
)

// AsuContentSuffix is the extension of ASU content files.
const AsuContentSuffix = ".asucontent.xml"

type asuDocument struct {
	XMLName xml.Name  `xml:"ccp4i2"`
	Header  asuHeader `xml:"ccp4i2_header"`
	Body    asuBody   `xml:"ccp4i2_body"`
}

type asuHeader struct {
	Function     string `xml:"function"`
	CreationTime string `xml:"creationTime,omitempty"`
}

type asuBody struct {
	SeqList asuSeqList `xml:"seqList"`
}

type asuSeqList struct {
	Items []asuSeq `xml:"CAsuContentSeq"`
}

type asuSeq struct {
	NCopies     string `xml:"nCopies,omitempty"`
	Sequence    string `xml:"sequence,omitempty"`
	Name        string `xml:"name,omitempty"`
	Description string `xml:"description,omitempty"`
	PolymerType string `xml:"polymerType,omitempty"`
}

var asuFields = []string{"nCopies", "sequence", "name", "description", "polymerType"}

// CreateAsuContentFile writes an empty ASU content document at p.
func CreateAsuContentFile(p string) error {
	return writeAsu(p, asuDocument{})
}

func writeAsu(p string, doc asuDocument) error {
	doc.Header.Function = "ASUCONTENT"
	doc.Header.CreationTime = time.Now().UTC().Format(time.RFC3339)
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode asu content: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	if err := os.WriteFile(p, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write asu content: %w", err)
	}
	return nil
}

// LoadContent replaces the sequence list of an ASU content file with the
// entries stored at its full path.
func (f *FileRef) LoadContent() error {
	seqs := f.SeqList()
	if seqs == nil {
		return fmt.Errorf("%s: not an ASU content file", f.name)
	}
	data, err := os.ReadFile(f.fullPath)
	if err != nil {
		return fmt.Errorf("read asu content: %w", err)
	}
	var doc asuDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse asu content %s: %w", f.fullPath, err)
	}

	seqs.Reset()
	for _, item := range doc.Body.SeqList.Items {
		rec := seqs.Append().(*Record)
		values := []string{item.NCopies, item.Sequence, item.Name, item.Description, item.PolymerType}
		for i, id := range asuFields {
			if values[i] == "" {
				continue
			}
			e, _ := rec.Field(id)
			if err := e.Set(values[i]); err != nil {
				return fmt.Errorf("%s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

// SaveContent writes the sequence list to the file's full path.
func (f *FileRef) SaveContent() error {
	seqs := f.SeqList()
	if seqs == nil {
		return fmt.Errorf("%s: not an ASU content file", f.name)
	}
	var doc asuDocument
	for _, e := range seqs.Items() {
		rec := e.(*Record)
		get := func(id string) string {
			v, _ := rec.Field(id)
			return v.(*Scalar).String()
		}
		doc.Body.SeqList.Items = append(doc.Body.SeqList.Items, asuSeq{
			NCopies:     get("nCopies"),
			Sequence:    get("sequence"),
			Name:        get("name"),
			Description: get("description"),
			PolymerType: get("polymerType"),
		})
	}
	return writeAsu(f.fullPath, doc)
}

// SetSeqEntry fills an ASU sequence record from a parsed sequence.
func SetSeqEntry(rec *Record, copies int, seq Sequence) error {
	values := map[string]string{
		"nCopies":     strconv.Itoa(copies),
		"sequence":    seq.Residues,
		"name":        SanitizeName(seq.Identifier),
		"description": seq.Description,
		"polymerType": DetectPolymer(seq.Residues),
	}
	for _, id := range asuFields {
		if values[id] == "" {
			continue
		}
		e, ok := rec.Field(id)
		if !ok {
			return fmt.Errorf("%s has no field %s", rec.Name(), id)
		}
		if err := e.Set(values[id]); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return nil
}
