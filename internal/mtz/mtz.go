// Package mtz reads and writes merged MTZ reflection files, enough to copy
// a subset of columns into a new file.
package mtz

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const (
	magic        = "MTZ "
	recordLen    = 80
	dataOffset   = 80 // reflection data starts at word 21
	endOfHeaders = "MTZENDOFHEADERS"
)

var ErrFormat = errors.New("not an MTZ file")

// Column is one reflection column.
type Column struct {
	Label     string
	Type      string // single-letter column type code
	Min, Max  float32
	DatasetID int
}

// Dataset groups columns measured together.
type Dataset struct {
	ID         int
	Project    string
	Crystal    string
	Name       string
	Cell       [6]float32
	Wavelength float32
}

// File is an in-memory MTZ file. Data is row-major: NRefl rows of
// len(Columns) values.
type File struct {
	Title    string
	Cell     [6]float32
	Columns  []Column
	Datasets []Dataset
	NRefl    int
	Data     []float32
	History  []string

	// Records are header lines copied through unchanged (symmetry,
	// sort order, resolution, missing-value marker).
	Records []string
}

// ColumnIndex returns the indices of every column labelled label.
func (f *File) ColumnIndex(label string) []int {
	var out []int
	for i, c := range f.Columns {
		if c.Label == label {
			out = append(out, i)
		}
	}
	return out
}

// Dataset returns the dataset with the given id.
func (f *File) Dataset(id int) (Dataset, bool) {
	for _, d := range f.Datasets {
		if d.ID == id {
			return d, true
		}
	}
	return Dataset{}, false
}

// Value returns the value of column col in reflection row.
func (f *File) Value(row, col int) float32 {
	return f.Data[row*len(f.Columns)+col]
}

// ReadFile reads an MTZ file from disk.
func ReadFile(p string) (*File, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	f, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return f, nil
}

func byteOrder(stamp byte) (binary.ByteOrder, error) {
	switch stamp >> 4 {
	case 4:
		return binary.LittleEndian, nil
	case 1:
		return binary.BigEndian, nil
	}
	return nil, fmt.Errorf("%w: unsupported machine stamp %#x", ErrFormat, stamp)
}

// Decode parses the bytes of an MTZ file.
func Decode(data []byte) (*File, error) {
	if len(data) < dataOffset || string(data[:4]) != magic {
		return nil, ErrFormat
	}
	order, err := byteOrder(data[8])
	if err != nil {
		return nil, err
	}
	hdrWord := int64(int32(order.Uint32(data[4:8])))
	if hdrWord == -1 {
		hdrWord = int64(order.Uint64(data[12:20]))
	}
	hdr := (hdrWord - 1) * 4
	if hdr < dataOffset || hdr > int64(len(data)) {
		return nil, fmt.Errorf("%w: header offset %d out of range", ErrFormat, hdr)
	}

	f := &File{}
	var ncol int
	if err := f.parseHeader(data[hdr:], &ncol); err != nil {
		return nil, err
	}
	if ncol != len(f.Columns) {
		return nil, fmt.Errorf("%w: NCOL %d but %d COLUMN records", ErrFormat, ncol, len(f.Columns))
	}

	n := f.NRefl * ncol
	if int64(dataOffset+n*4) > hdr {
		return nil, fmt.Errorf("%w: reflection data overruns header", ErrFormat)
	}
	f.Data = make([]float32, n)
	for i := range f.Data {
		f.Data[i] = math.Float32frombits(order.Uint32(data[dataOffset+i*4:]))
	}
	return f, nil
}

func (f *File) parseHeader(raw []byte, ncol *int) error {
	index := map[int]int{}
	dataset := func(id int) *Dataset {
		i, ok := index[id]
		if !ok {
			i = len(f.Datasets)
			index[id] = i
			f.Datasets = append(f.Datasets, Dataset{ID: id})
		}
		return &f.Datasets[i]
	}

	inHistory := false
	for off := 0; off+recordLen <= len(raw); off += recordLen {
		rec := strings.TrimRight(string(raw[off:off+recordLen]), " \x00")
		key, rest, _ := strings.Cut(rec, " ")
		rest = strings.TrimSpace(rest)
		fields := strings.Fields(rest)

		if inHistory && key != endOfHeaders && key != "MTZBATS" {
			f.History = append(f.History, rec)
			continue
		}
		switch key {
		case endOfHeaders:
			return nil
		case "MTZHIST":
			inHistory = true
		case "MTZBATS", "BH", "TLSB", "TLSD":
			inHistory = false
		case "VERS", "END", "NDIF":
		case "TITLE":
			f.Title = rest
		case "NCOL":
			if len(fields) < 2 {
				return fmt.Errorf("%w: bad NCOL record", ErrFormat)
			}
			*ncol, _ = strconv.Atoi(fields[0])
			f.NRefl, _ = strconv.Atoi(fields[1])
		case "CELL":
			f.Cell = parseCell(fields)
		case "COLUMN", "COLUMNS":
			if len(fields) < 2 {
				return fmt.Errorf("%w: bad COLUMN record", ErrFormat)
			}
			c := Column{Label: fields[0], Type: fields[1]}
			if len(fields) >= 4 {
				c.Min = parseFloat(fields[2])
				c.Max = parseFloat(fields[3])
			}
			if len(fields) >= 5 {
				c.DatasetID, _ = strconv.Atoi(fields[4])
			}
			f.Columns = append(f.Columns, c)
		case "COLSRC", "COLGRP":
		case "PROJECT", "CRYSTAL", "DATASET":
			id, name := idAndName(rest)
			d := dataset(id)
			switch key {
			case "PROJECT":
				d.Project = name
			case "CRYSTAL":
				d.Crystal = name
			default:
				d.Name = name
			}
		case "DCELL":
			if len(fields) >= 7 {
				id, _ := strconv.Atoi(fields[0])
				dataset(id).Cell = parseCell(fields[1:])
			}
		case "DWAVEL":
			if len(fields) >= 2 {
				id, _ := strconv.Atoi(fields[0])
				dataset(id).Wavelength = parseFloat(fields[1])
			}
		default:
			f.Records = append(f.Records, rec)
		}
	}
	return fmt.Errorf("%w: missing %s", ErrFormat, endOfHeaders)
}

func idAndName(rest string) (int, string) {
	rest = strings.TrimSpace(rest)
	idText, name, _ := strings.Cut(rest, " ")
	id, _ := strconv.Atoi(idText)
	return id, strings.TrimSpace(name)
}

func parseFloat(s string) float32 {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return float32(math.NaN())
	}
	return float32(v)
}

func parseCell(fields []string) [6]float32 {
	var c [6]float32
	for i := 0; i < 6 && i < len(fields); i++ {
		c[i] = parseFloat(fields[i])
	}
	return c
}

// WriteFile writes f to p in little-endian byte order.
func WriteFile(p string, f *File) error {
	var buf bytes.Buffer
	if err := f.Encode(&buf); err != nil {
		return err
	}
	return os.WriteFile(p, buf.Bytes(), 0o644)
}

// Encode writes the file image to w.
func (f *File) Encode(w io.Writer) error {
	ncol := len(f.Columns)
	if len(f.Data) != f.NRefl*ncol {
		return fmt.Errorf("mtz: %d values for %d reflections of %d columns", len(f.Data), f.NRefl, ncol)
	}
	f.updateRanges()

	var buf bytes.Buffer
	buf.WriteString(magic)
	hdrWord := uint32(dataOffset/4 + len(f.Data) + 1)
	_ = binary.Write(&buf, binary.LittleEndian, hdrWord)
	buf.Write([]byte{0x44, 0x41, 0x00, 0x00})
	buf.Write(make([]byte, dataOffset-buf.Len()))
	for _, v := range f.Data {
		_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(v))
	}

	rec := func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		if len(line) > recordLen {
			line = line[:recordLen]
		}
		buf.WriteString(line)
		buf.WriteString(strings.Repeat(" ", recordLen-len(line)))
	}

	rec("VERS MTZ:V1.1")
	rec("TITLE %s", f.Title)
	rec("NCOL %8d %12d %8d", ncol, f.NRefl, 0)
	rec("CELL  %10.4f%10.4f%10.4f%10.4f%10.4f%10.4f", f.Cell[0], f.Cell[1], f.Cell[2], f.Cell[3], f.Cell[4], f.Cell[5])
	for _, r := range f.Records {
		rec("%s", r)
	}
	rec("NDIF %8d", len(f.Datasets))
	for _, d := range f.Datasets {
		rec("PROJECT %7d %s", d.ID, d.Project)
		rec("CRYSTAL %7d %s", d.ID, d.Crystal)
		rec("DATASET %7d %s", d.ID, d.Name)
		rec("DCELL %9d %10.4f%10.4f%10.4f%10.4f%10.4f%10.4f", d.ID, d.Cell[0], d.Cell[1], d.Cell[2], d.Cell[3], d.Cell[4], d.Cell[5])
		rec("DWAVEL %8d %10.5f", d.ID, d.Wavelength)
	}
	for _, c := range f.Columns {
		rec("COLUMN %-30s %1s %17.4f %17.4f %4d", c.Label, c.Type, c.Min, c.Max, c.DatasetID)
	}
	rec("END")
	if len(f.History) > 0 {
		rec("MTZHIST %3d", len(f.History))
		for _, h := range f.History {
			rec("%s", h)
		}
	}
	rec(endOfHeaders)

	_, err := w.Write(buf.Bytes())
	return err
}

func (f *File) updateRanges() {
	ncol := len(f.Columns)
	for c := range f.Columns {
		lo, hi := float32(math.Inf(1)), float32(math.Inf(-1))
		for r := 0; r < f.NRefl; r++ {
			v := f.Data[r*ncol+c]
			if math.IsNaN(float64(v)) {
				continue
			}
			lo = min(lo, v)
			hi = max(hi, v)
		}
		if lo > hi {
			lo, hi = 0, 0
		}
		f.Columns[c].Min, f.Columns[c].Max = lo, hi
	}
}
