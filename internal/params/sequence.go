package params

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Sequence is the first record of a FASTA or PIR file.
type Sequence struct {
	Identifier  string
	Description string
	Residues    string
}

// ReadSequenceFile parses the first sequence in p. Files without a header
// line are read as a bare sequence named after the file.
func ReadSequenceFile(p string) (Sequence, error) {
	f, err := os.Open(p)
	if err != nil {
		return Sequence{}, fmt.Errorf("open sequence file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var (
		seq     Sequence
		residue strings.Builder
		header  bool
		pir     bool
		lineNo  int
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if header {
				break // second record
			}
			header = true
			lineNo = 0
			head := strings.TrimSpace(line[1:])
			// PIR: >P1;identifier followed by a description line.
			if len(head) > 3 && head[2] == ';' {
				pir = true
				head = head[3:]
			}
			seq.Identifier, seq.Description, _ = strings.Cut(head, " ")
			seq.Description = strings.TrimSpace(seq.Description)
			continue
		}
		lineNo++
		if pir && lineNo == 1 {
			seq.Description = line
			continue
		}
		for _, r := range line {
			if unicode.IsLetter(r) {
				residue.WriteRune(unicode.ToUpper(r))
			}
		}
	}
	if err := sc.Err(); err != nil {
		return Sequence{}, fmt.Errorf("read sequence file: %w", err)
	}
	seq.Residues = residue.String()
	if seq.Residues == "" {
		return Sequence{}, fmt.Errorf("no sequence found in %s", p)
	}
	if seq.Identifier == "" {
		seq.Identifier = strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
	}
	return seq, nil
}

// SanitizeName replaces characters that are unsafe in sequence names.
func SanitizeName(s string) string {
	return strings.NewReplacer(" ", "_", "|", "_", "/", "_", ":", "_").Replace(s)
}

// DetectPolymer classifies residues as DNA, RNA or PROTEIN.
func DetectPolymer(residues string) string {
	only := func(set string) bool {
		for _, r := range residues {
			if !strings.ContainsRune(set, r) {
				return false
			}
		}
		return residues != ""
	}
	switch {
	case only("ACGTN"):
		return "DNA"
	case only("ACGUN"):
		return "RNA"
	}
	return "PROTEIN"
}

// AvailableName returns p, or the first p-with-counter that does not exist.
// Everything after the first dot of the base name is kept as the extension,
// so model.scene.xml becomes model_1.scene.xml.
func AvailableName(p string) string {
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	dir, file := filepath.Split(p)
	stem, ext := file, ""
	if i := strings.Index(file, "."); i > 0 {
		stem, ext = file[:i], file[i:]
	}
	for n := 1; ; n++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
