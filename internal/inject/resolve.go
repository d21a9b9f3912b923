package inject

import (
	"strings"

	"github.com/agentic-research/i2run/api"
	"github.com/agentic-research/i2run/internal/params"
	"github.com/agentic-research/i2run/internal/schema"
)

// ExpandTokens joins the tokens of a name=value entry that the shell split
// on spaces: a token containing "=" starts a new entry, following tokens
// without "=" are appended to it with a space. Tokens before the first
// name=value entry stay separate.
func ExpandTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	appending := false
	for _, tok := range tokens {
		switch {
		case strings.Contains(tok, "="):
			out = append(out, tok)
			appending = true
		case appending:
			out[len(out)-1] += " " + tok
		default:
			out = append(out, tok)
		}
	}
	return out
}

// ExpandOccurrences applies ExpandTokens to every occurrence.
func ExpandOccurrences(groups [][]string) [][]string {
	out := make([][]string, len(groups))
	for i, g := range groups {
		out[i] = ExpandTokens(g)
	}
	return out
}

// ResolveFlag maps a flag name to its content node. All but the last dotted
// segment name containers below the body; the last names a content node
// anywhere below them that is not an output.
func ResolveFlag(t *schema.Tree, flag string) (schema.Handle, error) {
	segs := strings.Split(flag, ".")
	cur := t.Body()
	for _, seg := range segs[:len(segs)-1] {
		next := t.Child(cur, api.KindContainer, seg)
		if next == schema.Nil {
			return schema.Nil, &PathError{Flag: flag, Segment: seg, Err: ErrUnknownSegment}
		}
		cur = next
	}

	last := segs[len(segs)-1]
	var found []schema.Handle
	for _, h := range t.Descendants(cur, last) {
		if !t.InOutputData(h) {
			found = append(found, h)
		}
	}
	switch len(found) {
	case 0:
		return schema.Nil, &PathError{Flag: flag, Segment: last, Err: ErrUnknownSegment}
	case 1:
		return found[0], nil
	}
	return schema.Nil, &PathError{Flag: flag, Segment: last, Err: ErrAmbiguous}
}

// EntityAt returns the live entity at a schema path.
func EntityAt(tree *params.Tree, p schema.Path) (params.Entity, error) {
	e, ok := tree.At(p)
	if !ok {
		return nil, &PathError{Flag: p.String(), Segment: p.Last(), Err: ErrUnknownSegment}
	}
	return e, nil
}
