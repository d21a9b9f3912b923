package cliargs

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

// Parse reads args against fs. Unlike pflag's own parser, a derived flag
// consumes every following token up to the next "--" token, so values such
// as "-1.XYZOUT" or "key=value" are never mistaken for flags. Fixed flags
// take exactly one token (bool flags take none). Non-flag tokens are
// returned as positional arguments.
func Parse(fs *pflag.FlagSet, args []string) ([]string, error) {
	return parse(fs, args, false)
}

// ParseKnown is Parse that skips unknown flags and their tokens. It is used
// to read fixed flags before the derived ones exist.
func ParseKnown(fs *pflag.FlagSet, args []string) ([]string, error) {
	return parse(fs, args, true)
}

func isFlagToken(tok string) bool {
	return strings.HasPrefix(tok, "--") && len(tok) > 2
}

func parse(fs *pflag.FlagSet, args []string, lenient bool) ([]string, error) {
	var positional []string
	for i := 0; i < len(args); i++ {
		tok := args[i]
		switch {
		case tok == "--":
			return append(positional, args[i+1:]...), nil
		case tok == "-h" || tok == "--help":
			return positional, pflag.ErrHelp
		case !isFlagToken(tok):
			positional = append(positional, tok)
			continue
		}

		name, inline, hasInline := strings.Cut(tok[2:], "=")
		f := fs.Lookup(name)
		if f == nil {
			if !lenient {
				return positional, fmt.Errorf("unknown flag: --%s", name)
			}
			for i+1 < len(args) && !isFlagToken(args[i+1]) && args[i+1] != "--" {
				i++
			}
			continue
		}

		if v, ok := f.Value.(*occurrenceValue); ok {
			v.begin()
			n := 0
			if hasInline {
				if err := fs.Set(name, inline); err != nil {
					return positional, err
				}
				n++
			}
			for i+1 < len(args) && !isFlagToken(args[i+1]) && args[i+1] != "--" {
				i++
				if err := fs.Set(name, args[i]); err != nil {
					return positional, err
				}
				n++
			}
			if n == 0 {
				return positional, fmt.Errorf("flag --%s: expected at least one argument", name)
			}
			continue
		}

		switch {
		case hasInline:
			if err := fs.Set(name, inline); err != nil {
				return positional, err
			}
		case f.NoOptDefVal != "":
			if err := fs.Set(name, f.NoOptDefVal); err != nil {
				return positional, err
			}
		case i+1 < len(args):
			i++
			if err := fs.Set(name, args[i]); err != nil {
				return positional, err
			}
		default:
			return positional, fmt.Errorf("flag needs an argument: --%s", name)
		}
	}
	return positional, nil
}
