package secret

import (
	"fmt"
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"
)

var bracedVar = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// dollarMark stands in for an escaped "$$" while expanding.
const dollarMark = "\x00apikit-dollar\x00"

// LookupFunc reports the value of a variable and whether it is set.
type LookupFunc func(name string) (string, bool)

// ExpandEnvStrict expands variables in s from the process environment.
// See ExpandStrict.
func ExpandEnvStrict(s string) (string, error) {
	return ExpandStrict(s, os.LookupEnv)
}

// ExpandStrict expands $VAR and ${VAR} references in s through lookup.
// A braced reference to an unset variable fails with ErrMissingEnv naming
// every missing variable once, sorted. A bare $VAR that is unset expands
// to "". "$$" yields a literal "$".
func ExpandStrict(s string, lookup LookupFunc) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}
	s = strings.ReplaceAll(s, "$$", dollarMark)

	if missing := missingVars(s, lookup); len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, strings.Join(missing, ", "))
	}

	s = os.Expand(s, func(name string) string {
		v, _ := lookup(name)
		return v
	})
	return strings.ReplaceAll(s, dollarMark, "$"), nil
}

func missingVars(s string, lookup LookupFunc) []string {
	unset := make(map[string]struct{})
	for _, m := range bracedVar.FindAllStringSubmatch(s, -1) {
		if _, ok := lookup(m[1]); !ok {
			unset[m[1]] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(unset))
}
