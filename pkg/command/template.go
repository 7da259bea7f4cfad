package command

import (
	"strings"

	"github.com/cuemby/havoc/pkg/types"
)

// Template variable forms
const (
	refPrefix     = "$FI_"
	argPrefix     = "$FI_ARG_"
	addInfoPrefix = "$FI_ADD_INFO_"
	stackRef      = "$FI_STACK"
)

// Vars are the values a template may reference
type Vars struct {
	// Args resolves $FI_ARG_<key>
	Args map[string]string

	// Info resolves $FI_ADD_INFO_<key>
	Info *types.TroubleShootingInfo

	// Stack resolves $FI_STACK; nil when no command ran before this one
	Stack *string
}

// Resolve substitutes every reference in template. Substituted values are
// not scanned again. Any "$FI_" token that does not resolve is reported in
// a MissingReferenceError.
func Resolve(template string, vars Vars) (string, error) {
	var out strings.Builder
	var missing []string

	rest := template
	for {
		i := strings.Index(rest, refPrefix)
		if i < 0 {
			out.WriteString(rest)
			break
		}
		out.WriteString(rest[:i])
		rest = rest[i:]

		ref, value, ok := resolveRef(rest, vars)
		if !ok {
			missing = append(missing, ref)
		} else {
			out.WriteString(value)
		}
		rest = rest[len(ref):]
	}

	if len(missing) > 0 {
		return "", &MissingReferenceError{Template: template, References: missing}
	}
	return out.String(), nil
}

// resolveRef parses the reference at the start of s and returns the token
// text it spans.
func resolveRef(s string, vars Vars) (ref, value string, ok bool) {
	switch {
	case strings.HasPrefix(s, addInfoPrefix):
		key := scanKey(s[len(addInfoPrefix):])
		ref = s[:len(addInfoPrefix)+len(key)]
		if key == "" || vars.Info == nil {
			return ref, "", false
		}
		value, ok = vars.Info.Get(key)
		return ref, value, ok

	case strings.HasPrefix(s, argPrefix):
		key := scanKey(s[len(argPrefix):])
		ref = s[:len(argPrefix)+len(key)]
		if key == "" {
			return ref, "", false
		}
		value, ok = vars.Args[key]
		return ref, value, ok

	case strings.HasPrefix(s, stackRef) && scanKey(s[len(stackRef):]) == "":
		if vars.Stack == nil {
			return stackRef, "", false
		}
		return stackRef, *vars.Stack, true
	}

	// Unknown form: report the whole identifier
	return s[:len(refPrefix)+len(scanKey(s[len(refPrefix):]))], "", false
}

func scanKey(s string) string {
	n := 0
	for n < len(s) {
		c := s[n]
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			n++
			continue
		}
		break
	}
	return s[:n]
}
