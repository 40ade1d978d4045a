// Package params binds named values into a kernel's namespace before user
// code runs. Inject renders each value as a Python literal; Parse turns the
// CLI's --params string into a typed, ordered parameter list.
package params

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/sakif/pyrun-jupyter/internal/apperror"
)

// Param is one named value.
type Param struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Params is an insertion-ordered set of parameters. Bindings are emitted in
// this order.
type Params []Param

// Set adds a parameter, or replaces the value of an existing one in place.
func (p *Params) Set(name string, value any) {
	for i := range *p {
		if (*p)[i].Name == name {
			(*p)[i].Value = value
			return
		}
	}
	*p = append(*p, Param{Name: name, Value: value})
}

// Get returns the value bound to name.
func (p Params) Get(name string) (any, bool) {
	for _, param := range p {
		if param.Name == name {
			return param.Value, true
		}
	}
	return nil, false
}

// Map returns the parameters as a map, losing their order.
func (p Params) Map() map[string]any {
	m := make(map[string]any, len(p))
	for _, param := range p {
		m[param.Name] = param.Value
	}
	return m
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

var pythonKeywords = map[string]bool{
	"False": true, "None": true, "True": true, "and": true, "as": true, "assert": true,
	"async": true, "await": true, "break": true, "class": true, "continue": true, "def": true,
	"del": true, "elif": true, "else": true, "except": true, "finally": true, "for": true,
	"from": true, "global": true, "if": true, "import": true, "in": true, "is": true,
	"lambda": true, "nonlocal": true, "not": true, "or": true, "pass": true, "raise": true,
	"return": true, "try": true, "while": true, "with": true, "yield": true,
}

// Inject prefixes code with one assignment per parameter. It fails with an
// apperror.ErrParameterEncoding error, and produces no code, if any name is
// not a plain identifier or any value is not a primitive.
func Inject(p Params, code string) (string, error) {
	if len(p) == 0 {
		return code, nil
	}

	var b strings.Builder
	for _, param := range p {
		if !identifier.MatchString(param.Name) || pythonKeywords[param.Name] {
			return "", apperror.ParameterEncoding(param.Name, "not a valid identifier")
		}
		literal, err := Literal(param.Value)
		if err != nil {
			return "", apperror.ParameterEncoding(param.Name, err.Error())
		}
		b.WriteString(param.Name)
		b.WriteString(" = ")
		b.WriteString(literal)
		b.WriteByte('\n')
	}
	b.WriteString(code)
	return b.String(), nil
}

// Literal renders v as a Python literal that evaluates back to an equal value.
func Literal(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "None", nil
	case bool:
		if v {
			return "True", nil
		}
		return "False", nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return floatLiteral(float64(v), 32), nil
	case float64:
		return floatLiteral(v, 64), nil
	case string:
		return stringLiteral(v)
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}

func floatLiteral(f float64, bitSize int) string {
	switch {
	case math.IsNaN(f):
		return "float('nan')"
	case math.IsInf(f, 1):
		return "float('inf')"
	case math.IsInf(f, -1):
		return "-float('inf')"
	}

	s := strconv.FormatFloat(f, 'g', -1, bitSize)
	// Keep the value a float in Python: "5" would bind an int.
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

// stringLiteral quotes s using escapes that Python 3 reads identically.
func stringLiteral(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("string is not valid UTF-8")
	}

	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			switch {
			case r < 0x20 || r == 0x7f:
				fmt.Fprintf(&b, `\x%02x`, r)
			case !strconv.IsPrint(r) && r <= 0xffff:
				fmt.Fprintf(&b, `\u%04x`, r)
			case !strconv.IsPrint(r):
				fmt.Fprintf(&b, `\U%08x`, r)
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String(), nil
}
