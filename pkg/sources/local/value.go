package local

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

var (
	// ErrMalformedInitializer is returned for an initializer that is not a
	// number, a quoted string or a list of either.
	ErrMalformedInitializer = errors.New("malformed initial value")

	// ErrInitialValueMismatch is reported to a reader that declares an
	// initial value different from the one the channel was declared with.
	ErrInitialValueMismatch = errors.New("initial value differs from earlier declaration")

	// ErrTypeFamily is returned for a write that would change the kind of
	// value a channel holds.
	ErrTypeFamily = errors.New("value type differs from channel type")
)

type family uint8

const (
	familyNone family = iota
	familyNumber
	familyString
	familyNumberArray
	familyStringArray
)

func (f family) String() string {
	switch f {
	case familyNumber:
		return "number"
	case familyString:
		return "string"
	case familyNumberArray:
		return "number array"
	case familyStringArray:
		return "string array"
	default:
		return "none"
	}
}

// splitName separates "x(init)" into "x" and "init". A name without an
// initializer returns ok=false.
func splitName(name string) (base, init string, ok bool) {
	open := strings.IndexByte(name, '(')
	if open < 0 || !strings.HasSuffix(name, ")") {
		return strings.TrimSpace(name), "", false
	}
	return strings.TrimSpace(name[:open]), strings.TrimSpace(name[open+1 : len(name)-1]), true
}

// parseInitializer parses a number, a quoted string, or a comma separated
// list of either.
func parseInitializer(s string) (any, error) {
	parts, err := splitList(s)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedInitializer, s)
	}

	if isQuoted(parts[0]) {
		strs := make([]string, len(parts))
		for i, p := range parts {
			if !isQuoted(p) {
				return nil, fmt.Errorf("%w: mixed list %q", ErrMalformedInitializer, s)
			}
			u, err := strconv.Unquote(p)
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrMalformedInitializer, p)
			}
			strs[i] = u
		}
		if len(strs) == 1 {
			return strs[0], nil
		}
		return strs, nil
	}

	nums := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrMalformedInitializer, p)
		}
		nums[i] = f
	}
	if len(nums) == 1 {
		return nums[0], nil
	}
	return nums, nil
}

// splitList splits on commas outside double quotes.
func splitList(s string) ([]string, error) {
	var (
		parts   []string
		cur     strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quoted:
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			parts = append(parts, strings.TrimSpace(cur.String()))
			cur.Reset()
			continue
		}
		cur.WriteRune(r)
	}
	if quoted {
		return nil, fmt.Errorf("%w: unterminated string in %q", ErrMalformedInitializer, s)
	}
	if last := strings.TrimSpace(cur.String()); last != "" || len(parts) > 0 {
		parts = append(parts, last)
	}
	return parts, nil
}

func isQuoted(s string) bool {
	return len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"'
}

// normalize converts v to the representation channels store: float64,
// string, []float64 or []string.
func normalize(v any) (any, family, error) {
	switch x := v.(type) {
	case string:
		return x, familyString, nil
	case []string:
		return append([]string(nil), x...), familyStringArray, nil
	case []float64:
		return append([]float64(nil), x...), familyNumberArray, nil
	}

	rv := reflect.ValueOf(v)
	if f, ok := toFloat(rv); ok {
		return f, familyNumber, nil
	}
	if rv.Kind() == reflect.Slice {
		nums := make([]float64, rv.Len())
		strs := make([]string, rv.Len())
		allNums, allStrs := true, true
		for i := range rv.Len() {
			e := rv.Index(i)
			if e.Kind() == reflect.Interface {
				e = e.Elem()
			}
			if f, ok := toFloat(e); ok {
				nums[i] = f
			} else {
				allNums = false
			}
			if e.Kind() == reflect.String {
				strs[i] = e.String()
			} else {
				allStrs = false
			}
		}
		switch {
		case allNums:
			return nums, familyNumberArray, nil
		case allStrs:
			return strs, familyStringArray, nil
		}
	}
	return nil, familyNone, fmt.Errorf("%w: unsupported value %T", ErrTypeFamily, v)
}

func toFloat(rv reflect.Value) (float64, bool) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

func familyOf(v any) family {
	_, f, err := normalize(v)
	if err != nil {
		return familyNone
	}
	return f
}
