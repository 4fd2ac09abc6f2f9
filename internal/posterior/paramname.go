package posterior

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParamName is a structured parameter name. Vector and matrix parameters
// encode their coordinates textually, e.g. "delta.hj[2,3]"; scalars have a
// nil index.
type ParamName struct {
	Base  string
	Index []int
}

// ParseParamName resolves a textual parameter name into its base and
// coordinates. Both scalar and indexed forms are supported.
func ParseParamName(s string) (ParamName, error) {
	open := strings.IndexByte(s, '[')
	if open < 0 {
		if s == "" {
			return ParamName{}, fmt.Errorf("posterior: empty parameter name")
		}
		return ParamName{Base: s}, nil
	}
	if open == 0 || !strings.HasSuffix(s, "]") {
		return ParamName{}, fmt.Errorf("posterior: malformed parameter name %q", s)
	}

	base := s[:open]
	inner := s[open+1 : len(s)-1]
	parts := strings.Split(inner, ",")
	idx := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return ParamName{}, fmt.Errorf("posterior: parameter %q: bad index %q", s, p)
		}
		idx[i] = v
	}
	return ParamName{Base: base, Index: idx}, nil
}

// String reconstructs the textual form.
func (p ParamName) String() string {
	if len(p.Index) == 0 {
		return p.Base
	}
	parts := make([]string, len(p.Index))
	for i, v := range p.Index {
		parts[i] = strconv.Itoa(v)
	}
	return p.Base + "[" + strings.Join(parts, ",") + "]"
}

// less orders names by base, then index lexicographically, scalars before
// indexed coordinates of the same base.
func (p ParamName) less(q ParamName) bool {
	if p.Base != q.Base {
		return p.Base < q.Base
	}
	for i := 0; i < len(p.Index) && i < len(q.Index); i++ {
		if p.Index[i] != q.Index[i] {
			return p.Index[i] < q.Index[i]
		}
	}
	return len(p.Index) < len(q.Index)
}

// sortNames orders textual names deterministically by their structured form.
// Unparseable names sort last, textually; aggregation rejects them earlier.
func sortNames(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		a, errA := ParseParamName(names[i])
		b, errB := ParseParamName(names[j])
		if errA != nil || errB != nil {
			return names[i] < names[j]
		}
		return a.less(b)
	})
}
