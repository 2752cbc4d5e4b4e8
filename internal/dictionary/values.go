package dictionary

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// rangePattern matches min:max pairs; several may share one Value line,
// e.g. "100:101 102:198;Days".
var rangePattern = regexp.MustCompile(`(-?\d+(?:\.\d+)?):(-?\d+(?:\.\d+)?)`)

// parseValue interprets the right-hand side of a Value= line. The text after
// the first ';' is the description and may itself contain ':' or ';'.
func parseValue(text string) ([]ValueRange, *ValueCode, error) {
	val, desc, _ := strings.Cut(text, ";")
	val = strings.TrimSpace(val)
	desc = strings.TrimSpace(desc)

	matches := rangePattern.FindAllStringSubmatch(val, -1)
	if len(matches) == 0 {
		return nil, &ValueCode{Code: val, Description: desc}, nil
	}

	var ranges []ValueRange
	for _, m := range matches {
		lo, _ := strconv.ParseFloat(m[1], 64)
		hi, _ := strconv.ParseFloat(m[2], 64)
		switch {
		case lo > hi:
			return nil, nil, fmt.Errorf("value range %s:%s has min above max", m[1], m[2])
		case lo == hi:
			if len(matches) == 1 {
				return nil, &ValueCode{Code: m[1], Description: desc}, nil
			}
		}
		ranges = append(ranges, ValueRange{Min: m[1], Max: m[2], Description: desc})
	}
	return ranges, nil, nil
}

// ExpandStrategy controls how value ranges are written to the value relation.
type ExpandStrategy string

const (
	// ExpandAll expands every integer range within the limit.
	ExpandAll ExpandStrategy = "All"
	// ExpandMultiple expands ranges only for items declaring more than one.
	ExpandMultiple ExpandStrategy = "Multiple"
	// ExpandNone writes ranges as min/max pairs.
	ExpandNone ExpandStrategy = "None"

	DefaultRangeLimit = 10000
)

// ParseExpandStrategy accepts All, Multiple or None in any case.
func ParseExpandStrategy(s string) (ExpandStrategy, error) {
	for _, st := range []ExpandStrategy{ExpandAll, ExpandMultiple, ExpandNone} {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown range expansion strategy %q", s)
}

// Value types written to the value relation.
const (
	ValueTypeExplicit      = "ExplicitValue"
	ValueTypeExpandedRange = "ExpandedRange"
	ValueTypeRangeMin      = "RangeMin"
	ValueTypeRangeMax      = "RangeMax"
	ValueTypeMultiRangeMin = "MultiRangeMin"
	ValueTypeMultiRangeMax = "MultiRangeMax"
)

// ExpandedValue is one row of the value relation for a single item.
type ExpandedValue struct {
	Value       string
	Description string
	Type        string
}

// Expand flattens a value set into value rows. Explicit codes come first,
// then ranges in declaration order.
func (vs *ValueSet) Expand(strategy ExpandStrategy, limit int) []ExpandedValue {
	if vs == nil {
		return nil
	}
	if limit <= 0 {
		limit = DefaultRangeLimit
	}

	out := make([]ExpandedValue, 0, len(vs.Codes)+2*len(vs.Ranges))
	for _, c := range vs.Codes {
		out = append(out, ExpandedValue{Value: c.Code, Description: c.Description, Type: ValueTypeExplicit})
	}

	multiple := len(vs.Ranges) > 1
	for _, r := range vs.Ranges {
		lo, _ := strconv.ParseFloat(r.Min, 64)
		hi, _ := strconv.ParseFloat(r.Max, 64)
		size := hi - lo + 1
		integral := lo == math.Trunc(lo) && hi == math.Trunc(hi)

		expand := integral && size <= float64(limit) &&
			(strategy == ExpandAll || (strategy == ExpandMultiple && multiple))

		if expand {
			for v := int64(lo); v <= int64(hi); v++ {
				out = append(out, ExpandedValue{Value: strconv.FormatInt(v, 10), Description: r.Description, Type: ValueTypeExpandedRange})
			}
			continue
		}

		minType, maxType := ValueTypeRangeMin, ValueTypeRangeMax
		if multiple {
			minType, maxType = ValueTypeMultiRangeMin, ValueTypeMultiRangeMax
		}
		out = append(out,
			ExpandedValue{Value: r.Min, Description: r.Description, Type: minType},
			ExpandedValue{Value: r.Max, Description: r.Description, Type: maxType},
		)
	}
	return out
}
