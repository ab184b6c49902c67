package metric

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

type Kind int

const (
	Number Kind = iota
	Flag
)

// Score is one source's value for one metric. An undefined score keeps its
// kind so tallies can tell a missing flag from a missing number.
type Score struct {
	kind    Kind
	defined bool
	num     float64
	flag    bool
}

// Num wraps v. NaN and infinities are undefined.
func Num(v float64) Score {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Score{kind: Number}
	}
	return Score{kind: Number, defined: true, num: v}
}

func Bool(b bool) Score {
	return Score{kind: Flag, defined: true, flag: b}
}

func UndefinedNumber() Score { return Score{kind: Number} }
func UndefinedFlag() Score   { return Score{kind: Flag} }

func (s Score) Kind() Kind    { return s.kind }
func (s Score) Defined() bool { return s.defined }

// Float returns the value and whether it is a defined number.
func (s Score) Float() (float64, bool) {
	if s.kind != Number || !s.defined {
		return math.NaN(), false
	}
	return s.num, true
}

// Flag returns the value and whether it is a defined flag.
func (s Score) Flag() (bool, bool) {
	if s.kind != Flag || !s.defined {
		return false, false
	}
	return s.flag, true
}

func (s Score) String() string {
	switch {
	case !s.defined:
		return "undefined"
	case s.kind == Flag:
		return fmt.Sprint(s.flag)
	default:
		return fmt.Sprint(s.num)
	}
}

func (s Score) MarshalJSON() ([]byte, error) {
	switch {
	case !s.defined:
		return []byte("null"), nil
	case s.kind == Flag:
		return json.Marshal(s.flag)
	default:
		return json.Marshal(s.num)
	}
}

// UnmarshalJSON accepts a number, a bool or null. A null has no kind on the
// wire and comes back as an undefined number.
func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = UndefinedNumber()
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*s = Bool(data[0] == 't')
	default:
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("score: %w", err)
		}
		*s = Num(v)
	}
	return nil
}

// Result maps a source name, "persistence" or "observed" to its score.
type Result map[string]Score

// Defined reports whether at least one score in r is defined.
func (r Result) Defined() bool {
	for _, s := range r {
		if s.Defined() {
			return true
		}
	}
	return false
}
