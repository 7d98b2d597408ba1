package imap

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Wildcard is the sequence number denoted by "*", the highest number in use.
const Wildcard = uint32(math.MaxUint32)

// SeqElem is one element of a sequence set: a single number or a range.
// Wildcard stands for "*" in either position. A degenerate range such as
// 10:10 stays a range; it is not collapsed to a single number.
type SeqElem struct {
	Lo, Hi uint32
	Range  bool
}

// SeqSet is a parsed sequence set in canonical form: elements sorted
// ascending with each range normalized low:high. Adjacent or overlapping
// elements are preserved, never merged.
type SeqSet struct {
	Elems []SeqElem
}

// ParseSeqSet parses a sequence-set string such as "1,4:7,*".
func ParseSeqSet(s string) (*SeqSet, error) {
	if s == "" {
		return nil, syntaxErrorf("empty sequence set")
	}

	set := &SeqSet{}
	for _, part := range strings.Split(s, ",") {
		lo, hi, found := strings.Cut(part, ":")
		loNum, err := parseSeqNumber(lo)
		if err != nil {
			return nil, err
		}
		if !found {
			set.Elems = append(set.Elems, SeqElem{Lo: loNum, Hi: loNum})
			continue
		}
		hiNum, err := parseSeqNumber(hi)
		if err != nil {
			return nil, err
		}
		if loNum > hiNum {
			loNum, hiNum = hiNum, loNum
		}
		set.Elems = append(set.Elems, SeqElem{Lo: loNum, Hi: hiNum, Range: true})
	}

	sort.SliceStable(set.Elems, func(i, j int) bool {
		a, b := set.Elems[i], set.Elems[j]
		if a.Lo != b.Lo {
			return a.Lo < b.Lo
		}
		return a.Hi < b.Hi
	})
	return set, nil
}

func parseSeqNumber(s string) (uint32, error) {
	if s == "*" {
		return Wildcard, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil || n == 0 {
		return 0, syntaxErrorf("invalid sequence number %q", s)
	}
	return uint32(n), nil
}

// String renders the set in canonical form.
func (s *SeqSet) String() string {
	var sb strings.Builder
	for i, e := range s.Elems {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(formatSeqNumber(e.Lo))
		if e.Range {
			sb.WriteByte(':')
			sb.WriteString(formatSeqNumber(e.Hi))
		}
	}
	return sb.String()
}

func formatSeqNumber(n uint32) string {
	if n == Wildcard {
		return "*"
	}
	return strconv.FormatUint(uint64(n), 10)
}

// Contains reports whether n is a member of the set, with Wildcard treated
// as the largest possible number.
func (s *SeqSet) Contains(n uint32) bool {
	for _, e := range s.Elems {
		if n >= e.Lo && n <= e.Hi {
			return true
		}
	}
	return false
}

// Resolve expands the set against a maximum in-use number, substituting max
// for the wildcard. The result is sorted ascending with duplicates removed;
// numbers beyond max are dropped. An empty result means no numbers matched.
func (s *SeqSet) Resolve(max uint32) []uint32 {
	if max == 0 {
		return nil
	}

	seen := make(map[uint32]bool)
	var out []uint32
	for _, e := range s.Elems {
		lo, hi := e.Lo, e.Hi
		if lo == Wildcard {
			lo = max
		}
		if hi == Wildcard {
			hi = max
		}
		if lo > hi {
			lo, hi = hi, lo
		}
		if lo > max {
			continue
		}
		if hi > max {
			hi = max
		}
		for n := lo; n <= hi; n++ {
			if !seen[n] {
				seen[n] = true
				out = append(out, n)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
