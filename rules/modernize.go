//go:build ruleguard

// Package gorules holds the custom ruleguard rules run through
// golangci-lint. They flag pre-generics idioms that still sneak in from
// older snippets.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// SortToSlices flags the typed sort helpers; slices.Sort covers all of
// them since Go 1.21.
func SortToSlices(m dsl.Matcher) {
	m.Match(`sort.Ints($s)`, `sort.Strings($s)`, `sort.Float64s($s)`).
		Report("use slices.Sort($s) (Go 1.21+)").
		Suggest("slices.Sort($s)")

	m.Match(`sort.IntsAreSorted($s)`, `sort.StringsAreSorted($s)`, `sort.Float64sAreSorted($s)`).
		Report("use slices.IsSorted($s) (Go 1.21+)").
		Suggest("slices.IsSorted($s)")
}

// ManualContains flags hand-rolled membership loops over string slices,
// common around lookup column allow-lists.
func ManualContains(m dsl.Matcher) {
	m.Match(`for _, $x := range $s { if $x == $v { $*_ } }`).
		Where(m["s"].Type.Is("[]string")).
		Report("use slices.Contains($s, $v) (Go 1.21+)")
}

// MinMaxViaMath flags float round-trips used to take the min or max of
// two integers; the builtins are generic.
func MinMaxViaMath(m dsl.Matcher) {
	m.Match(
		`int($t(math.Min(float64($a), float64($b))))`,
		`int64(math.Min(float64($a), float64($b)))`,
		`int(math.Min(float64($a), float64($b)))`,
	).
		Report("use min($a, $b) (Go 1.21+)").
		Suggest("min($a, $b)")

	m.Match(
		`int64(math.Max(float64($a), float64($b)))`,
		`int(math.Max(float64($a), float64($b)))`,
	).
		Report("use max($a, $b) (Go 1.21+)").
		Suggest("max($a, $b)")
}
