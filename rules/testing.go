//go:build ruleguard

package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// TestContext flags context.Background/TODO inside tests; t.Context()
// is cancelled at test end and surfaces goroutine leaks sooner.
func TestContext(m dsl.Matcher) {
	m.Match(`context.Background()`, `context.TODO()`).
		Where(m.File().Name.Matches(`_test\.go$`)).
		Report("use t.Context() in tests (Go 1.24+)").
		Suggest("t.Context()")
}

// WaitGroupGo flags the Add/Done dance replaced by WaitGroup.Go in
// Go 1.25.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("*sync.WaitGroup") || m["wg"].Type.Is("sync.WaitGroup")).
		Report("use $wg.Go(func() { ... }) (Go 1.25+)")
}
