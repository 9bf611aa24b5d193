package patch_test

import (
	"fmt"

	"github.com/chronodiff/chronodiff/internal/patch"
)

func ExampleBuild() {
	a := patch.Build(patch.Input{
		Path:   "a.txt",
		Before: []byte("hello\n"),
		After:  []byte("hello\nworld\n"),
	})
	fmt.Printf("%s +%d -%d\n", a.Record.Op, a.Record.Stats.Added, a.Record.Stats.Removed)
	fmt.Print(a.Patch)
	// Output:
	// modified +1 -0
	// --- a/a.txt
	// +++ b/a.txt
	// @@ -1 +1,2 @@
	//  hello
	// +world
}
