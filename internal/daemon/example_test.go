package daemon_test

import (
	"context"
	"fmt"
	"time"

	"github.com/chronodiff/chronodiff/internal/daemon"
)

// ExampleBatcher shows three events for two files closing as one batch.
func ExampleBatcher() {
	events := make(chan daemon.FileEvent, 3)
	events <- daemon.FileEvent{Path: "/src/app/main.go", Op: daemon.OpModify}
	events <- daemon.FileEvent{Path: "/src/app/main.go", Op: daemon.OpModify}
	events <- daemon.FileEvent{Path: "/src/app/util.go", Op: daemon.OpCreate}

	b := &daemon.Batcher{Window: 10 * time.Millisecond}
	batch, err := b.Next(context.Background(), events)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println(batch.Events, "events")
	for _, p := range batch.Paths {
		fmt.Println(p)
	}

	// Output:
	// 3 events
	// /src/app/main.go
	// /src/app/util.go
}
