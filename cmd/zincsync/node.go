package main

import (
	"context"

	"github.com/zincnote/zincsync/pkg/zincsync"
)

// openNode opens a storage-only Node (no sync coordinator) rooted at
// dataDir, creating the directory if needed.
func openNode() (*zincsync.Node, error) {
	return zincsync.New(context.Background(), zincsync.Options{DataDir: dataDir})
}
