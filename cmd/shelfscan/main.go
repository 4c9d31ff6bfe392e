package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	err := newRootCommand().Execute()
	if err == nil {
		return
	}
	// Ctrl-C during a run is a clean shutdown; exit nonzero but quietly.
	if !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "shelfscan:", err)
	}
	os.Exit(1)
}
