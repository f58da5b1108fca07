package main

import (
	"context"
	"fmt"

	"github.com/lonworks/lon-device-stack/internal/devstack"
)

// openStack opens the device stack backed by the configured store
// directory and boots it, surfacing (but not failing on) a blackout
// condition so callers can report it.
func openStack(storeDir string) (*devstack.Stack, bool, error) {
	store, err := devstack.NewFileStore(storeDir)
	if err != nil {
		return nil, false, fmt.Errorf("opening store: %w", err)
	}

	stack := devstack.New(store, [6]byte{}, 0, [8]byte{})
	blackout, err := stack.Boot(context.Background())
	if err != nil {
		return nil, false, fmt.Errorf("booting stack: %w", err)
	}
	return stack, blackout, nil
}
