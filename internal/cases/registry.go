// Package cases holds the functional backup cases the harness runs. Each
// case receives a fresh harness with its own workspace and VM and drives
// it end to end: setup, protocol calls, assertions, teardown.
package cases

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kubev2v/qemu-backup-harness/internal/harness"
	srvErrors "github.com/kubev2v/qemu-backup-harness/pkg/errors"
)

// Case is one independently runnable functional test.
type Case struct {
	Name        string
	Description string
	Run         func(ctx context.Context, h *harness.Harness) error
}

var (
	mu       sync.Mutex
	registry = map[string]Case{}
)

// Register adds a case to the registry. Duplicate names panic: they are a
// programming error, not a runtime condition.
func Register(c Case) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[c.Name]; ok {
		panic(fmt.Sprintf("case %q registered twice", c.Name))
	}
	registry[c.Name] = c
}

// All returns every registered case sorted by name.
func All() []Case {
	mu.Lock()
	defer mu.Unlock()

	out := make([]Case, 0, len(registry))
	for _, c := range registry {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get looks a case up by name.
func Get(name string) (Case, error) {
	mu.Lock()
	defer mu.Unlock()

	c, ok := registry[name]
	if !ok {
		return Case{}, srvErrors.NewCaseNotFoundError(name)
	}
	return c, nil
}

// Select resolves a list of names, or all cases when names is empty.
func Select(names []string) ([]Case, error) {
	if len(names) == 0 {
		return All(), nil
	}
	out := make([]Case, 0, len(names))
	for _, name := range names {
		c, err := Get(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
