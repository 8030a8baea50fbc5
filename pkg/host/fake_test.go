package host

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/rancherhost/pkg/engine"
	"github.com/rs/zerolog"
)

// fakeRunner records command lines and answers them with respond.
type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	respond func(ctx context.Context, line string) ([]byte, error)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	line := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.calls = append(f.calls, line)
	f.mu.Unlock()
	if f.respond == nil {
		return nil, nil
	}
	return f.respond(ctx, line)
}

func (f *fakeRunner) called(prefix string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (f *fakeRunner) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func testOptions(root string, r Runner) Options {
	return Options{Root: root, Runner: r, Logger: zerolog.Nop()}
}

func declare(t testing.TB, build func(b *engine.Builder)) *engine.Declaration {
	t.Helper()
	b := engine.NewBuilder("test")
	build(b)
	decls, err := b.Declarations()
	if err != nil {
		t.Fatalf("invalid declaration: %v", err)
	}
	return decls[0]
}
