package graphmatch

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// reversedStore hands out one shared, reverse-ordered slice per label.
type reversedStore struct {
	*MemoryStore
	byLabel map[string][]*DataVertex
}

func newReversedStore(t *testing.T) *reversedStore {
	t.Helper()
	s := &reversedStore{MemoryStore: triangleStore(t), byLabel: map[string][]*DataVertex{}}
	for _, label := range []string{"Red", "Blue", "Green"} {
		vs, err := s.MemoryStore.LoadVertices(context.Background(), label, nil)
		if err != nil {
			t.Fatalf("LoadVertices(%s): %v", label, err)
		}
		vs = slices.Clone(vs)
		slices.Reverse(vs)
		s.byLabel[label] = vs
	}
	return s
}

func (s *reversedStore) LoadVertices(ctx context.Context, label string, attr *PatternAttr) ([]*DataVertex, error) {
	if vs, ok := s.byLabel[label]; ok && attr == nil {
		return vs, nil
	}
	return s.MemoryStore.LoadVertices(ctx, label, attr)
}

// gate blocks the first OnInstruction callback of an executor until
// released.
type gate struct {
	taken   atomic.Bool
	started chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) hook(InstructionStats) {
	if g.taken.CompareAndSwap(false, true) {
		close(g.started)
		<-g.release
	}
}

func TestConcurrentExecuteSharedCache(t *testing.T) {
	rs := newReversedStore(t)
	cs, err := NewCachedStore(rs, 0, nil)
	if err != nil {
		t.Fatalf("NewCachedStore: %v", err)
	}
	opts := DefaultOptions()
	opts.Parallelism = 4
	e := testEngine(t, trianglePlan, cs, opts)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				ms, err := e.Execute(context.Background())
				if err == nil && len(ms) != 1 {
					err = errors.New("expected exactly one match")
				}
				if err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	var ids []VertexID
	for _, v := range rs.byLabel["Red"] {
		ids = append(ids, v.ID)
	}
	if diff := cmp.Diff([]VertexID{"2", "1"}, ids); diff != "" {
		t.Errorf("adapter slice was reordered (-want +got):\n%s", diff)
	}
}

func TestCachesKeptWhileExecutionActive(t *testing.T) {
	cs, err := NewCachedStore(triangleStore(t), 0, nil)
	if err != nil {
		t.Fatalf("NewCachedStore: %v", err)
	}
	g := newGate()
	opts := DefaultOptions()
	opts.OnInstruction = g.hook
	x := NewExecutor(cs, opts)
	t.Cleanup(func() { x.Close() })
	e, err := x.Load([]byte(trianglePlan))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background())
		done <- err
	}()
	<-g.started

	if ms, err := e.Execute(context.Background()); err != nil || len(ms) != 1 {
		t.Fatalf("second Execute: %v, %d matches", err, len(ms))
	}
	if _, loads := cs.Len(); loads == 0 {
		t.Error("caches cleared while another execution was still running")
	}

	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if v, l := cs.Len(); v != 0 || l != 0 {
		t.Errorf("caches not cleared after the last execution: %d vertices, %d loads", v, l)
	}
}

func TestCloseDuringExecute(t *testing.T) {
	g := newGate()
	opts := DefaultOptions()
	opts.Parallelism = 4
	opts.OnInstruction = g.hook
	x := NewExecutor(triangleStore(t), opts)
	e, err := x.Load([]byte(trianglePlan))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.Execute(context.Background())
		done <- err
	}()
	<-g.started
	x.Close()
	close(g.release)

	err = <-done
	if !errors.Is(err, ErrExecutorClosed) {
		t.Fatalf("expected ErrExecutorClosed, got %v", err)
	}
	if errors.Is(err, ErrQueryPanic) {
		t.Fatalf("close surfaced as a panic: %v", err)
	}
	if err := x.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
