package mock

import (
	"context"
	"sync"
	"testing"
)

func TestDeterministicVector_Stable(t *testing.T) {
	a := DeterministicVector("same text", 8)
	b := DeterministicVector("same text", 8)
	if len(a) != 8 {
		t.Fatalf("expected dim 8, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same text must yield the same vector, diverged at %d", i)
		}
	}

	c := DeterministicVector("other text", 8)
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
		}
	}
	if same {
		t.Fatal("different texts must yield different vectors")
	}
}

func TestCallCounters_ConcurrentExtraction(t *testing.T) {
	client := NewMockPipelineClient()
	ctx := context.Background()

	const calls = 64
	var wg sync.WaitGroup
	wg.Add(calls)
	for i := 0; i < calls; i++ {
		go func() {
			defer wg.Done()
			if _, err := client.ExtractSignals(ctx, "some text"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := client.ExtractCallCount(); got != calls {
		t.Fatalf("expected %d extraction calls, got %d", calls, got)
	}
}
