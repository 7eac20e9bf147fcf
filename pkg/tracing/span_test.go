package tracing

import (
	"context"
	"sync"
	"testing"
)

func TestChildSpansAttachToParent(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "termfreq.run", "run-1")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, span := StartChildSpan(ctx, "scan")
			span.SetAttr("partition", i)
			span.End()
		}(i)
	}
	wg.Wait()
	root.End()

	if got := root.Count(); got != 9 {
		t.Errorf("span count = %d, want 9", got)
	}
	for _, c := range root.Children {
		if c.TraceID != "run-1" {
			t.Errorf("child trace id = %q", c.TraceID)
		}
	}
}

func TestEndIsIdempotent(t *testing.T) {
	_, span := StartSpan(context.Background(), "x", "t")
	span.End()
	first := span.EndTime
	span.End()
	if !span.EndTime.Equal(first) {
		t.Error("second End must not move the end time")
	}
}

func TestChildWithoutParent(t *testing.T) {
	ctx, span := StartChildSpan(context.Background(), "orphan")
	if SpanFromContext(ctx) != span || span.TraceID != "" {
		t.Errorf("unexpected orphan span %+v", span)
	}
}
