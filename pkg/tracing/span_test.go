package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSpansInheritTrace(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "chat.turn", "turn-1")
	_, plan := StartChildSpan(ctx, "planned")
	plan.End()
	_, gen := StartChildSpan(ctx, "generated")
	gen.EndWithError(errors.New("timeout"))
	root.End()

	require.Len(t, root.Children, 2)
	assert.Equal(t, "turn-1", gen.TraceID)
	assert.Error(t, gen.Err)
	durations := root.ChildDurations()
	assert.Contains(t, durations, "planned")
	assert.Contains(t, durations, "generated")
	assert.Same(t, root, SpanFromContext(ctx))
}
