package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisher_RecordsMessages(t *testing.T) {
	t.Parallel()

	p := New()
	ctx := context.Background()

	id1, err := p.Publish(ctx, "scan-events", map[string]any{"scan_id": "a"})
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	id2, err := p.Publish(ctx, "scan-events", map[string]any{"scan_id": "b"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)

	msgs := p.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "scan-events", msgs[0].Topic)
	require.Equal(t, map[string]any{"scan_id": "a"}, msgs[0].Payload)
}
