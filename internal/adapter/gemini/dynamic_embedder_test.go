package gemini

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDynamicEmbedder_ClientSwitching(t *testing.T) {
	embedder := NewDynamicEmbedder(nil, "", "")
	ctx := context.Background()

	client1, err := embedder.getClient(ctx, "key1")
	assert.NoError(t, err)
	assert.NotNil(t, client1)
	assert.Equal(t, "key1", embedder.currentKey)

	client2, err := embedder.getClient(ctx, "key1")
	assert.NoError(t, err)
	assert.Same(t, client1, client2)

	client3, err := embedder.getClient(ctx, "key2")
	assert.NoError(t, err)
	assert.NotSame(t, client1, client3)
	assert.Equal(t, "key2", embedder.currentKey)
}
