package snsctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerbose(t *testing.T) {
	ctx := context.Background()
	assert.False(t, IsVerbose(ctx))
	assert.True(t, IsVerbose(SetVerbose(ctx, true)))
	assert.False(t, IsVerbose(SetVerbose(SetVerbose(ctx, true), false)))
}

func TestClient(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", Client(ctx))
	tagged := SetClient(SetVerbose(ctx, true), "shtc3")
	assert.Equal(t, "shtc3", Client(tagged))
	assert.True(t, IsVerbose(tagged))
}
