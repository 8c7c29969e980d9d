package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompanyIDRoundTrip(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrCompanyIDNotFound)

	ctx := WithCompanyID(context.Background(), "acme")
	id, err := FromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acme", id)
	assert.Equal(t, "acme", MustFromContext(ctx))
	assert.Panics(t, func() { MustFromContext(context.Background()) })
}

func TestSchemaName(t *testing.T) {
	assert.Equal(t, "handoff_acme", SchemaName("acme"))
	assert.Equal(t, "handoff_co_01", SchemaName("CO-01"))
}

func TestDetached(t *testing.T) {
	parent, cancel := context.WithCancel(WithRequestID(WithCompanyID(context.Background(), "acme"), "req-1"))
	cancel()

	ctx := Detached(parent)
	assert.NoError(t, ctx.Err())
	assert.Equal(t, "acme", MustFromContext(ctx))
	assert.Equal(t, "req-1", MustFromRequestIDContext(ctx))
}
