package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-mfg/jobs"
)

func TestRunRejectsBadInput(t *testing.T) {
	c, err := NewJobsCLI("127.0.0.1:0")
	require.NoError(t, err)
	defer c.Close()

	var out bytes.Buffer
	ctx := context.Background()
	assert.EqualError(t, c.Run(ctx, nil, &out), Usage)
	assert.EqualError(t, c.Run(ctx, []string{"trigger"}, &out), Usage)
	assert.ErrorContains(t, c.Run(ctx, []string{"purge"}, &out), `unknown command "purge"`)
	assert.ErrorContains(t, c.Run(ctx, []string{"scheduled", "many"}, &out), "bad size")
	assert.ErrorIs(t, c.Run(ctx, []string{"trigger", "mail:send"}, &out), jobs.ErrUnknownTask)
	assert.Empty(t, out.String())
}

func TestNilCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskWorkOrderOverdueScan)
	assert.Error(t, err)
	_, err = c.InspectQueue(context.Background())
	assert.Error(t, err)
	_, err = c.ListScheduled(context.Background(), 5)
	assert.Error(t, err)
}
