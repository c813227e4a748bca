package txqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOrdering(t *testing.T) {
	assert.True(t, StatusBroadcasted.AtLeast(StatusSigned))
	assert.True(t, StatusSigned.AtLeast(StatusSigned))
	assert.False(t, StatusSigning.AtLeast(StatusSigned))
	assert.False(t, StatusFailed.AtLeast(StatusPreparing))
	assert.True(t, StatusFailed.AtLeast(StatusFailed))

	assert.False(t, StatusIdle.Active())
	assert.True(t, StatusBroadcasting.Active())
	assert.False(t, StatusConfirmed.Active())
}
