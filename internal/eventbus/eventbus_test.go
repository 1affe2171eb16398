package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueNameForIsNamespacedByExchange(t *testing.T) {
	assert.Equal(t, "platformd_events.projections", queueNameFor("platformd_events", "projections"))
	assert.NotEqual(t,
		queueNameFor("platformd_events", "projections"),
		queueNameFor("other_exchange", "projections"),
	)
}
