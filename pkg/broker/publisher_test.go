package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoundDelay(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"floor at one granule", 10 * time.Millisecond, 100 * time.Millisecond},
		{"exact granule unchanged", 500 * time.Millisecond, 500 * time.Millisecond},
		{"rounds up not down", 1040 * time.Millisecond, 1100 * time.Millisecond},
		{"midpoint rounds up", 1050 * time.Millisecond, 1100 * time.Millisecond},
		{"seconds unchanged", 5 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundDelay(tt.in)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, tt.in, "rounded delay must never undercut the requested delay")
		})
	}
}

func TestHoldingQueueName(t *testing.T) {
	assert.Equal(t, "crm_tasks.retry.5000ms", HoldingQueueName("crm_tasks", 5*time.Second))
	assert.Equal(t, "wa_messages.retry.100ms", HoldingQueueName("wa_messages", 100*time.Millisecond))
}

func TestHoldingQueuesSharedPerRoundedDelay(t *testing.T) {
	a := HoldingQueueName("crm_tasks", roundDelay(1010*time.Millisecond))
	b := HoldingQueueName("crm_tasks", roundDelay(1090*time.Millisecond))
	assert.Equal(t, a, b, "delays within one granule share a holding queue")
}
