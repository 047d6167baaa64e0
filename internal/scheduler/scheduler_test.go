package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEverySpecFormatsDuration(t *testing.T) {
	assert.Equal(t, "@every 5m0s", everySpec(5*time.Minute))
	assert.Equal(t, "@every 1h0m0s", everySpec(time.Hour))
}
