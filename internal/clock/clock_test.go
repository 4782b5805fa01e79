package clock

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNowMicroMonotonic(t *testing.T) {
	a := NowMicro()
	b := NowMicro()
	assert.GreaterOrEqual(t, b, a, "NowMicro went backwards")
}

func TestNowMicroNonZero(t *testing.T) {
	assert.False(t, NowMicro() == 0 && NowMicro() == 0, "NowMicro returned 0 on both calls; expected elapsed time since package init")
}
