package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubnetOf(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"10.37.93.1/24", "10.37.93.0/24"},
		{"192.168.100.254/24", "192.168.100.0/24"},
		{"10.0.0.1/16", "10.0.0.1/16"}, // non-/24 passed through
		{"garbage", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, subnetOf(tt.input), "input %q", tt.input)
	}
}
