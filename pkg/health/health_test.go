package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAllOK(t *testing.T) {
	assert.True(t, AllOK(nil))
	assert.True(t, AllOK([]Check{{OK: true}, {OK: true}}))
	assert.False(t, AllOK([]Check{{OK: true}, {OK: false}}))
}

func TestCheckDiskReportsDetail(t *testing.T) {
	c := checkDisk(t.TempDir())
	assert.Equal(t, "disk space", c.Name)
	assert.NotEmpty(t, c.Detail)
}

func TestCheckMemory(t *testing.T) {
	c := checkMemory()
	assert.Equal(t, "memory", c.Name)
	assert.NotEmpty(t, c.Detail)
}
