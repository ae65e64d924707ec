package incus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleList = `[
  {
    "name": "capsule-a1b2c3d4-1",
    "status": "Running",
    "state": {
      "network": {
        "lo": {
          "addresses": [
            {"family": "inet", "address": "127.0.0.1", "scope": "local"}
          ]
        },
        "eth0": {
          "addresses": [
            {"family": "inet6", "address": "fd42::1", "scope": "global"},
            {"family": "inet", "address": "10.152.37.9", "scope": "global"}
          ]
        }
      }
    }
  },
  {
    "name": "capsule-a1b2c3d4-2",
    "status": "Stopped",
    "state": null
  }
]`

func TestParseList(t *testing.T) {
	containers, err := parseList([]byte(sampleList))
	require.NoError(t, err)
	require.Len(t, containers, 2)

	assert.Equal(t, "capsule-a1b2c3d4-1", containers[0].Name)
	assert.Equal(t, "Running", containers[0].Status)
	assert.Equal(t, "Stopped", containers[1].Status)
}

func TestParseListRejectsGarbage(t *testing.T) {
	_, err := parseList([]byte("not json"))
	assert.Error(t, err)
}

func TestFirstIPv4(t *testing.T) {
	containers, err := parseList([]byte(sampleList))
	require.NoError(t, err)

	// Loopback and IPv6 addresses are skipped.
	assert.Equal(t, "10.152.37.9", FirstIPv4(containers[0]))
	// Stopped containers report no address.
	assert.Equal(t, "", FirstIPv4(containers[1]))
}

func TestDeletedCarriesName(t *testing.T) {
	d := Deleted{name: "capsule-a1b2c3d4-1"}
	assert.Equal(t, "capsule-a1b2c3d4-1", d.Name())
}

func TestExitErrorMessage(t *testing.T) {
	err := &ExitError{ExitCode: 42}
	assert.Equal(t, "command exited with code 42", err.Error())
}
