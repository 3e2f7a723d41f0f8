package storage

import (
	"testing"
	"time"

	"github.com/poiesic/knowmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalNode_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty data", []byte{}},
		{"invalid data", []byte{0xFF, 0xFF, 0xFF}},
		{"partial data", []byte{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalNode(tt.data)
			assert.ErrorIs(t, err, ErrCorrupted)
		})
	}
}

func TestUnmarshalRejectsTrailingBytes(t *testing.T) {
	edge := core.Edge{SourceID: "a", TargetID: "b", Weight: 0.4, LastReinforced: time.Now().UTC().Truncate(time.Microsecond)}
	data := append(MarshalEdge(edge), 0x01)

	_, err := UnmarshalEdge(data)
	assert.ErrorIs(t, err, ErrCorrupted)

	decoded, err := UnmarshalEdge(data[:len(data)-1])
	require.NoError(t, err)
	assert.Equal(t, edge, decoded)
}

func TestCheckpointRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	cp := &core.Checkpoint{Source: "fs:/notes", Since: now.Add(-time.Hour), UpdatedAt: now}

	decoded, err := UnmarshalCheckpoint(MarshalCheckpoint(cp))
	require.NoError(t, err)
	assert.Equal(t, cp, decoded)
}

func TestVersion(t *testing.T) {
	v, err := UnmarshalVersion(MarshalVersion(7))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)

	_, err = UnmarshalVersion(nil)
	assert.ErrorIs(t, err, ErrCorrupted)
}
