package rtp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPortManager_Validation(t *testing.T) {
	tests := []struct {
		name    string
		r       PortRange
		wantErr bool
	}{
		{"корректный диапазон", PortRange{Min: 10000, Max: 10100}, false},
		{"один порт", PortRange{Min: 10000, Max: 10000}, false},
		{"только нечетный порт", PortRange{Min: 10001, Max: 10001}, true},
		{"нулевой минимум", PortRange{Min: 0, Max: 10}, true},
		{"перевернутый диапазон", PortRange{Min: 20000, Max: 10000}, true},
		{"выход за 65535", PortRange{Min: 65000, Max: 70000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPortManager(tt.r, "127.0.0.1", SocketConfig{})
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPortManager_AllocateAndFallback(t *testing.T) {
	pm, err := NewPortManager(PortRange{Min: 47309, Max: 47313}, "127.0.0.1", SocketConfig{})
	require.NoError(t, err)

	var conns []*net.UDPConn
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for i := 0; i < 2; i++ {
		conn, err := pm.Allocate()
		require.NoError(t, err)
		conns = append(conns, conn)
		port := conn.LocalAddr().(*net.UDPAddr).Port
		assert.True(t, pm.InRange(port))
		assert.Zero(t, port%2, "port %d", port)
	}
	assert.Equal(t, 2, pm.UsedPorts())

	// Диапазон исчерпан: любой свободный порт
	conn, err := pm.Allocate()
	require.NoError(t, err)
	conns = append(conns, conn)
	port := conn.LocalAddr().(*net.UDPAddr).Port
	assert.False(t, pm.InRange(port))
	assert.NotZero(t, port)
}

func TestPortManager_StreamCloseReleasesPort(t *testing.T) {
	pm, err := NewPortManager(PortRange{Min: 47320, Max: 47320}, "127.0.0.1", SocketConfig{})
	require.NoError(t, err)

	stream, err := pm.OpenStream(nil, StreamConfig{})
	require.NoError(t, err)
	assert.Equal(t, 47320, stream.LocalPort())
	assert.Equal(t, 1, pm.UsedPorts())

	require.NoError(t, stream.Close())
	assert.Equal(t, 0, pm.UsedPorts())

	again, err := pm.OpenStream(nil, StreamConfig{})
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, 47320, again.LocalPort())
}
