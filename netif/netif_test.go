package netif

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSocketState(t *testing.T) {
	tests := []struct {
		state    SocketState
		open     bool
		halfOpen bool
		str      string
	}{
		{SocketClosed, false, false, "closed"},
		{SocketSynSent, true, true, "syn-sent"},
		{SocketEstablished, true, false, "established"},
		{SocketFinWait, true, true, "fin-wait"},
		{SocketCloseWait, true, true, "close-wait"},
		{SocketState(42), true, false, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			require := require.New(t)
			require.Equal(tt.open, tt.state.IsOpen())
			require.Equal(tt.halfOpen, tt.state.IsHalfOpen())
			require.Equal(tt.str, tt.state.String())
		})
	}
}
