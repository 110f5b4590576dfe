package rearview

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUDPListenerBadAddress(t *testing.T) {
	l := NewUDPListener("not-an-address:?", NewPipeline(NewNets(), &testUpstream{}))
	require.Error(t, l.Start())
}

func TestUDPListenerString(t *testing.T) {
	l := NewUDPListener("127.0.0.1:53", nil)
	require.Equal(t, "UDP(127.0.0.1:53)", l.String())
}
