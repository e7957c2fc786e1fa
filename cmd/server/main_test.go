package main

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestListeners_BindsBoth(t *testing.T) {
	httpLis, grpcLis, err := listeners("127.0.0.1:0", "127.0.0.1:0")
	require.NoError(t, err)
	defer httpLis.Close()
	defer grpcLis.Close()
	assert.NotEqual(t, httpLis.Addr().String(), grpcLis.Addr().String())
}

func TestListeners_GRPCDisabled(t *testing.T) {
	httpLis, grpcLis, err := listeners("127.0.0.1:0", "")
	require.NoError(t, err)
	defer httpLis.Close()
	assert.Nil(t, grpcLis)
}

func TestListeners_GRPCPortTakenReleasesHTTP(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	httpAddr := freeAddr(t)
	httpLis, grpcLis, err := listeners(httpAddr, taken.Addr().String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grpc health listener")
	assert.Nil(t, httpLis)
	assert.Nil(t, grpcLis)

	// the HTTP port was given back
	again, err := net.Listen("tcp", httpAddr)
	require.NoError(t, err)
	again.Close()
}

func TestListeners_HTTPPortTaken(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	_, _, err = listeners(taken.Addr().String(), "127.0.0.1:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http listener")
}
