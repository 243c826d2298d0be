package socket

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := ln.Accept()
		if err == nil {
			server = c
		}
	}()
	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	<-done
	require.NotNil(t, server)
	t.Cleanup(func() { client.Close(); server.Close() })
	return client, server
}

func TestApplyTunesTCPConn(t *testing.T) {
	client, _ := tcpPair(t)
	require.NoError(t, Apply(client, DefaultConfig()))
}

func TestApplyIgnoresNonTCP(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	require.NoError(t, Apply(a, DefaultConfig()))
}

func TestApplyListenerTunesTCPListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	require.NoError(t, ApplyListener(ln, DefaultConfig()))
}

func TestSendFileTransfersRequestedRange(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 1000)
	path := filepath.Join(t.TempDir(), "payload")
	require.NoError(t, os.WriteFile(path, payload, 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	client, server := tcpPair(t)

	const off, count = 10, 5000
	recvDone := make(chan []byte, 1)
	go func() {
		buf := make([]byte, count)
		total := 0
		for total < count {
			n, err := server.Read(buf[total:])
			if err != nil {
				break
			}
			total += n
		}
		recvDone <- buf[:total]
	}()

	written, err := SendFile(client, f, off, count)
	require.NoError(t, err)
	require.Equal(t, int64(count), written)
	client.Close()

	require.Equal(t, payload[off:off+count], <-recvDone)
}
