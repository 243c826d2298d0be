package respbody

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildFormatsFixedBody(t *testing.T) {
	bb, body := Build(404, "Not Found")
	require.Equal(t, "<html>404 Not Found</html>\r\n", string(body))
	Release(bb)
}

func TestBuildReleaseRoundTrip(t *testing.T) {
	for i := 0; i < 4; i++ {
		bb, body := Build(400, "Bad Request")
		require.Equal(t, "<html>400 Bad Request</html>\r\n", string(body))
		Release(bb)
	}
}

func TestReleaseNilIsSafe(t *testing.T) {
	require.NotPanics(t, func() { Release(nil) })
}
