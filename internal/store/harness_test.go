package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hearthhub/hearthhub/internal/apiclient"
	"github.com/hearthhub/hearthhub/internal/localstore"
	"github.com/hearthhub/hearthhub/internal/logging"
	"github.com/hearthhub/hearthhub/internal/realtime"
	"github.com/hearthhub/hearthhub/pkg/testutil"
)

// fixture wires a store Deps against a mock REST server and a scripted
// push channel.
type fixture struct {
	server *testutil.MockServer
	conn   *testutil.FakeConn
	local  *localstore.Store
	deps   Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	server := testutil.NewMockServer()
	t.Cleanup(server.Close)

	api, err := apiclient.New(apiclient.Config{
		BaseURL: server.URL,
		Tokens:  testutil.NewStaticTokens("token-1"),
		// No status retries; failure tests assert on single calls.
		Retry:  apiclient.RetryConfig{InitialBackoff: time.Millisecond},
		Logger: logging.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(api.Close)

	transport := testutil.NewFakeTransport()
	conn := transport.QueueConn()
	channel := realtime.NewManager(realtime.Config{
		Transport:         transport,
		HeartbeatInterval: time.Hour,
		HeartbeatTimeout:  2 * time.Hour,
		Logger:            logging.Nop(),
	})
	require.NoError(t, channel.Connect(context.Background()))
	t.Cleanup(channel.Close)

	local, err := localstore.Open("")
	require.NoError(t, err)

	return &fixture{
		server: server,
		conn:   conn,
		local:  local,
		deps: Deps{
			API:     api,
			Channel: channel,
			Local:   local,
			Logger:  logging.Nop(),
			UserID:  "user-1",
		},
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
