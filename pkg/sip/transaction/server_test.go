package transaction

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/voice_bridge/pkg/media_sdp"
	"github.com/arzzra/voice_bridge/pkg/rtp"
)

const testOffer = "v=0\r\n" +
	"o=- 1 1 IN IP4 10.0.0.5\r\n" +
	"s=-\r\n" +
	"c=IN IP4 10.0.0.5\r\n" +
	"t=0 0\r\n" +
	"m=audio 20000 RTP/AVP 0\r\n"

type testPeer struct {
	t      *testing.T
	conn   *net.UDPConn
	server *net.UDPAddr
}

func newTestServer(t *testing.T, portMin, portMax int) (*Server, *rtp.PortManager, *testPeer) {
	t.Helper()

	pm, err := rtp.NewPortManager(rtp.PortRange{Min: portMin, Max: portMax}, "127.0.0.1", rtp.SocketConfig{})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	srv := NewServer(Config{
		ListenAddr: "127.0.0.1:0",
		Username:   "mumble-bridge",
		UserAgent:  "voice-bridge-test",
		LocalIP:    "127.0.0.1",
	}, pm, logger)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(srv.Stop)

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return srv, pm, &testPeer{t: t, conn: conn, server: srv.LocalAddr()}
}

func (p *testPeer) send(raw string) {
	p.t.Helper()
	_, err := p.conn.WriteToUDP([]byte(raw), p.server)
	require.NoError(p.t, err)
}

func (p *testPeer) read() string {
	p.t.Helper()
	buf := make([]byte, 65535)
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := p.conn.ReadFromUDP(buf)
	require.NoError(p.t, err)
	return string(buf[:n])
}

func (p *testPeer) expectSilence() {
	p.t.Helper()
	buf := make([]byte, 65535)
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := p.conn.ReadFromUDP(buf)
	require.Error(p.t, err)
}

func request(method, callID string, cseq int, body string) string {
	return fmt.Sprintf("%s sip:5000@127.0.0.1:5060 SIP/2.0\r\n"+
		"Via: SIP/2.0/UDP 127.0.0.1:5070;branch=z9hG4bK-%s-%d\r\n"+
		"From: \"Alice\" <sip:1001@127.0.0.1>;tag=caller-tag\r\n"+
		"To: <sip:5000@127.0.0.1>\r\n"+
		"Call-ID: %s\r\n"+
		"CSeq: %d %s\r\n"+
		"Content-Length: %d\r\n"+
		"\r\n%s", method, callID, cseq, callID, cseq, method, len(body), body)
}

func statusCode(t *testing.T, response string) int {
	t.Helper()
	fields := strings.Fields(strings.SplitN(response, "\r\n", 2)[0])
	require.GreaterOrEqual(t, len(fields), 2, response)
	code, err := strconv.Atoi(fields[1])
	require.NoError(t, err)
	return code
}

func responseBody(response string) string {
	idx := strings.Index(response, "\r\n\r\n")
	if idx < 0 {
		return ""
	}
	return response[idx+4:]
}

type callRecorder struct {
	mu    sync.Mutex
	calls []DialogInfo
	byes  []string
}

func (r *callRecorder) onCall(_ context.Context, info DialogInfo, _ *rtp.MediaStream) {
	r.mu.Lock()
	r.calls = append(r.calls, info)
	r.mu.Unlock()
}

func (r *callRecorder) onBye(callID string) {
	r.mu.Lock()
	r.byes = append(r.byes, callID)
	r.mu.Unlock()
}

func (r *callRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls), len(r.byes)
}

func TestServer_InviteAckEndToEnd(t *testing.T) {
	srv, pm, peer := newTestServer(t, 47400, 47410)
	rec := &callRecorder{}
	srv.OnCall(rec.onCall)

	peer.send(request("INVITE", "e2e-call", 1, testOffer))

	trying := peer.read()
	ringing := peer.read()
	ok := peer.read()

	assert.Equal(t, 100, statusCode(t, trying))
	assert.Equal(t, 180, statusCode(t, ringing))
	require.Equal(t, 200, statusCode(t, ok))

	assert.Contains(t, trying, "To: <sip:5000@127.0.0.1>\r\n")
	assert.Contains(t, ringing, "To: <sip:5000@127.0.0.1>;tag=")
	assert.Contains(t, ok, "Contact: <sip:mumble-bridge@127.0.0.1:")
	assert.Contains(t, ok, "Content-Type: application/sdp\r\n")
	assert.Contains(t, ok, "User-Agent: voice-bridge-test\r\n")
	assert.Contains(t, ok, "Call-ID: e2e-call\r\n")

	answer, err := media_sdp.ParseOffer([]byte(responseBody(ok)))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", answer.Address)
	assert.True(t, pm.InRange(answer.Port), "port %d", answer.Port)
	assert.Equal(t, []uint8{0, 8, 101}, answer.PayloadTypes)
	assert.Contains(t, responseBody(ok), "m=audio "+strconv.Itoa(answer.Port)+" RTP/AVP 0 8 101")

	info, found := srv.Lookup("e2e-call")
	require.True(t, found)
	assert.Equal(t, StateAnswered, info.State)
	assert.Equal(t, "Alice", info.CallerID)
	assert.Equal(t, "caller-tag", info.RemoteTag)
	assert.Equal(t, "10.0.0.5:20000", info.MediaRemote.String())
	assert.Equal(t, answer.Port, info.LocalPort)

	peer.send(request("ACK", "e2e-call", 1, ""))
	require.Eventually(t, func() bool {
		calls, _ := rec.counts()
		return calls == 1
	}, time.Second, 10*time.Millisecond)

	// повторный ACK не запускает вторую сессию
	peer.send(request("ACK", "e2e-call", 1, ""))
	peer.send(request("OPTIONS", "sync", 1, ""))
	assert.Equal(t, 200, statusCode(t, peer.read()))

	calls, _ := rec.counts()
	assert.Equal(t, 1, calls)

	info, _ = srv.Lookup("e2e-call")
	assert.Equal(t, StateActive, info.State)
}

func TestServer_InviteRetransmission(t *testing.T) {
	srv, pm, peer := newTestServer(t, 47420, 47430)
	rec := &callRecorder{}
	srv.OnCall(rec.onCall)

	invite := request("INVITE", "retransmit-call", 1, testOffer)

	var rounds [3][]string
	for i := range rounds {
		peer.send(invite)
		for j := 0; j < 3; j++ {
			rounds[i] = append(rounds[i], peer.read())
		}
	}

	assert.Equal(t, rounds[0], rounds[1])
	assert.Equal(t, rounds[0], rounds[2])
	assert.Equal(t, 1, srv.DialogCount())
	assert.Equal(t, 1, pm.UsedPorts())

	peer.send(request("ACK", "retransmit-call", 1, ""))
	peer.send(invite)
	for j := 0; j < 3; j++ {
		peer.read()
	}
	calls, _ := rec.counts()
	assert.Equal(t, 1, calls)
}

func TestServer_DoubleBye(t *testing.T) {
	srv, pm, peer := newTestServer(t, 47440, 47450)
	rec := &callRecorder{}
	srv.OnCall(rec.onCall)
	srv.OnBye(rec.onBye)

	peer.send(request("INVITE", "bye-call", 1, testOffer))
	for j := 0; j < 3; j++ {
		peer.read()
	}
	peer.send(request("ACK", "bye-call", 1, ""))

	peer.send(request("BYE", "bye-call", 2, ""))
	assert.Equal(t, 200, statusCode(t, peer.read()))
	peer.send(request("BYE", "bye-call", 3, ""))
	assert.Equal(t, 200, statusCode(t, peer.read()))

	_, byes := rec.counts()
	assert.Equal(t, 1, byes)
	assert.Equal(t, 0, srv.DialogCount())
	assert.Equal(t, 0, pm.UsedPorts())

	_, found := srv.Lookup("bye-call")
	assert.False(t, found)
}

func TestServer_SimpleMethods(t *testing.T) {
	tests := []struct {
		method string
		body   string
		want   int
	}{
		{"OPTIONS", "", 200},
		{"CANCEL", "", 200},
		{"REGISTER", "", 501},
		{"SUBSCRIBE", "", 501},
		{"INVITE", "v=0\r\ns=-\r\n", 400},
	}

	srv, _, peer := newTestServer(t, 47460, 47470)

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			peer.send(request(tt.method, "simple-"+tt.method, 1, tt.body))
			resp := peer.read()
			assert.Equal(t, tt.want, statusCode(t, resp))
			assert.True(t, strings.HasSuffix(resp, "Content-Length: 0\r\n\r\n"), resp)
		})
	}

	assert.Equal(t, 0, srv.DialogCount())
}

func TestServer_DropsGarbage(t *testing.T) {
	_, _, peer := newTestServer(t, 47480, 47490)

	peer.send("not a sip message")
	peer.send("SIP/2.0 200 OK\r\nCall-ID: x\r\n\r\n")
	peer.send("OPTIONS sip:5000@127.0.0.1 SIP/2.0\r\nCSeq: 1 OPTIONS\r\n\r\n")
	peer.expectSilence()

	// цикл чтения продолжает работать
	peer.send(request("OPTIONS", "after-garbage", 1, ""))
	assert.Equal(t, 200, statusCode(t, peer.read()))
}

func TestServer_DropAndStopReleasePorts(t *testing.T) {
	srv, pm, peer := newTestServer(t, 47500, 47510)

	for _, id := range []string{"drop-a", "drop-b"} {
		peer.send(request("INVITE", id, 1, testOffer))
		for j := 0; j < 3; j++ {
			peer.read()
		}
	}
	require.Equal(t, 2, srv.DialogCount())
	require.Equal(t, 2, pm.UsedPorts())

	require.NoError(t, srv.Drop("drop-a"))
	assert.ErrorIs(t, srv.Drop("drop-a"), ErrDialogNotFound)
	assert.Equal(t, 1, pm.UsedPorts())

	srv.Stop()
	assert.False(t, srv.Running())
	assert.Equal(t, 0, srv.DialogCount())
	assert.Equal(t, 0, pm.UsedPorts())

	// повторный запуск после остановки
	require.NoError(t, srv.Start(context.Background()))
	assert.ErrorIs(t, srv.Start(context.Background()), ErrAlreadyRunning)
}

func TestServer_HandlerPanicIsRecovered(t *testing.T) {
	srv, _, peer := newTestServer(t, 47520, 47530)
	var invoked atomic.Int32
	srv.OnCall(func(context.Context, DialogInfo, *rtp.MediaStream) {
		invoked.Add(1)
		panic("boom")
	})

	peer.send(request("INVITE", "panic-call", 1, testOffer))
	for j := 0; j < 3; j++ {
		peer.read()
	}
	peer.send(request("ACK", "panic-call", 1, ""))

	peer.send(request("OPTIONS", "after-panic", 1, ""))
	assert.Equal(t, 200, statusCode(t, peer.read()))
	assert.Equal(t, int32(1), invoked.Load())
}

func headerLine(response, name string) string {
	for _, line := range strings.Split(response, "\r\n") {
		if strings.HasPrefix(line, name+":") {
			return line
		}
	}
	return ""
}

func TestServer_RingingHookAndDialogTag(t *testing.T) {
	srv, _, peer := newTestServer(t, 47540, 47550)

	ringing := make(chan DialogInfo, 1)
	srv.OnRinging(func(info DialogInfo) { ringing <- info })

	peer.send(request("INVITE", "ring-call", 1, testOffer))
	peer.read()
	peer.read()
	ok := peer.read()

	select {
	case info := <-ringing:
		assert.Equal(t, "ring-call", info.CallID)
		assert.Equal(t, StateRinging, info.State)
		assert.NotEmpty(t, info.LocalTag)
	case <-time.After(time.Second):
		t.Fatal("ringing handler not called")
	}

	to := headerLine(ok, "To")
	require.Contains(t, to, ";tag=")

	// ответы на OPTIONS и CANCEL внутри диалога несут тот же to-tag
	peer.send(request("OPTIONS", "ring-call", 2, ""))
	assert.Equal(t, to, headerLine(peer.read(), "To"))
	peer.send(request("CANCEL", "ring-call", 1, ""))
	assert.Equal(t, to, headerLine(peer.read(), "To"))

	// вне диалога тега нет
	peer.send(request("OPTIONS", "no-dialog", 1, ""))
	assert.Equal(t, "To: <sip:5000@127.0.0.1>", headerLine(peer.read(), "To"))
}
