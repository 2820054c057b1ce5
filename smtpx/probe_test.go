package smtpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modfin/utskick"
	"github.com/modfin/utskick/tools"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *tools.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return tools.LoggerCloner(l)
}

type commandLog struct {
	mu    sync.Mutex
	lines []string
}

func (c *commandLog) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *commandLog) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

func (c *commandLog) contains(prefix string) bool {
	for _, l := range c.all() {
		if strings.HasPrefix(l, prefix) {
			return true
		}
	}
	return false
}

// scriptedDialer runs a fake mail exchanger on the far side of a pipe. The
// first entry is written as the greeting, every following entry is written
// after one client command has been read. Once the script runs out the server
// keeps reading but stays silent.
func scriptedDialer(replies []string) (Dialer, *commandLog) {
	cmds := &commandLog{}

	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			r := bufio.NewReader(server)
			for i, rep := range replies {
				if i > 0 {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					cmds.add(strings.TrimRight(line, "\r\n"))
				}
				if _, err := server.Write([]byte(rep)); err != nil {
					return
				}
			}
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return
				}
				cmds.add(strings.TrimRight(line, "\r\n"))
			}
		}()
		return client, nil
	}
	return dial, cmds
}

func newTestProber(dial Dialer, timeout time.Duration) *Prober {
	return NewProber(Config{
		Helo:    "verify.local",
		From:    "verify@example.com",
		Timeout: timeout,
	}, dial, testLogger())
}

func TestProbeValid(t *testing.T) {
	dial, cmds := scriptedDialer([]string{
		"220 mx.example.com ESMTP\r\n",
		"250 Hello\r\n",
		"250 Sender OK\r\n",
		"250 Recipient OK\r\n",
	})
	p := newTestProber(dial, time.Second)

	res := p.Probe(context.Background(), "mx.example.com:25", "a@example.com")
	assert.Equal(t, utskick.VerdictValid, res.Verdict)
	assert.Equal(t, "Mailbox exists", res.Reason)

	require.Eventually(t, func() bool {
		return cmds.contains("QUIT")
	}, time.Second, 10*time.Millisecond, "session must always end with a quit line")

	got := cmds.all()
	assert.Equal(t, "HELO verify.local", got[0])
	assert.Equal(t, "MAIL FROM:<verify@example.com>", got[1])
	assert.Equal(t, "RCPT TO:<a@example.com>", got[2])
}

func TestProbeInvalidMailbox(t *testing.T) {
	for _, code := range []string{"550 No such user\r\n", "551 Not local\r\n", "553 Bad mailbox\r\n"} {
		dial, _ := scriptedDialer([]string{
			"220 ready\r\n", "250 ok\r\n", "250 ok\r\n", code,
		})
		res := newTestProber(dial, time.Second).Probe(context.Background(), "mx:25", "a@x.com")
		assert.Equal(t, utskick.VerdictInvalid, res.Verdict)
		assert.Equal(t, "Mailbox does not exist", res.Reason)
	}
}

func TestProbeTemporaryError(t *testing.T) {
	for _, code := range []string{"421 Busy\r\n", "450 Try later\r\n", "451 Greylisted\r\n"} {
		dial, _ := scriptedDialer([]string{
			"220 ready\r\n", "250 ok\r\n", "250 ok\r\n", code,
		})
		res := newTestProber(dial, time.Second).Probe(context.Background(), "mx:25", "a@x.com")
		assert.Equal(t, utskick.VerdictUnknown, res.Verdict)
		assert.Equal(t, "Temporary error", res.Reason)
	}
}

func TestProbeUnexpectedRcptReply(t *testing.T) {
	dial, _ := scriptedDialer([]string{
		"220 ready\r\n", "250 ok\r\n", "250 ok\r\n", "354 go ahead\r\n",
	})
	res := newTestProber(dial, time.Second).Probe(context.Background(), "mx:25", "a@x.com")
	assert.Equal(t, utskick.VerdictUnknown, res.Verdict)
	assert.Contains(t, res.Reason, "Unexpected response: 354 go ahead")
}

func TestProbeTimeoutAfterHelo(t *testing.T) {
	// the server answers the greeting and the HELO, then goes silent while
	// our MAIL FROM is in flight. That must never become valid or invalid.
	dial, _ := scriptedDialer([]string{
		"220 ready\r\n", "250 ok\r\n",
	})
	res := newTestProber(dial, 200*time.Millisecond).Probe(context.Background(), "mx:25", "a@x.com")
	assert.Equal(t, utskick.VerdictUnknown, res.Verdict)
	assert.Equal(t, "Timeout", res.Reason)
}

func TestProbeDialError(t *testing.T) {
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("connection refused")
	}
	res := newTestProber(dial, time.Second).Probe(context.Background(), "mx:25", "a@x.com")
	assert.Equal(t, utskick.VerdictError, res.Verdict)
	assert.Equal(t, "connection refused", res.Reason)
}

func TestProbeGarbageGreeting(t *testing.T) {
	dial, _ := scriptedDialer([]string{"go away\r\n"})
	res := newTestProber(dial, time.Second).Probe(context.Background(), "mx:25", "a@x.com")
	assert.Equal(t, utskick.VerdictUnknown, res.Verdict)
	assert.Contains(t, res.Reason, "Unexpected response: go away")
}

func TestProbeMultilineReplies(t *testing.T) {
	dial, _ := scriptedDialer([]string{
		"220-mx.example.com welcomes you\r\n220 ESMTP\r\n",
		"250-mx.example.com\r\n250-SIZE 1000000\r\n250 HELP\r\n",
		"250 ok\r\n",
		"250-Recipient\r\n250 OK\r\n",
	})
	res := newTestProber(dial, time.Second).Probe(context.Background(), "mx:25", "a@x.com")
	assert.Equal(t, utskick.VerdictValid, res.Verdict)
}

func TestProbeFragmentedReply(t *testing.T) {
	// a reply arriving in two fragments must be assembled before the state
	// machine advances
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			_, _ = server.Write([]byte("220 re"))
			time.Sleep(50 * time.Millisecond)
			_, _ = server.Write([]byte("ady\r\n"))

			r := bufio.NewReader(server)
			script := []string{"250 ok\r\n", "250 ok\r\n", "250 ok\r\n"}
			for _, rep := range script {
				if _, err := r.ReadString('\n'); err != nil {
					return
				}
				if _, err := server.Write([]byte(rep)); err != nil {
					return
				}
			}
			_, _ = r.ReadString('\n') // QUIT
		}()
		return client, nil
	}
	res := newTestProber(dial, time.Second).Probe(context.Background(), "mx:25", "a@x.com")
	assert.Equal(t, utskick.VerdictValid, res.Verdict)
}

func TestProbeAbruptDisconnect(t *testing.T) {
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			_, _ = server.Write([]byte("220 ready\r\n"))
			r := bufio.NewReader(server)
			_, _ = r.ReadString('\n')
			_ = server.Close()
		}()
		return client, nil
	}
	res := newTestProber(dial, time.Second).Probe(context.Background(), "mx:25", "a@x.com")
	assert.Equal(t, utskick.VerdictError, res.Verdict)
}
