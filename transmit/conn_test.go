package transmit

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func serve(t testing.TB, srv *Server) (addr string, stop func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	return ln.Addr().String(), func() {
		srv.Shutdown()
		require.NoError(t, ln.Close())
		require.NoError(t, <-done)
	}
}

func TestClientSend(t *testing.T) {
	defer goleak.VerifyNone(t)

	n := 4
	m := 256
	c := uint32(n * m)

	var server Server
	server.Handler = HandlerFunc(func(ctx *Context) error {
		atomic.AddUint32(&c, ^uint32(0))
		return nil
	})

	addr, stop := serve(t, &server)
	client := &Client{Addr: addr}

	defer func() {
		client.Shutdown()
		stop()
	}()

	conn, err := client.Dial()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			for j := 0; j < m; j++ {
				require.NoError(t, conn.Send([]byte(fmt.Sprintf("[%d] hello %d", i, j))))
			}
		}(i)
	}

	wg.Wait()

	require.Eventually(t, func() bool { return atomic.LoadUint32(&c) == 0 }, time.Second, time.Millisecond)
}

func TestClientRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	var server Server
	server.Handler = HandlerFunc(func(ctx *Context) error {
		return ctx.Reply(append([]byte("re: "), ctx.Body()...))
	})

	addr, stop := serve(t, &server)
	client := &Client{Addr: addr}

	defer func() {
		client.Shutdown()
		stop()
	}()

	conn, err := client.Dial()
	require.NoError(t, err)

	n := 4
	m := 256

	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			for j := 0; j < m; j++ {
				msg := fmt.Sprintf("[%d] hello %d", i, j)
				res, err := conn.Request(nil, []byte(msg))
				require.NoError(t, err)
				require.EqualValues(t, "re: "+msg, string(res))
			}
		}(i)
	}

	wg.Wait()
	require.Zero(t, conn.NumPendingRequests())
}

func TestServerInitiatedRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	accepted := make(chan *Conn, 1)

	var server Server
	server.ConnState = ConnStateHandlerFunc(func(conn *Conn, state ConnState) {
		if state == StateNew {
			accepted <- conn
		}
	})

	addr, stop := serve(t, &server)

	client := &Client{
		Addr: addr,
		Handler: HandlerFunc(func(ctx *Context) error {
			return ctx.Reply([]byte("from client"))
		}),
	}

	defer func() {
		client.Shutdown()
		stop()
	}()

	_, err := client.Dial()
	require.NoError(t, err)

	res, err := (<-accepted).Request(nil, []byte("ping"))
	require.NoError(t, err)
	require.EqualValues(t, "from client", string(res))
}

func TestRequestTimeout(t *testing.T) {
	defer goleak.VerifyNone(t)

	var server Server // never replies

	addr, stop := serve(t, &server)
	client := &Client{Addr: addr}

	defer func() {
		client.Shutdown()
		stop()
	}()

	conn, err := client.Dial()
	require.NoError(t, err)

	_, err = conn.RequestWithTimeout(nil, []byte("anyone?"), 10*time.Millisecond)
	require.True(t, errors.Is(err, ErrRequestTimeout))
	require.Zero(t, conn.NumPendingRequests())
}

func TestHandlerErrorEndsSession(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("boom")

	var server Server
	server.Handler = HandlerFunc(func(ctx *Context) error { return boom })

	addr, stop := serve(t, &server)

	closed := make(chan struct{})
	client := &Client{
		Addr: addr,
		ConnState: ConnStateHandlerFunc(func(conn *Conn, state ConnState) {
			if state == StateClosed {
				close(closed)
			}
		}),
	}

	defer func() {
		client.Shutdown()
		stop()
	}()

	conn, err := client.Dial()
	require.NoError(t, err)

	_, err = conn.Request(nil, []byte("trigger"))
	require.True(t, errors.Is(err, ErrConnClosed))

	<-closed
	require.Error(t, conn.Err())
	require.True(t, errors.Is(conn.SendNoWait([]byte("late")), ErrConnClosed))
}

func TestCloseFromHandlerDoesNotBlock(t *testing.T) {
	defer goleak.VerifyNone(t)

	var server Server
	server.Handler = HandlerFunc(func(ctx *Context) error {
		ctx.Conn().Close()
		return nil
	})

	addr, stop := serve(t, &server)
	client := &Client{Addr: addr}

	defer func() {
		client.Shutdown()
		stop()
	}()

	conn, err := client.Dial()
	require.NoError(t, err)

	require.NoError(t, conn.Send([]byte("close yourself")))
	require.Eventually(t, func() bool { return server.NumConns() == 0 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return client.NumConns() == 0 }, time.Second, time.Millisecond)
}

func TestReplyWithoutRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	replied := make(chan error, 1)

	var server Server
	server.Handler = HandlerFunc(func(ctx *Context) error {
		replied <- ctx.Reply([]byte("nobody asked"))
		return nil
	})

	addr, stop := serve(t, &server)
	client := &Client{Addr: addr}

	defer func() {
		client.Shutdown()
		stop()
	}()

	conn, err := client.Dial()
	require.NoError(t, err)
	require.NoError(t, conn.SendNoWait([]byte("one way")))

	require.True(t, errors.Is(<-replied, ErrNoReplyExpected))
}

func TestDialAfterShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := &Client{Addr: "127.0.0.1:1"}
	client.Shutdown()

	_, err := client.Dial()
	require.True(t, errors.Is(err, ErrClientShutdown))
}

func BenchmarkRequest(b *testing.B) {
	var server Server
	server.Handler = HandlerFunc(func(ctx *Context) error {
		return ctx.Reply(nil)
	})

	addr, stop := serve(b, &server)
	client := &Client{Addr: addr}

	defer func() {
		client.Shutdown()
		stop()
	}()

	conn, err := client.Dial()
	require.NoError(b, err)

	buf := make([]byte, 1400)

	b.SetBytes(int64(len(buf)))
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := conn.Request(nil, buf); err != nil {
				b.Fatal(err)
			}
		}
	})
}
