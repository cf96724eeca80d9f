package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ryandielhenn/feedwire/pkg/dispatch"
	"github.com/ryandielhenn/feedwire/pkg/protocol"
	"github.com/ryandielhenn/feedwire/pkg/ring"
	"github.com/ryandielhenn/feedwire/pkg/sender"
	"github.com/ryandielhenn/feedwire/pkg/state"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	errRefused    = errors.New("connection refused")
	errConnClosed = errors.New("use of closed connection")
)

type fakeConn struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case d := <-c.in:
		return d, nil
	case <-c.closed:
		return nil, errConnClosed
	}
}

func (c *fakeConn) WriteFrame(data []byte) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	c.out <- data
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer refuses the first fail dials and then hands out fakeConns.
type fakeDialer struct {
	mu    sync.Mutex
	fail  int
	urls  []string
	conns chan *fakeConn
}

func newFakeDialer(fail int) *fakeDialer {
	return &fakeDialer{fail: fail, conns: make(chan *fakeConn, 8)}
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.fail > 0 {
		d.fail--
		return nil, errRefused
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

type recordSink struct {
	mu     sync.Mutex
	states []state.ConnectionState
	ch     chan state.ConnectionState
}

func newRecordSink() *recordSink {
	return &recordSink{ch: make(chan state.ConnectionState, 64)}
}

func (s *recordSink) SetConnectionState(cs state.ConnectionState) {
	s.mu.Lock()
	s.states = append(s.states, cs)
	s.mu.Unlock()
	select {
	case s.ch <- cs:
	default:
	}
}

func (s *recordSink) recorded() []state.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]state.ConnectionState(nil), s.states...)
}

func (s *recordSink) waitFor(t *testing.T, want state.ConnectionState) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case cs := <-s.ch:
			if cs == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v; saw %v", want, s.recorded())
		}
	}
}

type nopFrames struct{}

func (nopFrames) HandleFrame([]byte) {}

func testRing(urls ...string) *ring.Ring {
	r := ring.New(0, nil)
	for i, u := range urls {
		r.Add(fmt.Sprintf("e%d", i), u)
	}
	return r
}

func TestSupervisorBacksOffWhileUnreachable(t *testing.T) {
	tb := dispatch.New(0, nil)
	sw := sender.NewSwitch()
	sink := newRecordSink()
	d := newFakeDialer(1 << 20)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var delays []time.Duration
	wait := func(ctx context.Context, dl time.Duration) error {
		delays = append(delays, dl)
		if len(delays) == 4 {
			cancel()
		}
		return ctx.Err()
	}

	sup := NewSupervisor(testRing("ws://a/ws"), tb, sw, nopFrames{}, sink, WithDialer(d), WithWait(wait))
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}

	b := DefaultBackoff()
	want := []time.Duration{b.Delay(1), b.Delay(2), b.Delay(3), b.Delay(4)}
	if fmt.Sprint(delays) != fmt.Sprint(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	got := sink.recorded()
	if len(got) != 8 {
		t.Fatalf("transitions = %v, want 4x connecting/closed", got)
	}
	for i, cs := range got {
		want := state.Connecting
		if i%2 == 1 {
			want = state.Closed
		}
		if cs != want {
			t.Fatalf("transition %d = %v, want %v", i, cs, want)
		}
	}
	if sw.Mode() != sender.ModeQueued {
		t.Fatalf("mode = %v, want queued", sw.Mode())
	}
	if sup.State() != state.Closed {
		t.Fatalf("State = %v, want closed", sup.State())
	}
}

func TestSupervisorNoEndpoints(t *testing.T) {
	d := newFakeDialer(0)
	sink := newRecordSink()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wait := func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	sup := NewSupervisor(testRing(), dispatch.New(0, nil), sender.NewSwitch(), nopFrames{}, sink,
		WithDialer(d), WithWait(wait))
	_ = sup.Run(ctx)

	if n := len(d.dialed()); n != 0 {
		t.Fatalf("dialed %d times with an empty ring", n)
	}
	if got := sink.recorded(); fmt.Sprint(got) != fmt.Sprint([]state.ConnectionState{state.Connecting, state.Closed}) {
		t.Fatalf("transitions = %v", got)
	}
}

func TestSupervisorRotatesEndpointsOnFailure(t *testing.T) {
	d := newFakeDialer(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n := 0
	wait := func(ctx context.Context, _ time.Duration) error {
		n++
		if n == 3 {
			cancel()
		}
		return ctx.Err()
	}

	sup := NewSupervisor(testRing("ws://a/ws", "ws://b/ws"), dispatch.New(0, nil), sender.NewSwitch(),
		nopFrames{}, nil, WithDialer(d), WithWait(wait), WithSessionKey("session-1"))
	_ = sup.Run(ctx)

	urls := d.dialed()
	if len(urls) != 3 {
		t.Fatalf("dials = %v, want 3", urls)
	}
	if urls[0] == urls[1] {
		t.Fatalf("second attempt reused %s", urls[0])
	}
	if urls[2] != urls[0] {
		t.Fatalf("third attempt = %s, want wrap around to %s", urls[2], urls[0])
	}
}

func TestSupervisorOpenAndDrop(t *testing.T) {
	tb := dispatch.New(0, nil)
	sw := sender.NewSwitch()
	sink := newRecordSink()
	d := newFakeDialer(1)
	delays := make(chan time.Duration, 16)
	wait := func(ctx context.Context, dl time.Duration) error {
		delays <- dl
		return ctx.Err()
	}

	sup := NewSupervisor(testRing("ws://a/ws"), tb, sw, nopFrames{}, sink, WithDialer(d), WithWait(wait))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run = %v", err)
		}
	}()

	conn := <-d.conns
	sink.waitFor(t, state.Open)
	if sw.Mode() != sender.ModeDirect {
		t.Fatalf("mode after open = %v, want direct", sw.Mode())
	}

	fut, err := sw.Send(protocol.Command{Kind: protocol.KindDiscover, CorrelationID: "c1", URLs: []string{"http://a"}})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var sent protocol.Command
	if err := json.Unmarshal(<-conn.out, &sent); err != nil {
		t.Fatalf("decode sent frame: %v", err)
	}
	if sent.CorrelationID != "c1" {
		t.Fatalf("sent id = %q, want c1", sent.CorrelationID)
	}

	_ = conn.Close()
	sink.waitFor(t, state.Closed)
	if sw.Mode() != sender.ModeQueued {
		t.Fatalf("mode after drop = %v, want queued", sw.Mode())
	}
	res, ok := fut.Result()
	if !ok {
		t.Fatal("in-flight command not abandoned on drop")
	}
	if res.OK() || res.Reason != protocol.ReasonConnectionLost {
		t.Fatalf("result = %+v, want error %q", res, protocol.ReasonConnectionLost)
	}

	b := DefaultBackoff()
	if dl := <-delays; dl != b.Delay(1) {
		t.Fatalf("first delay = %v, want %v", dl, b.Delay(1))
	}
	// The successful open resets the attempt counter.
	if dl := <-delays; dl != b.Delay(1) {
		t.Fatalf("delay after open = %v, want %v", dl, b.Delay(1))
	}
	<-d.conns
	sink.waitFor(t, state.Open)
}
