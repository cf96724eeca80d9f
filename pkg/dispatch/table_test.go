package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ryandielhenn/feedwire/pkg/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discover(id string) protocol.Command {
	return protocol.Command{Kind: protocol.KindDiscover, CorrelationID: id, URLs: []string{"http://a"}}
}

func okResult(id string) protocol.Result {
	return protocol.Result{Status: protocol.StatusOK, CorrelationID: id, Response: []byte(`"first"`)}
}

func TestRegisterResolve(t *testing.T) {
	tb := New(0, nil)
	fut, err := tb.Register(discover("1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if tb.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tb.Len())
	}
	if _, ok := fut.Result(); ok {
		t.Fatal("future resolved before Resolve")
	}

	if !tb.Resolve(okResult("1")) {
		t.Fatal("Resolve(1) = false, want true")
	}
	res, err := fut.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !res.OK() || res.CorrelationID != "1" {
		t.Fatalf("result = %+v", res)
	}
	if tb.Len() != 0 {
		t.Fatalf("Len after resolve = %d, want 0", tb.Len())
	}
}

func TestServerErrorCarriesOriginalCommand(t *testing.T) {
	tb := New(0, nil)
	fut, _ := tb.Register(discover("1"))

	msg, err := protocol.DecodeInbound([]byte(`{"type":"result","correlationId":"1","result":"error","reason":"bad url"}`))
	if err != nil {
		t.Fatalf("DecodeInbound: %v", err)
	}
	frame, ok := msg.(protocol.ResultFrame)
	if !ok {
		t.Fatalf("DecodeInbound = %T, want ResultFrame", msg)
	}
	if !tb.Resolve(frame.Result) {
		t.Fatal("Resolve(1) = false, want true")
	}
	res, _ := fut.Result()
	if res.OK() || res.Reason != "bad url" {
		t.Fatalf("result = %+v", res)
	}
	if res.Command == nil || res.Command.CorrelationID != "1" || res.Command.Kind != protocol.KindDiscover {
		t.Fatalf("error result command = %+v, want the registered discover", res.Command)
	}
}

func TestResolveTwiceDeliversOnce(t *testing.T) {
	tb := New(0, nil)
	fut, _ := tb.Register(discover("1"))

	if !tb.Resolve(okResult("1")) {
		t.Fatal("first Resolve = false")
	}
	second := protocol.Result{Status: protocol.StatusOK, CorrelationID: "1", Response: []byte(`"second"`)}
	if tb.Resolve(second) {
		t.Fatal("second Resolve = true, want false")
	}
	res, _ := fut.Result()
	if string(res.Response) != `"first"` {
		t.Fatalf("response = %s, want first", res.Response)
	}
}

func TestResolveUnknownIsNoop(t *testing.T) {
	tb := New(0, nil)
	if tb.Resolve(okResult("ghost")) {
		t.Fatal("Resolve(ghost) = true, want false")
	}
	if tb.Len() != 0 {
		t.Fatalf("Len = %d, want 0", tb.Len())
	}
}

func TestRegisterDuplicate(t *testing.T) {
	tb := New(0, nil)
	if _, err := tb.Register(discover("1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := tb.Register(discover("1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Register err = %v, want ErrDuplicate", err)
	}
	tb.Resolve(okResult("1"))
	if _, err := tb.Register(discover("1")); err != nil {
		t.Fatalf("Register after resolve: %v", err)
	}
	tb.AbandonAll(protocol.ReasonConnectionLost)
}

func TestTimeoutSynthesizesError(t *testing.T) {
	tb := New(30*time.Millisecond, nil)
	fut, _ := tb.Register(discover("slow"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	res, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.OK() || res.Reason != protocol.ReasonTimeout {
		t.Fatalf("result = %+v, want timeout error", res)
	}
	if res.Command == nil || res.Command.CorrelationID != "slow" {
		t.Fatalf("timeout result lost original command: %+v", res.Command)
	}
	if tb.Resolve(okResult("slow")) {
		t.Fatal("late Resolve after timeout = true, want false")
	}
}

func TestResolveBeforeTimeoutStopsTimer(t *testing.T) {
	tb := New(40*time.Millisecond, nil)
	fut, _ := tb.Register(discover("fast"))
	tb.Resolve(okResult("fast"))
	time.Sleep(80 * time.Millisecond)

	res, _ := fut.Result()
	if !res.OK() {
		t.Fatalf("result = %+v, want ok", res)
	}
}

func TestAbandonAll(t *testing.T) {
	tb := New(time.Minute, nil)
	var futs []*Future
	for _, id := range []string{"a", "b", "c"} {
		f, _ := tb.Register(discover(id))
		futs = append(futs, f)
	}
	if n := tb.AbandonAll(protocol.ReasonConnectionLost); n != 3 {
		t.Fatalf("AbandonAll = %d, want 3", n)
	}
	for _, f := range futs {
		res, ok := f.Result()
		if !ok || res.Reason != protocol.ReasonConnectionLost {
			t.Fatalf("future %s = %+v,%v", f.CorrelationID(), res, ok)
		}
	}
}

func TestWaitHonoursContext(t *testing.T) {
	tb := New(0, nil)
	fut, _ := tb.Register(discover("1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fut.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait err = %v, want Canceled", err)
	}
	tb.AbandonAll("test over")
}

func TestConcurrentResolveRace(t *testing.T) {
	tb := New(0, nil)
	fut, _ := tb.Register(discover("1"))

	var wg sync.WaitGroup
	wins := make(chan bool, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wins <- tb.Resolve(okResult("1"))
		}()
	}
	wg.Wait()
	close(wins)

	n := 0
	for w := range wins {
		if w {
			n++
		}
	}
	if n != 1 {
		t.Fatalf("winning resolves = %d, want 1", n)
	}
	<-fut.Done()
}
