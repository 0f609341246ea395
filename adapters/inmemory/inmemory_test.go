package inmemory_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/next-trace/scg-appfw/adapters/inmemory"
	cbus "github.com/next-trace/scg-appfw/contract/bus"
	berr "github.com/next-trace/scg-appfw/contract/errors"
)

type statePair struct {
	state cbus.ConnState
	peers int
}

type recPeer struct {
	mu     sync.Mutex
	states []statePair
	msgs   []cbus.Message
}

func (p *recPeer) OnConnState(s cbus.ConnState, peers int) {
	p.mu.Lock()
	p.states = append(p.states, statePair{s, peers})
	p.mu.Unlock()
}

func (p *recPeer) OnMessage(m cbus.Message) {
	p.mu.Lock()
	p.msgs = append(p.msgs, m)
	p.mu.Unlock()
}

func (p *recPeer) last() statePair {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.states) == 0 {
		return statePair{}
	}

	return p.states[len(p.states)-1]
}

const url = "svc://media.bus"

func TestInmemory_ClientBeforeServer(t *testing.T) {
	tr := inmemory.New()
	cp, sp := &recPeer{}, &recPeer{}

	cs, err := tr.Dial(t.Context(), url, cp)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if len(cp.states) != 0 {
		t.Fatalf("client must stay offline without a server: %+v", cp.states)
	}

	if err := cs.Send(t.Context(), cbus.Message{Kind: cbus.KindRequest, Code: 1}); !errors.Is(err, berr.ErrNotConnected) {
		t.Fatalf("want ErrNotConnected, got %v", err)
	}

	ss, err := tr.Listen(t.Context(), url, sp)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	if got := cp.last(); got.state != cbus.Online {
		t.Fatalf("client not online after bind: %+v", got)
	}

	if got := sp.last(); got.state != cbus.Online || got.peers != 1 {
		t.Fatalf("server state: %+v", got)
	}

	if err := cs.Send(t.Context(), cbus.Message{Kind: cbus.KindRequest, Code: 7}); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := ss.Send(t.Context(), cbus.Message{Kind: cbus.KindEvent, Code: 9}); err != nil {
		t.Fatalf("event: %v", err)
	}

	if len(sp.msgs) != 1 || sp.msgs[0].Code != 7 {
		t.Fatalf("server msgs: %+v", sp.msgs)
	}

	if len(cp.msgs) != 1 || cp.msgs[0].Code != 9 {
		t.Fatalf("client msgs: %+v", cp.msgs)
	}

	if err := cs.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := sp.last(); got.state != cbus.Offline || got.peers != 0 {
		t.Fatalf("server after last client left: %+v", got)
	}

	if tr.DialCount(url) != 1 || len(tr.Listened) != 1 {
		t.Fatalf("recordings: dialed=%v listened=%v", tr.Dialed, tr.Listened)
	}
}

func TestInmemory_ListenTwiceFails(t *testing.T) {
	tr := inmemory.New()
	if _, err := tr.Listen(t.Context(), url, &recPeer{}); err != nil {
		t.Fatalf("listen: %v", err)
	}

	if _, err := tr.Listen(t.Context(), url, &recPeer{}); err == nil {
		t.Fatalf("expected address in use")
	}
}

func TestInmemory_ServerCloseTakesClientsOffline(t *testing.T) {
	tr := inmemory.New()
	cp := &recPeer{}

	ss, _ := tr.Listen(t.Context(), url, &recPeer{})
	if _, err := tr.Dial(t.Context(), url, cp); err != nil {
		t.Fatalf("dial: %v", err)
	}

	_ = ss.Close()

	if got := cp.last(); got.state != cbus.Offline {
		t.Fatalf("client after server close: %+v", got)
	}

	if err := ss.Send(t.Context(), cbus.Message{}); !errors.Is(err, berr.ErrEndpointClosed) {
		t.Fatalf("want ErrEndpointClosed, got %v", err)
	}
}

func TestInmemory_InjectedFailuresAndBadURL(t *testing.T) {
	tr := inmemory.New()
	tr.DialErr = errors.New("refused")

	if _, err := tr.Dial(t.Context(), url, &recPeer{}); err == nil {
		t.Fatalf("expected injected dial error")
	}

	if _, err := tr.Listen(t.Context(), "no-scheme", &recPeer{}); !errors.Is(err, berr.ErrInvalidBusName) {
		t.Fatalf("want ErrInvalidBusName, got %v", err)
	}
}

func TestInmemory_ConcurrentSafety(t *testing.T) {
	tr := inmemory.New()
	if _, err := tr.Listen(t.Context(), url, &recPeer{}); err != nil {
		t.Fatalf("listen: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			s, err := tr.Dial(t.Context(), url, &recPeer{})
			if err != nil {
				return
			}

			_ = s.Send(t.Context(), cbus.Message{Kind: cbus.KindRequest})
			_ = s.Close()
		}()
	}

	wg.Wait()

	if n := tr.DialCount(url); n != 50 {
		t.Fatalf("dials=%d", n)
	}
}
