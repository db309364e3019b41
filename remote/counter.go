// Package remote accesses counting hardware served by a remote
// acquisition host over a websocket. Requests carry an id; the host
// answers each one with a matching response.
package remote

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mastercactapus/qscan/scan"
)

// Counter is a scan.Counter proxied to a remote host. It connects
// lazily and reconnects on failure; requests in flight when the
// connection drops fail rather than hang.
type Counter struct {
	url   string
	clock float64

	nextID uint64

	mx      sync.Mutex
	pending map[uint64]chan response

	outgoing chan message
}

type message struct {
	done    chan struct{}
	payload []byte
}

type request struct {
	ID     uint64 `json:"id"`
	Op     string `json:"op"`
	Cycles uint64 `json:"cycles,omitempty"`
}

type response struct {
	ID     uint64  `json:"id"`
	Error  string  `json:"error,omitempty"`
	Clock  float64 `json:"clock,omitempty"`
	Counts float64 `json:"counts,omitempty"`
	Cycles uint64  `json:"cycles,omitempty"`
}

var _ scan.Counter = (*Counter)(nil)

// DialCounter starts a client for the host at url. The timebase is
// taken from configuration; each connection is checked against the
// host's own report of its clock.
func DialCounter(url string, clock float64) *Counter {
	c := &Counter{
		url:      url,
		clock:    clock,
		pending:  make(map[uint64]chan response),
		outgoing: make(chan message, 1000),
	}

	go c.loop()

	return c
}

func (c *Counter) ClockRate() float64 { return c.clock }

func (c *Counter) ConfigureBatch(cycles uint64) error {
	_, err := c.request("configure", cycles)
	return err
}

func (c *Counter) Start() error {
	_, err := c.request("start", 0)
	return err
}

func (c *Counter) Stop() error {
	_, err := c.request("stop", 0)
	return err
}

func (c *Counter) ReadBatch() (scan.BatchResult, error) {
	resp, err := c.request("read", 0)
	if err != nil {
		return scan.BatchResult{}, err
	}
	return scan.BatchResult{Counts: resp.Counts, Cycles: resp.Cycles}, nil
}

func (c *Counter) request(op string, cycles uint64) (response, error) {
	id := atomic.AddUint64(&c.nextID, 1)
	data, err := json.Marshal(request{ID: id, Op: op, Cycles: cycles})
	if err != nil {
		// shouldn't happen since we control everything that's sent out
		log.Panicln("ERROR: marshal request:", err)
	}

	ch := make(chan response, 1)
	c.mx.Lock()
	c.pending[id] = ch
	c.mx.Unlock()

	done := make(chan struct{})
	c.outgoing <- message{done: done, payload: data}
	<-done

	resp := <-ch
	if resp.Error != "" {
		return resp, errors.New(resp.Error)
	}
	return resp, nil
}

// failPending answers every outstanding request with an error. A
// request that still executes remotely gets its real response dropped
// as unmatched later.
func (c *Counter) failPending() {
	c.mx.Lock()
	for id, ch := range c.pending {
		ch <- response{ID: id, Error: "connection lost"}
		delete(c.pending, id)
	}
	c.mx.Unlock()
}

func (c *Counter) readLoop(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			log.Println("ERROR: read:", err)
			return
		}
		var resp response
		err = json.Unmarshal(data, &resp)
		if err != nil {
			log.Println("ERROR: parse:", err)
			continue
		}

		c.mx.Lock()
		ch := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mx.Unlock()
		if ch == nil {
			log.Println("ERROR: unmatched response id:", resp.ID)
			continue
		}
		ch <- resp
	}
}

func (c *Counter) loop() {
	var nextUp message

reconnect:
	for {
		log.Println("Connecting to", c.url)
		ws, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			log.Println("ERROR: connect:", err)
			time.Sleep(3 * time.Second)
			continue
		}
		log.Println("Connected.")
		ch := make(chan struct{})
		go c.readLoop(ws, ch)
		go c.checkClock()

		for {
			if nextUp.done != nil {
				err = ws.WriteMessage(websocket.TextMessage, nextUp.payload)
				if err != nil {
					log.Println("ERROR: send:", err)
					c.failPending()
					continue reconnect
				}
				close(nextUp.done)
				nextUp.done = nil
			}

			select {
			case <-ch:
				c.failPending()
				continue reconnect
			case nextUp = <-c.outgoing:
			}
		}
	}
}

// checkClock warns when the remote timebase disagrees with the
// configured one; every rate would come out scaled wrong.
func (c *Counter) checkClock() {
	resp, err := c.request("clock", 0)
	if err != nil {
		log.Println("ERROR: clock check:", err)
		return
	}
	if resp.Clock != 0 && resp.Clock != c.clock {
		log.Printf("remote clock %g Hz differs from configured %g Hz", resp.Clock, c.clock)
	}
}
