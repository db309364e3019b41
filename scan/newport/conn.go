// Package newport drives Newport SMC-style micrometer stages over a
// serial connection.
package newport

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// Conn is a line-oriented command connection to a micrometer
// controller. Commands go out CRLF-terminated; responses come back one
// line at a time.
type Conn struct {
	rw   io.ReadWriter
	scan *bufio.Scanner

	mx sync.Mutex
}

// NewConn creates a new Conn using the provided ReadWriter for data.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		rw:   rw,
		scan: bufio.NewScanner(rw),
	}
}

// Send writes one command. It does not wait for any response; most
// commands produce none.
func (c *Conn) Send(cmd string) error {
	c.mx.Lock()
	defer c.mx.Unlock()
	_, err := io.WriteString(c.rw, cmd+"\r\n")
	return err
}

// Query sends a command and returns the next response line, CR/LF
// stripped. The command and its response are atomic with respect to
// other Sends and Queries.
func (c *Conn) Query(cmd string) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()
	_, err := io.WriteString(c.rw, cmd+"\r\n")
	if err != nil {
		return "", err
	}
	if !c.scan.Scan() {
		err = c.scan.Err()
		if err == nil {
			err = io.EOF
		}
		return "", err
	}
	return strings.TrimRight(c.scan.Text(), "\r"), nil
}

// Close closes the underlying ReadWriter, if it implements io.Closer.
func (c *Conn) Close() error {
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
