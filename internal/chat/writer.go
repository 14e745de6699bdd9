package chat

import (
	"bufio"
	"time"
)

const drainTimeout = 2 * time.Second

func StartOutboundWriter(c *Client) {
	c.hasWriter = true
	go func() {
		defer c.Conn.Close()
		w := bufio.NewWriter(c.Conn)
		for {
			select {
			case msg := <-c.Out:
				// Best-effort. If the connection breaks, just stop the writer.
				if err := writeLine(w, msg); err != nil {
					c.Close()
					return
				}
			case <-c.done:
				for {
					select {
					case msg := <-c.Out:
						if err := writeLine(w, msg); err != nil {
							return
						}
					default:
						return
					}
				}
			}
		}
	}()
}

func writeLine(w *bufio.Writer, msg string) error {
	if _, err := w.WriteString(msg + "\n"); err != nil {
		return err
	}
	return w.Flush()
}

// sendLine queues line without blocking. It reports false when the client is
// closed or its buffer is full. A client whose buffer overflows is closed, so
// it never keeps running with a gap in its line stream.
func sendLine(c *Client, line string) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Out <- line:
		return true
	default:
		DroppedLines.Inc()
		c.Close()
		return false
	}
}
