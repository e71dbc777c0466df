package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/arcflux/cbppcore/internal/cbpp"
	"github.com/arcflux/cbppcore/internal/cbppclient"
	"github.com/arcflux/cbppcore/internal/job"
	"github.com/arcflux/cbppcore/internal/obslog"
)

type printHandler struct{}

func (printHandler) OnDataMessageHeader(ctx *job.Context, messageID uint16, payloadLen uint64) error {
	fmt.Printf("message %d: %d bytes\n", messageID, payloadLen)
	return nil
}

func (printHandler) OnDataMessagePayload(ctx *job.Context, offset uint64, chunk []byte) error {
	fmt.Printf("%s", chunk)
	return nil
}

func (printHandler) OnDataMessageEnd(ctx *job.Context, payloadLen uint64) error {
	fmt.Println()
	return nil
}

func (printHandler) OnErrorMessage(ctx *job.Context, statusCode cbpp.StatusCode, reason string) {
	fmt.Fprintf(os.Stderr, "server error: status=%d reason=%s\n", statusCode, reason)
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9100", "server address")
	messageID := flag.Uint("message", 1, "message id to send")
	payload := flag.String("payload", "hello", "payload to send")
	flag.Parse()

	obslog.ConfigureRuntime()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cbppc: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	pool := job.NewPool(4)
	c := cbppclient.New(conn, printHandler{}, pool, cbppclient.DefaultConfig())

	if err := c.Send(uint16(*messageID), []byte(*payload)); err != nil {
		fmt.Fprintf(os.Stderr, "cbppc: send: %v\n", err)
		os.Exit(1)
	}

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if err := c.OnReadAvail(buf[:n]); err != nil {
				fmt.Fprintf(os.Stderr, "cbppc: decode: %v\n", err)
				return
			}
		}
		if err != nil {
			return
		}
	}
}
