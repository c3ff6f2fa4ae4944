// Command kvsd-client is the interactive subscribing client: it
// connects to a running kvsd-server over its named pipe, then accepts
// SUBSCRIBE/UNSUBSCRIBE/DISCONNECT commands from stdin while printing
// asynchronous notifications as they arrive.
//
// Usage:
//
//	kvsd-client <client_id> <server_fifo_name>
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"kvsd/internal/cmdlang"
	"kvsd/internal/wire"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "kvsd-client:", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) != 3 {
		return fmt.Errorf("usage: kvsd-client <client_id> <server_fifo_name>")
	}
	clientID := os.Args[1]
	serverFifoName := os.Args[2]

	client, err := connect(clientID, serverFifoName)
	if err != nil {
		return err
	}
	defer client.close()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go client.readNotifications()

	return client.runCommandLoop(stop)
}

// client holds the three pipes a connected session communicates
// over, named to match the wire protocol: req (client writes
// SUBSCRIBE/UNSUBSCRIBE/DISCONNECT), resp (server writes result
// bytes), notif (server pushes key/value notifications).
type client struct {
	tag string

	reqPath, respPath, notifPath string
	req                          *os.File
	resp                         *os.File
	notif                        *os.File
}

func connect(clientID, serverFifoName string) (*client, error) {
	dir := filepath.Dir(serverFifoName)
	base := fmt.Sprintf("kvsd-client-%s", clientID)
	c := &client{
		tag:       clientID,
		reqPath:   filepath.Join(dir, base+".req"),
		respPath:  filepath.Join(dir, base+".resp"),
		notifPath: filepath.Join(dir, base+".notif"),
	}

	for _, p := range []string{c.reqPath, c.respPath, c.notifPath} {
		if err := wire.CreateFifo(p); err != nil {
			return nil, err
		}
	}

	serverFifo, err := os.OpenFile(serverFifoName, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open server fifo %s: %w", serverFifoName, err)
	}
	defer serverFifo.Close()

	payload, err := wire.EncodeConnect(wire.ConnectRequest{
		ReqPath:   c.reqPath,
		RespPath:  c.respPath,
		NotifPath: c.notifPath,
	})
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFull(serverFifo, append([]byte{byte(wire.OpConnect)}, payload...)); err != nil {
		return nil, err
	}

	// Open order matters: opening a FIFO blocks until the other end
	// is opened, and the server opens req read-side, then resp, then
	// notif write-side after accepting, so the client opens req for
	// writing first and then resp and notif for reading, in that order.
	c.req, err = os.OpenFile(c.reqPath, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open request pipe: %w", err)
	}
	c.resp, err = os.OpenFile(c.respPath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open response pipe: %w", err)
	}
	c.notif, err = os.OpenFile(c.notifPath, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open notification pipe: %w", err)
	}

	result := make([]byte, 1)
	if err := wire.ReadFull(c.resp, result); err != nil {
		return nil, fmt.Errorf("read connect ack: %w", err)
	}
	if wire.ResultByte(result[0]) != wire.ResultOK {
		c.close()
		return nil, fmt.Errorf("server rejected connection (no free session slot)")
	}
	return c, nil
}

func (c *client) close() {
	for _, f := range []*os.File{c.req, c.resp, c.notif} {
		if f != nil {
			f.Close()
		}
	}
	for _, p := range []string{c.reqPath, c.respPath, c.notifPath} {
		_ = wire.RemoveFifo(p)
	}
}

func (c *client) readNotifications() {
	buf := make([]byte, wire.NotificationRecordSize)
	for {
		if err := wire.ReadFull(c.notif, buf); err != nil {
			return
		}
		key, value, err := wire.DecodeNotification(buf)
		if err != nil {
			continue
		}
		fmt.Printf("\n[notification] %s = %s\n> ", key, value)
	}
}

func (c *client) runCommandLoop(stop chan os.Signal) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		select {
		case <-stop:
			return c.sendDisconnect()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		cmd, err := cmdlang.Parse(line)
		if err == cmdlang.ErrComment {
			fmt.Print("> ")
			continue
		}
		if err != nil {
			fmt.Println("error:", err)
			fmt.Print("> ")
			continue
		}

		switch cmd.Kind {
		case cmdlang.KindSubscribe:
			c.sendKeyOp(wire.OpSubscribe, cmd.Keys[0])
		case cmdlang.KindUnsubscribe:
			c.sendKeyOp(wire.OpUnsubscribe, cmd.Keys[0])
		case cmdlang.KindDisconnect:
			return c.sendDisconnect()
		case cmdlang.KindHelp:
			fmt.Println("commands: SUBSCRIBE <key> | UNSUBSCRIBE <key> | DISCONNECT")
		default:
			fmt.Println("error: only SUBSCRIBE, UNSUBSCRIBE, DISCONNECT, HELP are valid over an interactive session")
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

func (c *client) sendKeyOp(op wire.Opcode, key string) {
	payload, err := wire.EncodeKeyField(key)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if err := wire.WriteFull(c.req, append([]byte{byte(op)}, payload...)); err != nil {
		fmt.Println("error:", err)
		return
	}
	result := make([]byte, 1)
	if err := wire.ReadFull(c.resp, result); err != nil {
		fmt.Println("error reading result:", err)
		return
	}
	if wire.ResultByte(result[0]) == wire.ResultOK {
		fmt.Println("ok")
	} else {
		fmt.Println("failed")
	}
}

func (c *client) sendDisconnect() error {
	if err := wire.WriteFull(c.req, []byte{byte(wire.OpDisconnect)}); err != nil {
		return err
	}
	result := make([]byte, 1)
	_ = wire.ReadFull(c.resp, result)
	return nil
}
