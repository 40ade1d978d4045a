// Command pyrun-jupyter runs Python code on a remote Jupyter server.
//
//	pyrun-jupyter run "print('hello')" --url http://localhost:8888 --token xxx
//	pyrun-jupyter run-file train.py --url http://localhost:8888 --params "lr=0.01,epochs=100"
//	pyrun-jupyter token --subject ci --ttl 720h
//
// The process exits 0 when the code ran without raising and 1 otherwise.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.4.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
