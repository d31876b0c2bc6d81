// Command echoclient calls the echoserver's Say method once and prints the
// result, a minimal usage example for directclient.Client.
package main

import (
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	"xrpc/directclient"
	"xrpc/log"
)

func main() {
	addr := flag.String("addr", "localhost:9090", "server address")
	msg := flag.String("msg", "hello", "message to echo")
	flag.Parse()

	cli, err := directclient.New("tcp", *addr, directclient.Options{})
	if err != nil {
		log.Default.Fatal("dial failed", zap.Error(err))
	}
	defer cli.Close()

	value, err := cli.Invoke("Say", []any{*msg}, 5*time.Second)
	if err != nil {
		log.Default.Fatal("invoke failed", zap.Error(err))
	}
	fmt.Println(value)
}
