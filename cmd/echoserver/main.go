// Command echoserver runs a minimal xrpc server exposing an Echo service,
// as a usage example. The package tests do not run it; they build
// server.Server in-process.
package main

import (
	"flag"
	"time"

	"go.uber.org/zap"

	"xrpc/interceptor"
	"xrpc/log"
	"xrpc/server"
)

// Echo is the simplest possible RPC service: it returns whatever it is
// given, after an optional artificial delay to exercise slow-execution
// detection and timeouts.
type Echo struct{}

func (Echo) Say(msg string) (string, error) {
	return msg, nil
}

func (Echo) Delay(msg string, millis int64) (string, error) {
	time.Sleep(time.Duration(millis) * time.Millisecond)
	return msg, nil
}

func main() {
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	srv := server.New(server.Options{
		Logger: log.Named("echoserver"),
	})
	srv.Use(interceptor.Logging(log.Named("echoserver")))

	if err := srv.Register(Echo{}); err != nil {
		log.Default.Fatal("register failed", zap.Error(err))
	}

	log.Default.Info("listening", zap.String("addr", *addr))
	if err := srv.ListenAndServe("tcp", *addr); err != nil {
		log.Default.Fatal("serve failed", zap.Error(err))
	}
}
