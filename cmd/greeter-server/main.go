// Command greeter-server runs a gRPC-over-HTTP/2 greeter service exercising
// unary, server-streaming, and gzip-compressed calls end to end. Grounded on
// the teacher's examples/grpc/grpc-server/main.go (a net.Listener plus a
// registered service, run until Serve returns) and
// examples/srpc-server/main.go's flag-driven bootstrap, rewritten around
// this module's grpcserver/logging/internal/xh2c packages and an
// alecthomas/kong CLI instead of the stdlib flag package.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/h2rpc/grpcore/compress"
	"github.com/h2rpc/grpcore/grpcserver"
	"github.com/h2rpc/grpcore/internal/xh2c"
	"github.com/h2rpc/grpcore/logging"
	"github.com/h2rpc/grpcore/rpc"
)

const (
	methodGreet      = "/greeter.Greeter/Greet"
	methodGreetMany  = "/greeter.Greeter/GreetServerStream"
	methodGreetNames = "/greeter.Greeter/GreetClientStream"
)

var CLI struct {
	Addr    string `help:"Address to listen on." default:":8080"`
	Verbose bool   `help:"Enable debug-level logging."`
}

func main() {
	kongCtx := kong.Parse(&CLI, kong.Description("a gRPC-over-HTTP/2 greeter server"))
	kongCtx.FatalIfErrorf(run())
}

func run() error {
	level := zapcore.InfoLevel
	if CLI.Verbose {
		level = zapcore.DebugLevel
	}
	log, err := logging.New(level, true)
	if err != nil {
		return fmt.Errorf("greeter-server: build logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	srv := grpcserver.NewServer(
		[]grpcserver.Method{
			{Descriptor: rpc.BinaryRpc(methodGreet, rpc.NonStreaming), Handler: greet},
			{Descriptor: rpc.BinaryRpc(methodGreetMany, rpc.ServerStreaming), Handler: greetServerStream},
			{Descriptor: rpc.BinaryRpc(methodGreetNames, rpc.ClientStreaming), Handler: greetClientStream},
		},
		grpcserver.WithLogger(log),
		grpcserver.WithCompression(compress.ChooseFirst(compress.DefaultRegistry(), []compress.CompressionId{compress.Gzip})),
	)

	httpServer := xh2c.NewServer(srv, xh2c.Options{MaxConcurrentStreams: 250})

	lis, err := net.Listen("tcp", CLI.Addr)
	if err != nil {
		return fmt.Errorf("greeter-server: listen: %w", err)
	}
	log.Info("greeter-server listening", zap.String("addr", CLI.Addr))
	return httpServer.Serve(lis)
}

func greet(_ context.Context, conn *grpcserver.Conn) error {
	var name []byte
	if err := conn.Receive(&name); err != nil {
		return err
	}
	reply := []byte("Hello, " + string(name) + "!")
	return conn.Send(&reply)
}

func greetServerStream(_ context.Context, conn *grpcserver.Conn) error {
	var name []byte
	if err := conn.Receive(&name); err != nil {
		return err
	}
	greetings := []string{"Hello", "Hi", "Hey"}
	for _, g := range greetings {
		reply := []byte(g + ", " + string(name) + "!")
		if err := conn.Send(&reply); err != nil {
			return err
		}
	}
	return nil
}

func greetClientStream(_ context.Context, conn *grpcserver.Conn) error {
	names := make([]string, 0)
	for {
		var name []byte
		err := conn.Receive(&name)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		names = append(names, string(name))
	}
	reply := []byte("Hello, " + strings.Join(names, " and ") + "!")
	return conn.Send(&reply)
}
