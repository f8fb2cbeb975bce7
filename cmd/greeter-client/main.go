// Command greeter-client drives a few calls against greeter-server: a
// unary Greet, a server-streaming GreetServerStream, and a client-streaming
// GreetClientStream, with gzip compression negotiated on the wire. Grounded
// on the teacher's examples/grpc/grpc-client/main.go (dial, build a client
// from a generated stub, make a handful of representative calls) rewritten
// around this module's grpcclient package and an alecthomas/kong CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/alecthomas/kong"

	"github.com/h2rpc/grpcore/compress"
	"github.com/h2rpc/grpcore/grpcclient"
	"github.com/h2rpc/grpcore/logging"
	"github.com/h2rpc/grpcore/rpc"
)

const (
	methodGreet      = "/greeter.Greeter/Greet"
	methodGreetMany  = "/greeter.Greeter/GreetServerStream"
	methodGreetNames = "/greeter.Greeter/GreetClientStream"
)

var CLI struct {
	Addr string `help:"Server address to dial." default:"localhost:8080"`
	Name string `help:"Name to greet." default:"world"`
}

func main() {
	kongCtx := kong.Parse(&CLI, kong.Description("a gRPC-over-HTTP/2 greeter client"))
	kongCtx.FatalIfErrorf(run())
}

func run() error {
	client, err := grpcclient.NewClient(
		CLI.Addr,
		grpcclient.WithLogger(logging.Nop()),
		grpcclient.WithCompression(compress.ChooseFirst(compress.DefaultRegistry(), []compress.CompressionId{compress.Gzip})),
	)
	if err != nil {
		return fmt.Errorf("greeter-client: dial: %w", err)
	}

	if err := callGreet(client, CLI.Name); err != nil {
		return err
	}
	if err := callGreetServerStream(client, CLI.Name); err != nil {
		return err
	}
	return callGreetClientStream(client, []string{CLI.Name, "gopher"})
}

func callGreet(client *grpcclient.Client, name string) error {
	codec := rpc.BinaryCodec("proto")
	cc := client.NewCall(context.Background(), methodGreet, rpc.NonStreaming, codec)
	defer cc.Close()

	req := []byte(name)
	if err := cc.Send(&req); err != nil {
		return err
	}
	if err := cc.CloseSend(); err != nil {
		return err
	}
	var reply []byte
	if err := cc.Receive(&reply); err != nil {
		return err
	}
	fmt.Println(string(reply))
	return nil
}

func callGreetServerStream(client *grpcclient.Client, name string) error {
	codec := rpc.BinaryCodec("proto")
	cc := client.NewCall(context.Background(), methodGreetMany, rpc.ServerStreaming, codec)
	defer cc.Close()

	req := []byte(name)
	if err := cc.Send(&req); err != nil {
		return err
	}
	if err := cc.CloseSend(); err != nil {
		return err
	}
	for {
		var reply []byte
		err := cc.Receive(&reply)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(string(reply))
	}
}

func callGreetClientStream(client *grpcclient.Client, names []string) error {
	codec := rpc.BinaryCodec("proto")
	cc := client.NewCall(context.Background(), methodGreetNames, rpc.ClientStreaming, codec)
	defer cc.Close()

	for _, name := range names {
		req := []byte(name)
		if err := cc.Send(&req); err != nil {
			return err
		}
	}
	if err := cc.CloseSend(); err != nil {
		return err
	}
	var reply []byte
	if err := cc.Receive(&reply); err != nil {
		return err
	}
	fmt.Println(string(reply))
	return nil
}
