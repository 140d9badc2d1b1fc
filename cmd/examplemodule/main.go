// Command examplemodule is a tiny demo of a module embedding the broker
// client: it registers a handler, connects to a hub, subscribes to its own
// "greet" event, and prints whatever events arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/k0kubun/pp/v3"

	broker "github.com/zerodensity/realityhub-api"
)

func main() {
	var (
		host       = flag.String("host", "localhost", "hub host")
		port       = flag.Int("port", 8080, "hub port")
		path       = flag.String("path", "/core", "hub websocket path")
		moduleName = flag.String("module", "acme.example", "this module's vendor.module name")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := broker.NewZerologLogger(os.Stderr, *moduleName)

	client := broker.NewClient(*moduleName, broker.LoadConfigFromEnv(), log)
	if err := client.RegisterAPIHandler("ping", func(args []broker.Arg) (any, error) {
		return map[string]string{"status": "ok"}, nil
	}); err != nil {
		fmt.Fprintln(os.Stderr, "register handler:", err)
		os.Exit(1)
	}

	if err := client.Connect(ctx, *host, *port, *path, false, broker.DialOptions{}); err != nil {
		color.Red("connect failed: %v", err)
		os.Exit(1)
	}
	if err := client.GetConnectPromise(ctx); err != nil {
		color.Red("never connected: %v", err)
		os.Exit(1)
	}
	color.Green("connected as %s", *moduleName)

	vendor, module := splitName(*moduleName)
	self := client.Module(vendor, module)
	self.On(ctx, "greet", func(args []broker.Arg) (any, error) {
		var name string
		if len(args) > 0 {
			_ = args[0].Decode(&name)
		}
		pp.Println(map[string]string{"greeted": name})
		return nil, nil
	})

	<-ctx.Done()
	color.Yellow("shutting down")
	_ = client.Destroy()
}

func splitName(moduleName string) (vendor, module string) {
	for i := 0; i < len(moduleName); i++ {
		if moduleName[i] == '.' {
			return moduleName[:i], moduleName[i+1:]
		}
	}
	return moduleName, ""
}
