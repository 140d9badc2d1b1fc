package broker

import (
	"context"
	"fmt"
)

// BootstrapOptions configures InitModule.
type BootstrapOptions struct {
	// ModuleName is this module's vendor.module identity. Required.
	ModuleName string
	// Host and Port address the hub. Required — Go has no browser `location`
	// global to default from.
	Host string
	Port int
	// WebSocketPath defaults to "/core" if empty.
	WebSocketPath string
	// TLS upgrades the transport to wss://.
	TLS bool
	// Dial carries any transport-level dial options (headers, handshake
	// timeout).
	Dial DialOptions
	// ServerURL, if non-empty, is registered with the hub via
	// hub.core.registerProxyURL so it can proxy this module's static assets.
	ServerURL string
	// Config and Logger override the client's defaults; zero values fall
	// back to LoadConfigFromEnv() and Silent() respectively.
	Config *Config
	Logger Logger
}

// InitModule constructs a client, connects, awaits readiness, and
// optionally registers a serving URL with the hub. Returns the ready
// client.
func InitModule(ctx context.Context, opts BootstrapOptions) (*Client, error) {
	if opts.ModuleName == "" {
		return nil, fmt.Errorf("broker: InitModule requires a ModuleName")
	}
	if opts.Host == "" {
		return nil, fmt.Errorf("broker: InitModule requires a Host (no browser location global to default from)")
	}
	path := opts.WebSocketPath
	if path == "" {
		path = "/core"
	}

	cfg := LoadConfigFromEnv()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	log := opts.Logger
	if log == nil {
		log = Silent()
	}

	client := NewClient(opts.ModuleName, cfg, log)
	if err := client.Connect(ctx, opts.Host, opts.Port, path, opts.TLS, opts.Dial); err != nil {
		return nil, fmt.Errorf("broker: InitModule: %w", err)
	}
	if err := client.GetConnectPromise(ctx); err != nil {
		return nil, fmt.Errorf("broker: InitModule: awaiting connect: %w", err)
	}

	if opts.ServerURL != "" {
		hub := client.Module("hub", "core")
		if _, err := hub.Call(ctx, "registerProxyURL", map[string]string{
			"moduleName": opts.ModuleName,
			"serverURL":  opts.ServerURL,
		}); err != nil {
			return nil, fmt.Errorf("broker: InitModule: registerProxyURL: %w", err)
		}
	}

	return client, nil
}
