package gateway

import (
	"net/http"
	"time"

	"github.com/amoylab/agent-gateway/internal/common/config"
	"github.com/amoylab/agent-gateway/pkg/protocol"
	"github.com/amoylab/agent-gateway/pkg/version"
	"github.com/gorilla/websocket"
)

// Options configures a Connection
type Options struct {
	URL                  string
	Token                string
	ClientID             string
	DisplayName          string
	Version              string
	Platform             string
	Mode                 string
	Role                 string
	Scopes               []string
	Caps                 []string
	ConnectTimeout       time.Duration
	RequestTimeout       time.Duration
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
}

// OptionsFromConfig maps the gateway config section onto connection options
func OptionsFromConfig(cfg *config.GatewayConfig) Options {
	return Options{
		URL:                  cfg.URL,
		Token:                cfg.Token,
		ClientID:             cfg.ClientID,
		DisplayName:          cfg.DisplayName,
		Version:              version.Get(),
		Platform:             cfg.Platform,
		Mode:                 cfg.Mode,
		Role:                 cfg.Role,
		Scopes:               cfg.Scopes,
		Caps:                 cfg.Caps,
		ConnectTimeout:       cfg.ConnectTimeout,
		RequestTimeout:       cfg.RequestTimeout,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	}
}

func (o *Options) setDefaults() {
	if o.ClientID == "" {
		o.ClientID = "agent-gateway"
	}
	if o.Version == "" {
		o.Version = version.Get()
	}
	if o.Platform == "" {
		o.Platform = "server"
	}
	if o.Mode == "" {
		o.Mode = protocol.ClientModeBackend
	}
	if o.Caps == nil {
		o.Caps = []string{}
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.ReconnectBaseDelay <= 0 {
		o.ReconnectBaseDelay = time.Second
	}
}

// connectParams builds the params of the connect handshake
func (o *Options) connectParams() protocol.ConnectParams {
	params := protocol.ConnectParams{
		MinProtocol: protocol.MinProtocolVersion,
		MaxProtocol: protocol.MaxProtocolVersion,
		Client: protocol.ClientInfo{
			ID:          o.ClientID,
			DisplayName: o.DisplayName,
			Version:     o.Version,
			Platform:    o.Platform,
			Mode:        o.Mode,
		},
		Caps:   o.Caps,
		Role:   o.Role,
		Scopes: o.Scopes,
	}
	if o.Token != "" {
		params.Auth = &protocol.AuthParams{Token: o.Token}
	}
	return params
}

// Observer receives connection level instrumentation callbacks. It must not block.
type Observer interface {
	RPCStart(method string)
	RPCDone(method string, since time.Time, status string)
	ReconnectScheduled(attempt int, delay time.Duration)
	FrameDropped(reason string)
}

type nopObserver struct{}

func (nopObserver) RPCStart(string)                       {}
func (nopObserver) RPCDone(string, time.Time, string)     {}
func (nopObserver) ReconnectScheduled(int, time.Duration) {}
func (nopObserver) FrameDropped(string)                   {}

// Option customizes a Connection
type Option func(*Connection)

// WithObserver installs an instrumentation observer
func WithObserver(o Observer) Option {
	return func(c *Connection) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithDialer overrides the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Connection) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithHeader sets extra HTTP headers sent on the upgrade request
func WithHeader(h http.Header) Option {
	return func(c *Connection) {
		c.header = h.Clone()
	}
}
