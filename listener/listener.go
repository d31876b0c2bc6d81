// Package listener collects the cross-cutting event contracts exposed to
// host applications. These mirror spec §6: a channel listener routes
// decoded packets and close notifications, a direct-client listener
// observes per-call outcomes, a cluster-client listener observes per-member
// lifecycle, and an executor listener observes server-side dispatch
// outcomes. Implementations are expected to be cheap and non-blocking.
// Callbacks made from a channel's read loop or close path (the Channel
// listener itself, and whatever it calls synchronously) have their panics
// recovered and logged by the channel. Callbacks made on other goroutines —
// an Invoke caller, a cluster's recovery loop, a server worker — are not
// guarded, and a panic there propagates on that goroutine.
package listener

import "xrpc/packet"

// Channel is the minimal surface a channel needs from its owner: route a
// non-heartbeat/non-offline packet, and learn that the channel closed.
type Channel interface {
	OnReceive(host string, p *packet.Packet)
	OnClosed(host string, offline bool)
}

// DirectClient observes outcomes of a single direct client's invocations.
type DirectClient interface {
	OnCreated(host string)
	OnClosed(host string, offline bool)
	OnSlowExecution(host, method string)
	OnTimeout(host, method string)
	OnTooBusy(host, method string)
	OnInvocationError(host, method string, err error)
}

// ClusterClient observes per-member lifecycle inside a cluster client.
type ClusterClient interface {
	OnCreated(host string)
	OnRecovered(host string)
	OnClosed(host string, offline bool)
}

// Executor observes server-side dispatch outcomes for one invocation.
type Executor interface {
	OnSlowExecution(method string)
	OnClassNotFound(method string)
	OnMethodNotFound(method string)
	OnInvocationError(method string, err error)
	OnTooBusy(method string)
}

// NopDirectClient is a DirectClient that does nothing; the zero value
// NopDirectClient{} is ready to use and is the default when no listener is
// supplied.
type NopDirectClient struct{}

func (NopDirectClient) OnCreated(string)                    {}
func (NopDirectClient) OnClosed(string, bool)                {}
func (NopDirectClient) OnSlowExecution(string, string)       {}
func (NopDirectClient) OnTimeout(string, string)             {}
func (NopDirectClient) OnTooBusy(string, string)             {}
func (NopDirectClient) OnInvocationError(string, string, error) {}

// NopClusterClient is the no-op ClusterClient listener.
type NopClusterClient struct{}

func (NopClusterClient) OnCreated(string)   {}
func (NopClusterClient) OnRecovered(string) {}
func (NopClusterClient) OnClosed(string, bool) {}

// NopExecutor is the no-op Executor listener.
type NopExecutor struct{}

func (NopExecutor) OnSlowExecution(string)        {}
func (NopExecutor) OnClassNotFound(string)         {}
func (NopExecutor) OnMethodNotFound(string)        {}
func (NopExecutor) OnInvocationError(string, error) {}
func (NopExecutor) OnTooBusy(string)               {}
