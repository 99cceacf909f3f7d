// Command aetherhubd runs a single aetherhub node: a remoting Hub bound to
// a QUIC transport, with one supervised actor registered on it that
// reports filesystem changes under a watched directory.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/haldane-systems/aetherhub/internal/actor"
	"github.com/haldane-systems/aetherhub/internal/events"
	"github.com/haldane-systems/aetherhub/internal/fswatch"
	"github.com/haldane-systems/aetherhub/internal/remoting"
)

func main() {
	var (
		addr      string
		peers     string
		watchPath string
		actorPath string
		certFile  string
		keyFile   string
		sendHello bool
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:11001", "address this node binds to")
	flag.StringVar(&peers, "peers", "", "comma-separated addresses of peer nodes to seed into discovery on startup")
	flag.StringVar(&watchPath, "watch", "", "directory to watch for changes and report on -actor-path")
	flag.StringVar(&actorPath, "actor-path", "/watcher", "registry path the watcher actor answers on")
	flag.StringVar(&certFile, "cert", "", "TLS certificate file (self-signed cert generated if omitted)")
	flag.StringVar(&keyFile, "key", "", "TLS key file (self-signed cert generated if omitted)")
	flag.BoolVar(&sendHello, "send-hello", false, "greet every seeded peer on startup")
	flag.Parse()

	if err := run(addr, peers, watchPath, actorPath, certFile, keyFile, sendHello); err != nil {
		fmt.Fprintln(os.Stderr, "aetherhubd:", err)
		os.Exit(1)
	}
}

func run(addr, peers, watchPath, actorPath, certFile, keyFile string, sendHello bool) error {
	sink := events.NewZerologSink(addr)

	tlsConf, err := loadOrGenerateTLS(addr, certFile, keyFile)
	if err != nil {
		return fmt.Errorf("tls setup: %w", err)
	}

	transport := remoting.NewQUICTransport(actor.Addr(addr), tlsConf, sink)
	hub, err := remoting.NewHub(actor.Addr(addr), transport, transport, remoting.JSONCodec{}, remoting.RealClock, sink, remoting.DefaultConfig())
	if err != nil {
		return fmt.Errorf("hub: %w", err)
	}

	watcher := actor.New("watcher", watcherBehavior(sink))
	hub.Register(actor.Path(actorPath), watcher)
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("start watcher actor: %w", err)
	}
	defer watcher.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watchPath != "" {
		stopWatch, err := fswatch.Watch(ctx, watchPath, watcher)
		if err != nil {
			return fmt.Errorf("watch %s: %w", watchPath, err)
		}
		defer stopWatch()
	}

	discovery := remoting.NewStaticDiscovery()
	for _, p := range splitPeers(peers) {
		if err := discovery.Register(actor.Addr(p), nil); err != nil {
			sink.Warnf("aetherhubd: failed to register peer %s: %v", p, err)
		}
	}

	for _, member := range discovery.Members() {
		if err := transport.AddEndpoint(member); err != nil {
			sink.Warnf("aetherhubd: failed to connect to seeded peer %s: %v", member, err)
			continue
		}
		if sendHello {
			proxy := hub.MakeProxy(actor.Path(actorPath), member)
			if err := proxy.Send(fmt.Sprintf("hello from %s", addr)); err != nil {
				sink.Warnf("aetherhubd: failed to greet %s: %v", member, err)
			}
		}
	}

	go hub.Run(ctx)

	sink.Warnf("aetherhubd: node %s up, watching %q", addr, watchPath)
	<-ctx.Done()
	sink.Warnf("aetherhubd: shutting down")
	return nil
}

// splitPeers parses the -peers flag's comma-separated address list,
// dropping empty entries so a trailing comma or an empty flag yields no
// seeded members.
func splitPeers(peers string) []string {
	var out []string
	for _, p := range strings.Split(peers, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// watcherBehavior loops receiving messages -- filesystem change tuples from
// fswatch, or greetings relayed through the Hub from a remote peer -- until
// its context is cancelled.
func watcherBehavior(sink events.Sink) actor.Behavior {
	return func(ctx context.Context, self *actor.Actor) (interface{}, error) {
		for {
			wrapped, err := self.Get(ctx, actor.Any)
			if err != nil {
				return nil, nil
			}
			if len(wrapped) == 0 {
				continue
			}
			logReceived(sink, wrapped[0])
		}
	}
}

func logReceived(sink events.Sink, msg interface{}) {
	tup, ok := msg.(actor.Tuple)
	if !ok || len(tup) == 0 {
		sink.Warnf("aetherhubd: received %v", msg)
		return
	}
	switch tup[0] {
	case fswatch.Tag:
		sink.Warnf("aetherhubd: fs change %v", tup)
	case fswatch.ErrorTag:
		sink.Warnf("aetherhubd: fs watch error %v", tup)
	default:
		sink.Warnf("aetherhubd: received tuple %v", tup)
	}
}

func loadOrGenerateTLS(addr, certFile, keyFile string) (*tls.Config, error) {
	if certFile != "" && keyFile != "" {
		return remoting.LoadTLSConfig(certFile, keyFile)
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("parse bind address %s: %w", addr, err)
	}
	return remoting.GenerateSelfSignedTLS(host, 0)
}
