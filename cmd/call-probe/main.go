// Command call-probe drives one scripted call end to end against the
// in-process session hub: a customer requests a call, an agent accepts,
// the two exchange a file, a signing round trip, a co-browse handshake
// and a screen share, then the agent hangs up. It exits non-zero as soon
// as any step misbehaves, which makes it usable as a deploy smoke check.
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meghabhansali2911/customer-engagement-platform/internal/call/agent"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/call/collab"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/call/customer"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/config"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/provider"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/provider/memhub"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/queue"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/service/cobrowse"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/service/storage"
	"github.com/meghabhansali2911/customer-engagement-platform/internal/token"
	"github.com/meghabhansali2911/customer-engagement-platform/pkg/logger"
)

const stepTimeout = 5 * time.Second

func main() {
	if err := logger.Init(&logger.Config{Level: "info", Format: "console"}); err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()
	cfg := config.Load()

	// 1. Core plumbing: token issuer, in-process hub, queue, coordinator
	issuer := token.NewIssuer(cfg.Token.APIKey, cfg.Token.Secret, time.Hour)
	hub := memhub.New(issuer, nil)
	q := queue.New(hub, issuer, nil, time.Hour)
	coord := queue.NewCoordinator(q, issuer, time.Hour)

	// 2. Collaboration backends. With MinIO and a co-browse platform
	// configured the probe exercises the real services; otherwise local
	// stand-ins keep the call flow checkable on a bare machine.
	uploads := pickUploader(cfg)
	allocator := pickAllocator(cfg)

	events := newEventLog()

	// 3. The customer machine, scripted to sign whatever it is asked to sign
	var cust *customer.Machine
	cust = customer.New(customer.Config{WaitTimeout: stepTimeout}, q, hub,
		newProbeDevices(), uploads, appendCompositor{}, allocator,
		customer.Hooks{
			OnAgentStream: func(sub provider.Subscriber) { events.post("customer saw agent stream") },
			Collab: collab.Hooks{
				OnFileShared: func(f collab.FileRef) { events.post("customer previewed " + f.Name) },
				OnFileForSigning: func(f collab.FileRef) {
					go func() {
						_, err := cust.Collab().SignAndReturn(ctx,
							[]byte("probe contract"), []byte("probe signature"), f.Name)
						if err != nil {
							logger.Fatal("signing failed", zap.Error(err))
						}
					}()
				},
			},
		})

	// 4. The agent machine
	ag := agent.New(agent.Config{EnableAudio: true, EnableVideo: true}, coord, hub,
		newProbeDevices(), uploads,
		agent.Hooks{
			OnCustomerStream: func(sub provider.Subscriber) { events.post("agent saw customer stream") },
			Collab: collab.Hooks{
				OnSignedDocument: func(f collab.FileRef) { events.post("signed copy returned: " + f.Name) },
				OnCobrowseURL:    func(url string) { events.post("cobrowse url: " + url) },
			},
		})

	// 5. Script
	logger.Info("probe: customer requesting call")
	if err := cust.Start(ctx, "Probe Customer"); err != nil {
		logger.Fatal("customer start failed", zap.Error(err))
	}

	logger.Info("probe: agent accepting", zap.String("request_id", cust.RequestID().String()))
	if err := ag.Accept(ctx, cust.RequestID()); err != nil {
		logger.Fatal("agent accept failed", zap.Error(err))
	}

	waitFor("call active", func() bool {
		return cust.State() == customer.StateActive && ag.State() == agent.StateActive
	})
	events.await("customer saw agent stream")
	events.await("agent saw customer stream")

	logger.Info("probe: sharing a file")
	if _, err := ag.Collab().ShareFile(ctx, []byte("probe attachment"), "attachment.txt"); err != nil {
		logger.Fatal("file share failed", zap.Error(err))
	}
	events.await("customer previewed attachment.txt")

	logger.Info("probe: signing round trip")
	if _, err := ag.Collab().SendForSigning(ctx, []byte("probe contract"), "contract.pdf"); err != nil {
		logger.Fatal("send for signing failed", zap.Error(err))
	}
	events.await("signed copy returned: signed-contract.pdf")

	logger.Info("probe: cobrowse handshake")
	if err := ag.Collab().RequestCobrowse(ctx); err != nil {
		logger.Fatal("cobrowse request failed", zap.Error(err))
	}
	events.awaitPrefix("cobrowse url: ")

	logger.Info("probe: screen share on and off")
	if err := ag.ToggleScreenShare(ctx); err != nil {
		logger.Fatal("screen share failed", zap.Error(err))
	}
	if err := ag.ToggleScreenShare(ctx); err != nil {
		logger.Fatal("screen share stop failed", zap.Error(err))
	}

	logger.Info("probe: agent hanging up")
	ag.End(ctx)
	waitFor("customer saw hangup", func() bool { return cust.State() == customer.StateEnded })

	logger.Info("probe: all steps passed")
}

func waitFor(what string, cond func() bool) {
	deadline := time.Now().Add(stepTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	logger.Fatal("probe step timed out", zap.String("step", what))
}

// pickUploader returns the MinIO-backed storage service when it is
// reachable, otherwise an in-memory stand-in.
func pickUploader(cfg *config.Config) collab.Uploader {
	client, err := storage.NewClient(cfg.Storage.Endpoint, cfg.Storage.AccessKey,
		cfg.Storage.SecretKey, cfg.Storage.Secure)
	if err == nil {
		svc, serr := storage.NewService(client, cfg.Storage.Bucket, cfg.Storage.URLTTL, nil)
		if serr == nil {
			return svc
		}
		err = serr
	}
	logger.Warn("probe: object storage unavailable, using in-memory uploads", zap.Error(err))
	return memoryUploader{}
}

// pickAllocator returns the real co-browse client when configured, otherwise
// a stand-in issuing fixed URLs.
func pickAllocator(cfg *config.Config) collab.CobrowseAllocator {
	if cfg.Cobrowse.BaseURL == "" {
		logger.Info("probe: no co-browse platform configured, using stub allocator")
		return staticAllocator{}
	}
	return cobrowse.NewService(cfg.Cobrowse.BaseURL, cfg.Cobrowse.APIKey, cfg.Cobrowse.Timeout)
}

type memoryUploader struct{}

func (memoryUploader) Upload(_ context.Context, data []byte, filename string) (collab.FileRef, error) {
	return collab.FileRef{
		Name: filename,
		URL:  fmt.Sprintf("memory://%s?bytes=%d", filename, len(data)),
	}, nil
}

type staticAllocator struct{}

func (staticAllocator) CreateSession(context.Context) (string, error) {
	return "https://cobrowse.invalid/session/probe", nil
}

type appendCompositor struct{}

func (appendCompositor) CompositeSignature(document, signature []byte) ([]byte, error) {
	return append(append([]byte{}, document...), signature...), nil
}

// eventLog collects hook firings so the script can block on them
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func newEventLog() *eventLog { return &eventLog{} }

func (l *eventLog) post(event string) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
	logger.Info("probe event", zap.String("event", event))
}

func (l *eventLog) await(event string) {
	waitFor(event, func() bool { return l.has(func(e string) bool { return e == event }) })
}

func (l *eventLog) awaitPrefix(prefix string) {
	waitFor(prefix+"*", func() bool {
		return l.has(func(e string) bool { return len(e) >= len(prefix) && e[:len(prefix)] == prefix })
	})
}

func (l *eventLog) has(match func(string) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if match(e) {
			return true
		}
	}
	return false
}
