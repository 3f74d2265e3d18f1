package backend_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/killallgit/finsight/pkg/backend"
	"github.com/killallgit/finsight/pkg/config"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type stubSource struct {
	filings []backend.FilingSummary
	err     error
}

func (s stubSource) Filings(context.Context) ([]backend.FilingSummary, error) {
	return s.filings, s.err
}

var _ = Describe("Catalog", func() {
	ctx := context.Background()

	It("should use the backend catalog when available", func() {
		live := []backend.FilingSummary{{Ticker: "NVDA", CompanyName: "NVIDIA Corporation", Available: true}}
		entries, ok := backend.NewCatalog(stubSource{filings: live}, nil).List(ctx)
		Expect(ok).To(BeTrue())
		Expect(entries).To(Equal(live))
	})

	It("should fall back to the built-in list when the backend fails", func() {
		entries, ok := backend.NewCatalog(stubSource{err: errors.New("connection refused")}, nil).List(ctx)
		Expect(ok).To(BeFalse())
		Expect(entries).To(Equal(backend.DefaultTickers))
	})

	It("should fall back with no backend at all", func() {
		entries, ok := backend.NewCatalog(nil, nil).List(ctx)
		Expect(ok).To(BeFalse())
		Expect(entries).To(HaveLen(3))
	})

	It("should use the configured fallback", func() {
		fallback := backend.FallbackFromConfig([]config.TickerConfig{{Ticker: "AMZN", CompanyName: "Amazon.com Inc."}})
		catalog := backend.NewCatalog(stubSource{err: errors.New("down")}, fallback)

		entry, ok := catalog.Lookup(ctx, "amzn")
		Expect(ok).To(BeTrue())
		Expect(entry.CompanyName).To(Equal("Amazon.com Inc."))

		_, ok = catalog.Lookup(ctx, "TSLA")
		Expect(ok).To(BeFalse())
	})
})

type flakyProber struct {
	healthy atomic.Bool
}

func (p *flakyProber) Probe(context.Context) bool {
	return p.healthy.Load()
}

var _ = Describe("HealthMonitor", func() {
	It("should notify on the first check and on every flip", func() {
		prober := &flakyProber{}
		monitor := backend.NewHealthMonitor(prober, time.Hour, time.Second)

		var mu sync.Mutex
		var changes []bool
		monitor.OnChange(func(connected bool) {
			mu.Lock()
			defer mu.Unlock()
			changes = append(changes, connected)
		})

		ctx := context.Background()
		monitor.Check(ctx)
		monitor.Check(ctx)
		prober.healthy.Store(true)
		monitor.Check(ctx)
		Expect(monitor.Connected()).To(BeTrue())

		mu.Lock()
		defer mu.Unlock()
		Expect(changes).To(Equal([]bool{false, true}))
	})

	It("should poll until the context ends", func() {
		prober := &flakyProber{}
		prober.healthy.Store(true)
		monitor := backend.NewHealthMonitor(prober, 10*time.Millisecond, time.Second)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- monitor.Run(ctx) }()

		Eventually(monitor.Connected).Should(BeTrue())
		prober.healthy.Store(false)
		Eventually(monitor.Connected).Should(BeFalse())

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
