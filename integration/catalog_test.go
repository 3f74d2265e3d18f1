package integration

import (
	"context"
	"time"

	"github.com/killallgit/finsight/pkg/backend"
	"github.com/killallgit/finsight/pkg/chat"
	"github.com/killallgit/finsight/pkg/stream"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Backend availability", func() {
	It("lists the live catalog and filing details", func() {
		_, baseURL := startBackend(0)
		client := backend.NewClient(baseURL)
		catalog := backend.NewCatalog(client, nil)

		entries, live := catalog.List(context.Background())
		Expect(live).To(BeTrue())
		Expect(entries).To(HaveLen(3))

		entry, ok := catalog.Lookup(context.Background(), "googl")
		Expect(ok).To(BeTrue())
		Expect(entry.CompanyName).To(Equal("Alphabet Inc."))

		details, err := client.FilingDetails(context.Background(), "aapl")
		Expect(err).NotTo(HaveOccurred())
		Expect(details.FilingType).To(Equal("10-K"))
		Expect(details.Sections).To(ContainElement("Risk Factors"))

		_, err = client.FilingDetails(context.Background(), "TSLA")
		Expect(err).To(MatchError(backend.ErrNotFound))
	})

	It("degrades gracefully when the backend goes away", func() {
		ts, baseURL := startBackend(0)
		client := backend.NewClientWithTimeout(baseURL, time.Second)

		monitor := backend.NewHealthMonitor(client, time.Hour, time.Second)
		var transitions []bool
		monitor.OnChange(func(connected bool) { transitions = append(transitions, connected) })

		Expect(monitor.Check(context.Background())).To(BeTrue())

		ts.Close()

		Expect(monitor.Check(context.Background())).To(BeFalse())
		Expect(monitor.Connected()).To(BeFalse())
		Expect(transitions).To(Equal([]bool{true, false}))

		entries, live := backend.NewCatalog(client, nil).List(context.Background())
		Expect(live).To(BeFalse())
		Expect(entries).To(Equal(backend.DefaultTickers))

		store := chat.NewStore("AAPL")
		orch := stream.NewOrchestrator(store, client)
		result, err := orch.Run(context.Background(), "Anyone there?")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Outcome).To(Equal(stream.OutcomeErrored))
		Expect(store.Error()).NotTo(BeEmpty())

		msg, _ := store.Message(result.MessageID)
		Expect(msg.Content).To(HavePrefix("Error: "))
		Expect(orch.State()).To(Equal(stream.StateIdle))
	})
})
