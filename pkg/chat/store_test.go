package chat_test

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/finsight/pkg/chat"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("m%d", n)
	}
}

var c1 = chat.ContextRecord{
	ID:            "c1",
	Score:         0.93,
	TextContent:   "Supply chain disruptions may affect results.",
	SectionHeader: "Risk Factors",
	SourceURL:     "https://www.sec.gov/",
	Year:          "2023",
}

var _ = Describe("Store", func() {
	var store *chat.Store

	BeforeEach(func() {
		store = chat.NewStore("aapl", chat.WithIDGenerator(sequentialIDs()))
	})

	Describe("StartTurn", func() {
		It("should append a user message and an empty assistant placeholder", func() {
			id := store.StartTurn("  How did revenue change?  ")

			Expect(id).To(Equal("m2"))
			messages := store.Messages()
			Expect(messages).To(HaveLen(2))
			Expect(messages[0].Role).To(Equal(chat.RoleUser))
			Expect(messages[0].Content).To(Equal("How did revenue change?"))
			Expect(messages[1].Role).To(Equal(chat.RoleAssistant))
			Expect(messages[1].Content).To(BeEmpty())
			Expect(store.Loading()).To(BeTrue())
		})

		It("should generate unique ids by default", func() {
			s := chat.NewStore("AAPL")
			a := s.StartTurn("one")
			s.CompleteTurn()
			b := s.StartTurn("two")
			Expect(a).NotTo(Equal(b))
		})

		It("should keep timestamps strictly increasing even with a frozen clock", func() {
			frozen := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
			s := chat.NewStore("AAPL", chat.WithClock(func() time.Time { return frozen }))
			s.StartTurn("one")
			s.CompleteTurn()
			s.StartTurn("two")

			messages := s.Messages()
			for i := 1; i < len(messages); i++ {
				Expect(messages[i].CreatedAt.After(messages[i-1].CreatedAt)).To(BeTrue())
			}
		})
	})

	Describe("ApplyTokenDelta", func() {
		It("should accumulate deltas in order", func() {
			id := store.StartTurn("Who?")
			for _, d := range []string{"Ap", "ple ", "Inc."} {
				Expect(store.ApplyTokenDelta(id, d)).To(BeTrue())
			}

			msg, ok := store.Message(id)
			Expect(ok).To(BeTrue())
			Expect(msg.Content).To(Equal("Apple Inc."))
		})

		It("should handle many small deltas", func() {
			id := store.StartTurn("Long answer")
			for i := 0; i < 5000; i++ {
				store.ApplyTokenDelta(id, "x")
			}
			msg, _ := store.Message(id)
			Expect(msg.Content).To(Equal(strings.Repeat("x", 5000)))
		})

		It("should be a no-op for an unknown message id", func() {
			store.StartTurn("Q")
			Expect(store.ApplyTokenDelta("missing", "text")).To(BeFalse())
			for _, m := range store.Messages() {
				Expect(m.Content).NotTo(ContainSubstring("text"))
			}
		})
	})

	Describe("ApplyContexts", func() {
		It("should attach the batch to the message and the active view", func() {
			id := store.StartTurn("Q")
			records := []chat.ContextRecord{c1}
			Expect(store.ApplyContexts(id, records)).To(BeTrue())

			msg, _ := store.Message(id)
			Expect(msg.Contexts).To(Equal(records))
			Expect(store.ActiveContexts()).To(Equal(records))
		})

		It("should replace rather than merge on a second batch", func() {
			id := store.StartTurn("Q")
			store.ApplyContexts(id, []chat.ContextRecord{c1})
			second := []chat.ContextRecord{{ID: "c2", SectionHeader: "Business Overview"}}
			store.ApplyContexts(id, second)

			Expect(store.ActiveContexts()).To(Equal(second))
			msg, _ := store.Message(id)
			Expect(msg.Contexts).To(Equal(second))
		})

		It("should be a no-op once the transcript was cleared", func() {
			id := store.StartTurn("Q")
			store.ClearTranscript()
			Expect(store.ApplyContexts(id, []chat.ContextRecord{c1})).To(BeFalse())
			Expect(store.ActiveContexts()).To(BeEmpty())
		})
	})

	Describe("CompleteTurn", func() {
		It("should empty active contexts when the turn had none", func() {
			first := store.StartTurn("Q1")
			store.ApplyContexts(first, []chat.ContextRecord{c1})
			store.CompleteTurn()
			Expect(store.ActiveContexts()).To(HaveLen(1))

			store.StartTurn("Q2")
			store.CompleteTurn()
			Expect(store.ActiveContexts()).To(BeEmpty())
			Expect(store.Loading()).To(BeFalse())
		})

		It("should keep the turn's own contexts", func() {
			id := store.StartTurn("Q")
			store.ApplyContexts(id, []chat.ContextRecord{c1})
			store.CompleteTurn()
			Expect(store.ActiveContexts()).To(ConsistOf(c1))
		})
	})

	Describe("FailTurn", func() {
		It("should overwrite the placeholder and record the error", func() {
			id := store.StartTurn("Q")
			store.ApplyTokenDelta(id, "partial")
			store.FailTurn(id, "backend unavailable")

			msg, _ := store.Message(id)
			Expect(msg.Content).To(Equal("Error: backend unavailable"))
			Expect(msg.Failed).To(BeTrue())
			Expect(store.Error()).To(Equal("backend unavailable"))
			Expect(store.Loading()).To(BeFalse())
		})

		It("should not touch earlier turns", func() {
			first := store.StartTurn("Q1")
			store.ApplyTokenDelta(first, "fine")
			store.CompleteTurn()

			second := store.StartTurn("Q2")
			store.FailTurn(second, "timeout")

			msg, _ := store.Message(first)
			Expect(msg.Content).To(Equal("fine"))
			Expect(msg.Failed).To(BeFalse())
		})

		It("should clear the error when the next turn starts", func() {
			id := store.StartTurn("Q")
			store.FailTurn(id, "boom")
			store.StartTurn("Q again")
			Expect(store.Error()).To(BeEmpty())
		})
	})

	Describe("SetError", func() {
		It("should record the message without touching the transcript", func() {
			store.StartTurn("Q")
			store.SetError("catalog unavailable")
			Expect(store.Error()).To(Equal("catalog unavailable"))
			Expect(store.Len()).To(Equal(2))
		})
	})

	Describe("SelectTicker", func() {
		It("should clear messages and contexts when switching AAPL to MSFT", func() {
			id := store.StartTurn("Q")
			store.ApplyContexts(id, []chat.ContextRecord{c1})
			store.CompleteTurn()

			Expect(store.SelectTicker("MSFT")).To(BeTrue())
			Expect(store.Ticker()).To(Equal("MSFT"))
			Expect(store.Messages()).To(BeEmpty())
			Expect(store.ActiveContexts()).To(BeEmpty())
		})

		It("should keep state when the ticker is unchanged", func() {
			store.StartTurn("Q")
			Expect(store.SelectTicker("aapl")).To(BeFalse())
			Expect(store.Len()).To(Equal(2))
		})

		It("should publish clear and ticker changes together", func() {
			var kinds []chat.ChangeKind
			store.Subscribe(func(c chat.Change) { kinds = append(kinds, c.Kind) })
			store.SelectTicker("GOOGL")
			Expect(kinds).To(Equal([]chat.ChangeKind{chat.ChangeCleared, chat.ChangeTicker}))
		})
	})

	Describe("highlight", func() {
		It("should ignore a stale clear after a newer highlight", func() {
			first := store.SetHighlight("c1")
			second := store.SetHighlight("c2")

			Expect(store.ClearHighlight(first)).To(BeFalse())
			Expect(store.HighlightedContextID()).To(Equal("c2"))
			Expect(store.ClearHighlight(second)).To(BeTrue())
			Expect(store.HighlightedContextID()).To(BeEmpty())
		})
	})

	Describe("History", func() {
		It("should exclude failed and empty assistant messages", func() {
			ok := store.StartTurn("Q1")
			store.ApplyTokenDelta(ok, "A1")
			store.CompleteTurn()

			failed := store.StartTurn("Q2")
			store.FailTurn(failed, "boom")

			store.StartTurn("Q3")
			store.CompleteTurn()

			Expect(store.History()).To(Equal([]chat.HistoryMessage{
				{Role: chat.RoleUser, Content: "Q1"},
				{Role: chat.RoleAssistant, Content: "A1"},
				{Role: chat.RoleUser, Content: "Q2"},
				{Role: chat.RoleUser, Content: "Q3"},
			}))
		})
	})

	Describe("Subscribe", func() {
		It("should deliver changes in mutation order", func() {
			var got []chat.Change
			unsubscribe := store.Subscribe(func(c chat.Change) { got = append(got, c) })

			id := store.StartTurn("Q")
			store.ApplyTokenDelta(id, "a")
			store.CompleteTurn()
			unsubscribe()
			store.ClearTranscript()

			Expect(got).To(HaveLen(3))
			Expect(got[0].Kind).To(Equal(chat.ChangeTurnStarted))
			Expect(got[1]).To(Equal(chat.Change{Kind: chat.ChangeToken, MessageID: id, Text: "a"}))
			Expect(got[2].Kind).To(Equal(chat.ChangeTurnCompleted))
		})

		It("should allow subscribers to read the store", func() {
			var seen string
			store.Subscribe(func(c chat.Change) {
				if c.Kind == chat.ChangeToken {
					msg, _ := store.Message(c.MessageID)
					seen = msg.Content
				}
			})
			id := store.StartTurn("Q")
			store.ApplyTokenDelta(id, "visible")
			Expect(seen).To(Equal("visible"))
		})
	})

	It("should tolerate readers running alongside a writer", func() {
		id := store.StartTurn("Q")
		store.ApplyContexts(id, []chat.ContextRecord{c1})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				store.ApplyTokenDelta(id, "t")
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				_ = store.ActiveContexts()
				_ = store.Messages()
			}
		}()
		wg.Wait()

		msg, _ := store.Message(id)
		Expect(msg.Content).To(HaveLen(500))
	})
})
