package summary_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/store/inmemory"
	"github.com/papercomputeco/engram/pkg/summary"
)

type countingSummarizer struct {
	calls int
	text  string
	err   error
}

func (c *countingSummarizer) Summarize(_ context.Context, _ string, _ []string) (string, error) {
	c.calls++
	return c.text, c.err
}

var _ = Describe("Registry", func() {
	var (
		ctx        context.Context
		driver     *inmemory.Driver
		summarizer *countingSummarizer
		registry   *summary.Registry
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		summarizer = &countingSummarizer{text: "a summary"}
		registry = summary.NewRegistry(driver, summarizer, nil)
	})

	addFact := func(subject, predicate, object, category string) {
		f, err := memory.NewFact(subject, predicate, object)
		Expect(err).NotTo(HaveOccurred())
		f.Category = category
		Expect(driver.PutFact(ctx, f)).To(Succeed())
	}

	Describe("Invalidate", func() {
		It("creates a stale cache row for a new category", func() {
			Expect(registry.Invalidate(ctx, "preferences")).To(Succeed())

			c, err := driver.GetCategory(ctx, "preferences")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Stale).To(BeTrue())
		})

		It("keeps the cached text for stale serving", func() {
			Expect(registry.Invalidate(ctx, "preferences")).To(Succeed())
			_, err := registry.GetOrRegenerate(ctx, "preferences")
			Expect(err).NotTo(HaveOccurred())

			Expect(registry.Invalidate(ctx, "preferences")).To(Succeed())
			text, stale, err := registry.Get(ctx, "preferences")
			Expect(err).NotTo(HaveOccurred())
			Expect(stale).To(BeTrue())
			Expect(text).To(Equal("a summary"))
		})

		It("is a no-op for an empty name", func() {
			Expect(registry.Invalidate(ctx, "")).To(Succeed())
		})
	})

	Describe("GetOrRegenerate", func() {
		It("serves the cache without calling the summarizer when fresh", func() {
			Expect(registry.Invalidate(ctx, "preferences")).To(Succeed())

			_, err := registry.GetOrRegenerate(ctx, "preferences")
			Expect(err).NotTo(HaveOccurred())
			Expect(summarizer.calls).To(Equal(1))

			text, err := registry.GetOrRegenerate(ctx, "preferences")
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("a summary"))
			Expect(summarizer.calls).To(Equal(1))
		})

		It("regenerates when stale", func() {
			Expect(registry.Invalidate(ctx, "preferences")).To(Succeed())
			_, err := registry.GetOrRegenerate(ctx, "preferences")
			Expect(err).NotTo(HaveOccurred())

			Expect(registry.Invalidate(ctx, "preferences")).To(Succeed())
			summarizer.text = "a fresher summary"

			text, err := registry.GetOrRegenerate(ctx, "preferences")
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("a fresher summary"))
			Expect(summarizer.calls).To(Equal(2))
		})

		It("serves stale text when regeneration fails", func() {
			Expect(registry.Invalidate(ctx, "preferences")).To(Succeed())
			_, err := registry.GetOrRegenerate(ctx, "preferences")
			Expect(err).NotTo(HaveOccurred())

			Expect(registry.Invalidate(ctx, "preferences")).To(Succeed())
			summarizer.err = errors.New("provider down")

			text, err := registry.GetOrRegenerate(ctx, "preferences")
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(Equal("a summary"))
		})

		It("propagates the error when there is no cache to fall back on", func() {
			summarizer.err = errors.New("provider down")
			_, err := registry.GetOrRegenerate(ctx, "preferences")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Regenerate", func() {
		It("feeds active facts to the summarizer, not archived ones", func() {
			addFact("John", "prefers", "dark mode", "preferences")

			archived, err := memory.NewFact("John", "prefers", "light mode")
			Expect(err).NotTo(HaveOccurred())
			archived.Category = "preferences"
			Expect(driver.PutFact(ctx, archived)).To(Succeed())
			Expect(driver.SetStatus(ctx, archived.ID, memory.StatusArchived)).To(Succeed())

			var got []string
			registry = summary.NewRegistry(driver, summarizerFunc(func(_ string, facts []string) (string, error) {
				got = facts
				return "ok", nil
			}), nil)

			_, err = registry.Regenerate(ctx, "preferences")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(ConsistOf("John prefers dark mode"))
		})

		It("clears the stale flag", func() {
			Expect(registry.Invalidate(ctx, "facts")).To(Succeed())
			_, err := registry.Regenerate(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())

			c, err := driver.GetCategory(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Stale).To(BeFalse())
		})
	})
})

type summarizerFunc func(category string, facts []string) (string, error)

func (f summarizerFunc) Summarize(_ context.Context, category string, facts []string) (string, error) {
	return f(category, facts)
}

var _ = Describe("Joiner", func() {
	It("returns empty for no facts", func() {
		j := &summary.Joiner{}
		text, err := j.Summarize(context.Background(), "preferences", nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(BeEmpty())
	})

	It("joins the leading facts with the total count", func() {
		j := &summary.Joiner{MaxFacts: 2}
		text, err := j.Summarize(context.Background(), "preferences",
			[]string{"a", "b", "c"})
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("preferences (3): a; b"))
	})
})
