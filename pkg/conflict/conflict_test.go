package conflict_test

import (
	"context"
	"fmt"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/conflict"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/store"
	"github.com/papercomputeco/engram/pkg/store/inmemory"
)

var _ = Describe("Resolver", func() {
	var (
		ctx      context.Context
		driver   *inmemory.Driver
		resolver *conflict.Resolver
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		resolver = conflict.NewResolver(driver, nil)
	})

	newFact := func(subject, predicate, object string) *memory.Fact {
		f, err := memory.NewFact(subject, predicate, object)
		Expect(err).NotTo(HaveOccurred())
		return f
	}

	It("inserts when no active fact holds the claim", func() {
		res, err := resolver.Resolve(ctx, newFact("John", "works at", "Acme"))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Action).To(Equal(conflict.ActionInserted))
		Expect(res.Archived).To(BeNil())

		stored, err := driver.GetFact(ctx, res.Fact.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(memory.StatusActive))
		Expect(stored.Supersedes).To(BeNil())
	})

	It("reinforces instead of duplicating an identical claim", func() {
		first, err := resolver.Resolve(ctx, newFact("John", "works at", "Acme"))
		Expect(err).NotTo(HaveOccurred())

		// Object differs only by case and spacing.
		res, err := resolver.Resolve(ctx, newFact("john", "Works At", "  ACME "))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Action).To(Equal(conflict.ActionReinforced))
		Expect(res.Fact.ID).To(Equal(first.Fact.ID))
		Expect(res.Fact.Confidence).To(BeNumerically("~", 1.0, 1e-9))

		count, err := driver.CountFacts(ctx, store.FactFilter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(count).To(Equal(1))
	})

	It("bumps confidence by the bounded bonus on reinforcement", func() {
		f := newFact("John", "prefers", "dark mode")
		f.Confidence = 0.6
		_, err := resolver.Resolve(ctx, f)
		Expect(err).NotTo(HaveOccurred())

		res, err := resolver.Resolve(ctx, newFact("John", "prefers", "dark mode"))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Action).To(Equal(conflict.ActionReinforced))
		Expect(res.Fact.Confidence).To(BeNumerically("~", 0.65, 1e-9))
	})

	It("clamps reinforced confidence at 1.0", func() {
		_, err := resolver.Resolve(ctx, newFact("John", "prefers", "dark mode"))
		Expect(err).NotTo(HaveOccurred())

		res, err := resolver.Resolve(ctx, newFact("John", "prefers", "dark mode"))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Fact.Confidence).To(BeNumerically("<=", 1.0))
	})

	It("archives the old fact and links the new one on a conflicting object", func() {
		first, err := resolver.Resolve(ctx, newFact("John", "works at", "Acme"))
		Expect(err).NotTo(HaveOccurred())

		res, err := resolver.Resolve(ctx, newFact("John", "works at", "Globex"))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Action).To(Equal(conflict.ActionSuperseded))
		Expect(res.Archived).NotTo(BeNil())
		Expect(res.Archived.ID).To(Equal(first.Fact.ID))

		old, err := driver.GetFact(ctx, first.Fact.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(old.Status).To(Equal(memory.StatusArchived))

		replacement, err := driver.GetFact(ctx, res.Fact.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(replacement.Status).To(Equal(memory.StatusActive))
		Expect(replacement.Supersedes).NotTo(BeNil())
		Expect(*replacement.Supersedes).To(Equal(first.Fact.ID))
	})

	It("leaves other claims untouched by a supersession", func() {
		_, err := resolver.Resolve(ctx, newFact("John", "works at", "Acme"))
		Expect(err).NotTo(HaveOccurred())
		other, err := resolver.Resolve(ctx, newFact("John", "prefers", "dark mode"))
		Expect(err).NotTo(HaveOccurred())

		_, err = resolver.Resolve(ctx, newFact("John", "works at", "Globex"))
		Expect(err).NotTo(HaveOccurred())

		stored, err := driver.GetFact(ctx, other.Fact.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(memory.StatusActive))
	})

	It("keeps exactly one active fact per claim under concurrent writers", func() {
		const writers = 16

		var wg sync.WaitGroup
		wg.Add(writers)
		for i := 0; i < writers; i++ {
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				f := newFact("John", "works at", fmt.Sprintf("Company %d", i))
				_, err := resolver.Resolve(ctx, f)
				Expect(err).NotTo(HaveOccurred())
			}(i)
		}
		wg.Wait()

		active, err := driver.ListFacts(ctx, store.FactFilter{Status: memory.StatusActive})
		Expect(err).NotTo(HaveOccurred())
		Expect(active).To(HaveLen(1))

		archived, err := driver.ListFacts(ctx, store.FactFilter{Status: memory.StatusArchived})
		Expect(err).NotTo(HaveOccurred())
		Expect(archived).To(HaveLen(writers - 1))
	})

	It("rejects a candidate with neither subject nor predicate", func() {
		_, err := resolver.Resolve(ctx, &memory.Fact{Object: "dangling"})
		Expect(err).To(HaveOccurred())
		var verr memory.ValidationError
		Expect(err).To(BeAssignableToTypeOf(verr))
	})
})
