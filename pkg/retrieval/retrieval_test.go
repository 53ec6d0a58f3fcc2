package retrieval_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/priority"
	"github.com/papercomputeco/engram/pkg/retrieval"
	"github.com/papercomputeco/engram/pkg/store/inmemory"
	"github.com/papercomputeco/engram/pkg/summary"
	"github.com/papercomputeco/engram/pkg/vector"
	vecmem "github.com/papercomputeco/engram/pkg/vector/inmemory"
)

// unitEmbedder maps known texts to fixed vectors for deterministic
// similarity results.
type unitEmbedder struct {
	vectors map[string][]float32
}

func (u *unitEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := u.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (u *unitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := u.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (u *unitEmbedder) Dimensions() int { return 3 }
func (u *unitEmbedder) Close() error    { return nil }

var _ = Describe("Engine", func() {
	var (
		ctx      context.Context
		driver   *inmemory.Driver
		registry *summary.Registry
		engine   *retrieval.Engine
	)

	addFact := func(subject, predicate, object, category string) *memory.Fact {
		f, err := memory.NewFact(subject, predicate, object)
		Expect(err).NotTo(HaveOccurred())
		f.Category = category
		Expect(driver.PutFact(ctx, f)).To(Succeed())
		return f
	}

	BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		registry = summary.NewRegistry(driver, &summary.Joiner{}, nil)
		engine = retrieval.NewEngine(driver, priority.NewRanker(priority.DefaultConfig()), registry, nil, nil, nil)
	})

	It("returns an empty response for an empty store", func() {
		resp, err := engine.Retrieve(ctx, retrieval.Request{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Categories).To(BeEmpty())
		Expect(resp.TotalItems).To(BeZero())
	})

	It("orders categories by priority rank", func() {
		addFact("John", "prefers", "dark mode", "preferences")
		addFact("Birthday", "is on", "June 3", "events")
		addFact("John", "works at", "Acme", "facts")

		resp, err := engine.Retrieve(ctx, retrieval.Request{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Categories).To(HaveLen(3))
		Expect(resp.Categories[0].Name).To(Equal("preferences"))
		Expect(resp.Categories[1].Name).To(Equal("facts"))
		Expect(resp.Categories[2].Name).To(Equal("events"))
		Expect(resp.TotalItems).To(Equal(3))
	})

	It("lists facts newest first and caps them per category", func() {
		var last *memory.Fact
		for i := 0; i < 15; i++ {
			last = addFact("John", "visited", "place", "events")
			time.Sleep(time.Millisecond)
		}

		resp, err := engine.Retrieve(ctx, retrieval.Request{MaxItemsPerCategory: 10})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Categories).To(HaveLen(1))
		Expect(resp.Categories[0].Items).To(HaveLen(10))
		Expect(resp.Categories[0].Items[0].Fact.ID).To(Equal(last.ID))
	})

	It("filters facts by query token overlap", func() {
		addFact("John", "works at", "Acme", "facts")
		addFact("Mary", "works at", "Globex", "facts")

		resp, err := engine.Retrieve(ctx, retrieval.Request{Query: "John"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Categories).To(HaveLen(1))
		Expect(resp.Categories[0].Items).To(HaveLen(1))
		Expect(resp.Categories[0].Items[0].Fact.Subject).To(Equal("John"))
	})

	It("matches through entity aliases", func() {
		addFact("user", "uses", "postgresql", "skills")
		addFact("user", "uses", "redis", "skills")

		resp, err := engine.Retrieve(ctx, retrieval.Request{Query: "pg"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Categories).To(HaveLen(1))
		Expect(resp.Categories[0].Items).To(HaveLen(1))
		Expect(resp.Categories[0].Items[0].Fact.Object).To(Equal("postgresql"))
	})

	It("excludes archived facts", func() {
		f := addFact("John", "works at", "Acme", "facts")
		Expect(driver.SetStatus(ctx, f.ID, memory.StatusArchived)).To(Succeed())

		resp, err := engine.Retrieve(ctx, retrieval.Request{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Categories).To(BeEmpty())
	})

	It("returns a filtered category with no facts as an empty block", func() {
		resp, err := engine.Retrieve(ctx, retrieval.Request{Categories: []string{"hobbies"}})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Categories).To(HaveLen(1))
		Expect(resp.Categories[0].Name).To(Equal("hobbies"))
		Expect(resp.Categories[0].Items).To(BeEmpty())
	})

	It("preserves the order of an explicit category filter", func() {
		addFact("John", "prefers", "dark mode", "preferences")
		addFact("John", "works at", "Acme", "facts")

		resp, err := engine.Retrieve(ctx, retrieval.Request{
			Categories: []string{"facts", "preferences"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Categories[0].Name).To(Equal("facts"))
		Expect(resp.Categories[1].Name).To(Equal("preferences"))
	})

	It("counts accesses over the ranker's configured window", func() {
		cfg := priority.DefaultConfig()
		cfg.StaticWeights = map[string]float64{}
		cfg.DefaultWeight = 1
		cfg.UsageWindowDays = 7
		cfg.UsageNorm = 1
		cfg.UsageWeight = 1
		cfg.RecencyWeight = 0
		engine = retrieval.NewEngine(driver, priority.NewRanker(cfg), registry, nil, nil, nil)

		addFact("john", "prefers", "tea", "alpha")
		addFact("john", "visits", "gym", "beta")

		// alpha's access falls outside the 7 day window, beta's inside.
		now := time.Now().UTC()
		Expect(driver.AppendAccesses(ctx, []*memory.CategoryAccess{
			{ID: uuid.New(), Category: "alpha", AccessedAt: now.Add(-10 * 24 * time.Hour), Source: "context"},
			{ID: uuid.New(), Category: "beta", AccessedAt: now.Add(-time.Hour), Source: "context"},
		})).To(Succeed())

		resp, err := engine.Retrieve(ctx, retrieval.Request{})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Categories).To(HaveLen(2))
		Expect(resp.Categories[0].Name).To(Equal("beta"))
		Expect(resp.Categories[0].Priority).To(BeNumerically("~", 2.0, 0.01))
		Expect(resp.Categories[1].Priority).To(BeNumerically("~", 1.0, 0.01))
	})

	It("records one access row per included category", func() {
		addFact("John", "prefers", "dark mode", "preferences")
		addFact("John", "works at", "Acme", "facts")

		_, err := engine.Retrieve(ctx, retrieval.Request{})
		Expect(err).NotTo(HaveOccurred())

		counts, err := driver.CountAccessesSince(ctx, time.Time{}.Add(time.Second))
		Expect(err).NotTo(HaveOccurred())
		Expect(counts).To(HaveKeyWithValue("preferences", 1))
		Expect(counts).To(HaveKeyWithValue("facts", 1))
	})

	Describe("truncation", func() {
		BeforeEach(func() {
			addFact("John", "prefers", "dark mode with a long descriptive object", "preferences")
			addFact("John", "works at", "Acme Corporation in the big city", "facts")
			addFact("Birthday", "is on", "June 3", "events")
		})

		It("never splits a category block", func() {
			full, err := engine.Retrieve(ctx, retrieval.Request{})
			Expect(err).NotTo(HaveOccurred())

			firstLen := len(retrieval.RenderBlock(full.Categories[0]))
			secondLen := len(retrieval.RenderBlock(full.Categories[1]))

			// Budget fits the first block plus part of the second: the
			// second must be dropped whole.
			resp, err := engine.Retrieve(ctx, retrieval.Request{
				MaxChars: firstLen + secondLen/2,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Categories).To(HaveLen(1))
			Expect(resp.Categories[0].Name).To(Equal("preferences"))
			Expect(resp.Categories[0].Items).To(HaveLen(1))
			Expect(resp.Truncated).To(BeTrue())
		})

		It("includes the first block even when it exceeds the budget", func() {
			resp, err := engine.Retrieve(ctx, retrieval.Request{MaxChars: 10})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Categories).To(HaveLen(1))
			Expect(resp.Categories[0].Name).To(Equal("preferences"))
			Expect(resp.Categories[0].Items).NotTo(BeEmpty())
			Expect(resp.Truncated).To(BeTrue())
		})

		It("returns everything when unbounded", func() {
			resp, err := engine.Retrieve(ctx, retrieval.Request{})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Categories).To(HaveLen(3))
			Expect(resp.Truncated).To(BeFalse())
		})
	})

	Describe("vector tier", func() {
		var vectors *vecmem.Driver

		BeforeEach(func() {
			vectors = vecmem.NewDriver()
			embedder := &unitEmbedder{vectors: map[string][]float32{
				"workplace": {1, 0, 0},
			}}
			engine = retrieval.NewEngine(driver, priority.NewRanker(priority.DefaultConfig()), registry, embedder, vectors, nil)
		})

		It("appends similarity matches after exact matches, deduplicated", func() {
			exact := addFact("John", "likes his workplace", "", "facts")
			similar := addFact("John", "works at", "Acme", "facts")

			Expect(vectors.Add(ctx, []vector.Document{
				{ID: exact.ID.String(), Category: "facts", Embedding: []float32{1, 0, 0}},
				{ID: similar.ID.String(), Category: "facts", Embedding: []float32{0.95, 0.05, 0}},
			})).To(Succeed())

			resp, err := engine.Retrieve(ctx, retrieval.Request{Query: "workplace"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.Categories).To(HaveLen(1))

			items := resp.Categories[0].Items
			Expect(items).To(HaveLen(2))
			Expect(items[0].Fact.ID).To(Equal(exact.ID))
			Expect(items[0].Match).To(Equal(retrieval.MatchExact))
			Expect(items[1].Fact.ID).To(Equal(similar.ID))
			Expect(items[1].Match).To(Equal(retrieval.MatchSimilarity))
		})

		It("skips archived facts surfaced by the index", func() {
			stale := addFact("John", "works at", "Initech", "facts")
			Expect(vectors.Add(ctx, []vector.Document{
				{ID: stale.ID.String(), Category: "facts", Embedding: []float32{1, 0, 0}},
			})).To(Succeed())
			Expect(driver.SetStatus(ctx, stale.ID, memory.StatusArchived)).To(Succeed())

			// Another active fact keeps the category alive.
			addFact("John", "enjoys", "coding", "facts")

			resp, err := engine.Retrieve(ctx, retrieval.Request{Query: "workplace"})
			Expect(err).NotTo(HaveOccurred())
			for _, block := range resp.Categories {
				for _, item := range block.Items {
					Expect(item.Fact.ID).NotTo(Equal(stale.ID))
				}
			}
		})
	})
})

var _ = Describe("Render", func() {
	It("renders blocks with summary and items", func() {
		f, err := memory.NewFact("John", "works at", "Acme")
		Expect(err).NotTo(HaveOccurred())
		f.Confidence = 0.8

		out := retrieval.Render(&retrieval.Response{Categories: []retrieval.CategoryBlock{{
			Name:    "facts",
			Summary: "things about John",
			Items:   []retrieval.Item{{Fact: f, Match: retrieval.MatchExact}},
		}}})
		Expect(out).To(ContainSubstring("## facts"))
		Expect(out).To(ContainSubstring("things about John"))
		Expect(out).To(ContainSubstring("- John works at Acme (confidence 0.80)"))
	})

	It("renders an empty response as an empty string", func() {
		Expect(retrieval.Render(&retrieval.Response{})).To(BeEmpty())
	})
})
