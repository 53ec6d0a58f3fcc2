package engine_test

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/conflict"
	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/eventstream/nop"
	"github.com/papercomputeco/engram/pkg/extraction"
	"github.com/papercomputeco/engram/pkg/jobs"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/priority"
	"github.com/papercomputeco/engram/pkg/retrieval"
	"github.com/papercomputeco/engram/pkg/store"
	storemem "github.com/papercomputeco/engram/pkg/store/inmemory"
	"github.com/papercomputeco/engram/pkg/summary"
	vecmem "github.com/papercomputeco/engram/pkg/vector/inmemory"
)

// scriptedExtractor returns canned candidates for known inputs.
type scriptedExtractor struct {
	byText map[string][]extraction.Candidate
	err    error
	calls  int
}

func (s *scriptedExtractor) Extract(_ context.Context, text string) ([]extraction.Candidate, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.byText[text], nil
}

// unitEmbedder maps each distinct text to a distinct axis-aligned vector so
// similarity is 1 for identical text and 0 otherwise.
type unitEmbedder struct {
	axes map[string]int
	next int
}

func newUnitEmbedder() *unitEmbedder {
	return &unitEmbedder{axes: make(map[string]int)}
}

func (u *unitEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	axis, ok := u.axes[text]
	if !ok {
		axis = u.next % 8
		u.axes[text] = axis
		u.next++
	}
	vec := make([]float32, 8)
	vec[axis] = 1
	return vec, nil
}

func (u *unitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := u.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (u *unitEmbedder) Dimensions() int { return 8 }
func (u *unitEmbedder) Close() error   { return nil }

// capturingPublisher records published events.
type capturingPublisher struct {
	events []*eventstream.FactIngestedEvent
}

func (p *capturingPublisher) PublishFact(_ context.Context, event *eventstream.FactIngestedEvent) error {
	if event == nil {
		return eventstream.ErrNilFactEvent
	}
	p.events = append(p.events, event)
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func candidate(subject, predicate, object, category string, confidence float64) extraction.Candidate {
	c := extraction.Candidate{
		Subject:    subject,
		Predicate:  predicate,
		Category:   category,
		Confidence: confidence,
	}
	if object != "" {
		c.Object = &object
	}
	return c
}

var _ = Describe("Engine", func() {
	var (
		ctx       context.Context
		driver    *storemem.Driver
		vectors   *vecmem.Driver
		embedder  *unitEmbedder
		extractor *scriptedExtractor
		publisher *capturingPublisher
		eng       *engine.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		driver = storemem.NewDriver()
		vectors = vecmem.NewDriver()
		embedder = newUnitEmbedder()
		publisher = &capturingPublisher{}
		extractor = &scriptedExtractor{byText: map[string][]extraction.Candidate{
			"John works at Acme and prefers dark mode": {
				candidate("john", "works_at", "acme", "facts", 0.9),
				candidate("john", "prefers", "dark mode", "", 0.8),
			},
			"John works at Initech now": {
				candidate("john", "works_at", "initech", "facts", 0.9),
			},
		}}

		registry := summary.NewRegistry(driver, &summary.Joiner{}, nil)
		ranker := priority.NewRanker(priority.DefaultConfig())
		retr := retrieval.NewEngine(driver, ranker, registry, embedder, vectors, nil)

		runner := jobs.NewRunner(nil)
		runner.Register(jobs.NewNightly(driver, registry, jobs.DefaultNightlyConfig(), nil))

		var err error
		eng, err = engine.New(engine.Options{
			Driver:        driver,
			Extractor:     extractor,
			ExtractorName: "scripted",
			Resolver:      conflict.NewResolver(driver, nil),
			Registry:      registry,
			Retrieval:     retr,
			Embedder:      embedder,
			Vectors:       vectors,
			Publisher:     publisher,
			Runner:        runner,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("New", func() {
		It("requires the core collaborators", func() {
			_, err := engine.New(engine.Options{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Ingest", func() {
		It("stores the resource without extraction by default", func() {
			out, err := eng.Ingest(ctx, "John works at Acme and prefers dark mode", "chat", nil, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Resource).NotTo(BeNil())
			Expect(out.Results).To(BeEmpty())
			Expect(extractor.calls).To(BeZero())

			pending, err := driver.ListPendingResources(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(1))
		})

		It("rejects empty content", func() {
			_, err := eng.Ingest(ctx, "", "chat", nil, false)
			Expect(err).To(HaveOccurred())
		})

		It("extracts immediately when asked", func() {
			out, err := eng.Ingest(ctx, "John works at Acme and prefers dark mode", "chat", nil, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Results).To(HaveLen(2))
			Expect(out.Results[0].Action).To(Equal(conflict.ActionInserted))

			facts, err := driver.ListFacts(ctx, store.FactFilter{Status: memory.StatusActive})
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(2))
			for _, f := range facts {
				Expect(f.ResourceID).NotTo(BeNil())
				Expect(*f.ResourceID).To(Equal(out.Resource.ID))
			}
		})

		It("keeps the resource when immediate extraction fails", func() {
			extractor.err = errors.New("model unavailable")

			out, err := eng.Ingest(ctx, "John works at Acme and prefers dark mode", "chat", nil, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Results).To(BeEmpty())

			stored, err := driver.GetResource(ctx, out.Resource.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.Content).To(Equal("John works at Acme and prefers dark mode"))

			// The backlog pass picks it up once extraction recovers.
			extractor.err = nil
			processed, err := eng.ProcessPending(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(processed).To(Equal(1))
		})
	})

	Describe("Extract", func() {
		It("classifies unlabeled candidates by predicate keywords", func() {
			out, err := eng.Ingest(ctx, "John works at Acme and prefers dark mode", "chat", nil, true)
			Expect(err).NotTo(HaveOccurred())

			var categories []string
			for _, r := range out.Results {
				categories = append(categories, r.Fact.Category)
			}
			Expect(categories).To(ConsistOf("facts", "preferences"))
		})

		It("marks touched category summaries stale", func() {
			_, err := eng.Ingest(ctx, "John works at Acme and prefers dark mode", "chat", nil, true)
			Expect(err).NotTo(HaveOccurred())

			cat, err := driver.GetCategory(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())
			Expect(cat.Stale).To(BeTrue())
		})

		It("indexes each new fact", func() {
			_, err := eng.Ingest(ctx, "John works at Acme and prefers dark mode", "chat", nil, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(vectors.Count()).To(Equal(2))
		})

		It("publishes one event per resolved fact", func() {
			_, err := eng.Ingest(ctx, "John works at Acme and prefers dark mode", "chat", nil, true)
			Expect(err).NotTo(HaveOccurred())

			Expect(publisher.events).To(HaveLen(2))
			Expect(publisher.events[0].EventType).To(Equal(eventstream.EventTypeFactIngested))
			Expect(publisher.events[0].Source.Extractor).To(Equal("scripted"))
			Expect(publisher.events[0].Action).To(Equal("inserted"))
		})

		It("supersedes a contradicted claim end to end", func() {
			_, err := eng.Ingest(ctx, "John works at Acme and prefers dark mode", "chat", nil, true)
			Expect(err).NotTo(HaveOccurred())

			out, err := eng.Ingest(ctx, "John works at Initech now", "chat", nil, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Results).To(HaveLen(1))
			Expect(out.Results[0].Action).To(Equal(conflict.ActionSuperseded))
			Expect(out.Results[0].Archived).NotTo(BeNil())

			active, err := driver.FindActiveClaim(ctx, memory.NewClaimKey("john", "works_at"))
			Expect(err).NotTo(HaveOccurred())
			Expect(active.Object).To(Equal("initech"))
			Expect(active.Supersedes).NotTo(BeNil())
		})
	})

	Describe("Remember", func() {
		It("stores a structured fact without extraction", func() {
			result, err := eng.Remember(ctx, candidate("mary", "lives_in", "berlin", "facts", 0.8))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Action).To(Equal(conflict.ActionInserted))
			Expect(result.Fact.ResourceID).To(BeNil())
			Expect(extractor.calls).To(BeZero())

			cat, err := driver.GetCategory(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())
			Expect(cat.Stale).To(BeTrue())
			Expect(vectors.Count()).To(Equal(1))
		})

		It("classifies an unlabeled candidate", func() {
			result, err := eng.Remember(ctx, candidate("mary", "prefers", "tea", "", 0.8))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Fact.Category).To(Equal("preferences"))
		})

		It("tags the published event as a direct write", func() {
			_, err := eng.Remember(ctx, candidate("mary", "lives_in", "berlin", "facts", 0.8))
			Expect(err).NotTo(HaveOccurred())

			Expect(publisher.events).To(HaveLen(1))
			Expect(publisher.events[0].Source.Extractor).To(Equal("direct"))
			Expect(publisher.events[0].Source.ResourceID).To(BeEmpty())
		})

		It("rejects an empty candidate", func() {
			_, err := eng.Remember(ctx, extraction.Candidate{})
			Expect(err).To(HaveOccurred())
		})

		It("marks the archived fact's category stale on a cross-category supersession", func() {
			_, err := eng.Remember(ctx, candidate("mary", "drinks", "coffee", "facts", 1.0))
			Expect(err).NotTo(HaveOccurred())

			// Freshen the summary so the supersession is what staled it.
			Expect(driver.UpsertCategory(ctx, &memory.Category{
				ID:        uuid.New(),
				Name:      "facts",
				Summary:   "things about mary",
				Stale:     false,
				UpdatedAt: time.Now().UTC(),
			})).To(Succeed())

			result, err := eng.Remember(ctx, candidate("mary", "drinks", "tea", "preferences", 1.0))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Action).To(Equal(conflict.ActionSuperseded))
			Expect(result.Archived.Category).To(Equal("facts"))

			cat, err := driver.GetCategory(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())
			Expect(cat.Stale).To(BeTrue())
		})
	})

	Describe("ProcessPending", func() {
		It("works through the backlog and skips nothing on success", func() {
			_, err := eng.Ingest(ctx, "John works at Acme and prefers dark mode", "chat", nil, false)
			Expect(err).NotTo(HaveOccurred())

			n, err := eng.ProcessPending(ctx, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			pending, err := driver.ListPendingResources(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})

	Describe("Retrieve and Context", func() {
		BeforeEach(func() {
			_, err := eng.Ingest(ctx, "John works at Acme and prefers dark mode", "chat", nil, true)
			Expect(err).NotTo(HaveOccurred())
		})

		It("retrieves facts for a query", func() {
			resp, err := eng.Retrieve(ctx, retrieval.Request{Query: "john"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.TotalItems).To(BeNumerically(">=", 2))
		})

		It("renders markdown context", func() {
			text, err := eng.Context(ctx, retrieval.Request{})
			Expect(err).NotTo(HaveOccurred())
			Expect(text).To(ContainSubstring("## facts"))
			Expect(text).To(ContainSubstring("## preferences"))
			Expect(strings.ToLower(text)).To(ContainSubstring("john works_at acme"))
		})
	})

	Describe("RunJob", func() {
		It("dispatches registered jobs", func() {
			report, err := eng.RunJob(ctx, "nightly")
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Job).To(Equal("nightly"))
		})

		It("fails for unknown jobs", func() {
			_, err := eng.RunJob(ctx, "hourly")
			Expect(err).To(HaveOccurred())
		})

		It("lists registered job names", func() {
			Expect(eng.JobNames()).To(ContainElement("nightly"))
		})
	})

	Describe("Stat", func() {
		It("counts store contents", func() {
			_, err := eng.Ingest(ctx, "John works at Acme and prefers dark mode", "chat", nil, true)
			Expect(err).NotTo(HaveOccurred())
			_, err = eng.Ingest(ctx, "John works at Initech now", "chat", nil, true)
			Expect(err).NotTo(HaveOccurred())

			s, err := eng.Stat(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Resources).To(Equal(2))
			Expect(s.ActiveFacts).To(Equal(2))
			Expect(s.ArchivedFacts).To(Equal(1))
			Expect(s.Categories).To(Equal(2))
		})
	})
})

var _ = Describe("Engine without optional collaborators", func() {
	newCore := func() (*engine.Engine, *storemem.Driver) {
		driver := storemem.NewDriver()
		registry := summary.NewRegistry(driver, &summary.Joiner{}, nil)
		retr := retrieval.NewEngine(driver, priority.NewRanker(priority.DefaultConfig()), registry, nil, nil, nil)
		eng, err := engine.New(engine.Options{
			Driver:    driver,
			Resolver:  conflict.NewResolver(driver, nil),
			Registry:  registry,
			Retrieval: retr,
			Publisher: nop.NewPublisher(),
		})
		Expect(err).NotTo(HaveOccurred())
		return eng, driver
	}

	It("ingests without an extractor", func() {
		eng, driver := newCore()
		out, err := eng.Ingest(context.Background(), "plain note", "cli", nil, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Results).To(BeEmpty())

		pending, err := driver.ListPendingResources(context.Background(), 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(1))
	})

	It("refuses ProcessPending without an extractor", func() {
		eng, _ := newCore()
		_, err := eng.ProcessPending(context.Background(), 10)
		Expect(err).To(HaveOccurred())
	})

	It("refuses RunJob without a runner", func() {
		eng, _ := newCore()
		_, err := eng.RunJob(context.Background(), "nightly")
		Expect(err).To(HaveOccurred())
	})
})
