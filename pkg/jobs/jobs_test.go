package jobs

import (
	"context"
	"sync"
	"time"

	ginkgo "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/store/inmemory"
	"github.com/papercomputeco/engram/pkg/summary"
	"github.com/papercomputeco/engram/pkg/vector"
	vecmem "github.com/papercomputeco/engram/pkg/vector/inmemory"
)

type staticEmbedder struct{ dims int }

func (s *staticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dims)
	for i, r := range text {
		vec[i%s.dims] += float32(r)
	}
	return vec, nil
}

func (s *staticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := s.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (s *staticEmbedder) Dimensions() int { return s.dims }
func (s *staticEmbedder) Close() error    { return nil }

var _ embeddings.Embedder = (*staticEmbedder)(nil)

var _ = ginkgo.Describe("Maintenance jobs", func() {
	var (
		ctx      context.Context
		driver   *inmemory.Driver
		registry *summary.Registry
	)

	ginkgo.BeforeEach(func() {
		ctx = context.Background()
		driver = inmemory.NewDriver()
		registry = summary.NewRegistry(driver, &summary.Joiner{}, nil)
	})

	addFact := func(subject, predicate, object, category string, createdAt time.Time) *memory.Fact {
		f, err := memory.NewFact(subject, predicate, object)
		Expect(err).NotTo(HaveOccurred())
		f.Category = category
		if !createdAt.IsZero() {
			f.CreatedAt = createdAt
		}
		Expect(driver.PutFact(ctx, f)).To(Succeed())
		return f
	}

	ginkgo.Describe("Nightly", func() {
		var job *Nightly

		ginkgo.BeforeEach(func() {
			job = NewNightly(driver, registry, DefaultNightlyConfig(), nil)
		})

		ginkgo.It("merges duplicate triples, keeping the newest with max confidence", func() {
			base := time.Now().UTC().Add(-time.Hour)

			older := addFact("John", "works at", "Acme", "facts", base)
			older.Confidence = 0.9
			Expect(driver.UpdateFact(ctx, older)).To(Succeed())

			newer := addFact("john", "Works At", "ACME", "facts", base.Add(time.Minute))
			newer.Confidence = 0.4
			Expect(driver.UpdateFact(ctx, newer)).To(Succeed())

			report, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Details["duplicates_archived"]).To(Equal(1))

			survivor, err := driver.GetFact(ctx, newer.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(survivor.Status).To(Equal(memory.StatusActive))
			Expect(survivor.Confidence).To(BeNumerically("~", 0.9, 1e-9))

			archived, err := driver.GetFact(ctx, older.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(archived.Status).To(Equal(memory.StatusArchived))
			Expect(archived.Supersedes).NotTo(BeNil())
			Expect(*archived.Supersedes).To(Equal(newer.ID))
		})

		ginkgo.It("is idempotent: a second run finds nothing to merge", func() {
			base := time.Now().UTC().Add(-time.Hour)
			addFact("John", "works at", "Acme", "facts", base)
			addFact("John", "works at", "Acme", "facts", base.Add(time.Minute))

			_, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			report, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Details["duplicates_archived"]).To(BeZero())
		})

		ginkgo.It("promotes facts of hot subjects with a clamped boost", func() {
			now := time.Now().UTC()
			var facts []*memory.Fact
			for i := 0; i < 6; i++ {
				f := addFact("John", "predicate", string(rune('a'+i)), "facts", now.Add(-time.Duration(i)*time.Minute))
				f.Confidence = 0.5
				Expect(driver.UpdateFact(ctx, f)).To(Succeed())
				facts = append(facts, f)
			}

			report, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Details["facts_promoted"]).To(Equal(6))

			got, err := driver.GetFact(ctx, facts[0].ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Confidence).To(BeNumerically("~", 0.55, 1e-9))
		})

		ginkgo.It("marks touched categories stale", func() {
			base := time.Now().UTC().Add(-time.Hour)
			addFact("John", "works at", "Acme", "facts", base)
			addFact("John", "works at", "Acme", "facts", base.Add(time.Minute))

			_, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			c, err := driver.GetCategory(ctx, "facts")
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Stale).To(BeTrue())
		})
	})

	ginkgo.Describe("Weekly", func() {
		var (
			job *Weekly
			now time.Time
		)

		ginkgo.BeforeEach(func() {
			now = time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
			job = NewWeekly(driver, registry, DefaultWeeklyConfig(), nil)
			job.now = func() time.Time { return now }
		})

		ginkgo.It("halves confidence over one half-life", func() {
			f := addFact("John", "works at", "Acme", "facts", now.Add(-30*24*time.Hour))

			_, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			got, err := driver.GetFact(ctx, f.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Confidence).To(BeNumerically("~", 0.5, 1e-6))
			Expect(got.DecayedAt).To(Equal(now))
		})

		ginkgo.It("does not double-decay on an immediate re-run", func() {
			f := addFact("John", "works at", "Acme", "facts", now.Add(-30*24*time.Hour))

			_, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			first, err := driver.GetFact(ctx, f.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			second, err := driver.GetFact(ctx, f.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(second.Confidence).To(Equal(first.Confidence))
		})

		ginkgo.It("decays only the interval since the watermark", func() {
			created := now.Add(-60 * 24 * time.Hour)
			f := addFact("John", "works at", "Acme", "facts", created)
			f.DecayedAt = now.Add(-30 * 24 * time.Hour)
			f.Confidence = 0.5
			Expect(driver.UpdateFact(ctx, f)).To(Succeed())

			_, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			got, err := driver.GetFact(ctx, f.ID)
			Expect(err).NotTo(HaveOccurred())
			// One further half-life on the already-decayed value.
			Expect(got.Confidence).To(BeNumerically("~", 0.25, 1e-6))
		})

		ginkgo.It("archives facts below the threshold and past the age limit", func() {
			old := addFact("John", "used to like", "fax machines", "facts", now.Add(-200*24*time.Hour))
			old.Confidence = 0.05
			old.DecayedAt = now
			Expect(driver.UpdateFact(ctx, old)).To(Succeed())

			young := addFact("John", "likes", "email", "facts", now.Add(-time.Hour))
			young.Confidence = 0.05
			young.DecayedAt = now
			Expect(driver.UpdateFact(ctx, young)).To(Succeed())

			_, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())

			gotOld, err := driver.GetFact(ctx, old.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotOld.Status).To(Equal(memory.StatusArchived))

			gotYoung, err := driver.GetFact(ctx, young.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(gotYoung.Status).To(Equal(memory.StatusActive))
		})

		ginkgo.It("deletes orphaned resources past retention", func() {
			orphan := memory.NewResource("never extracted", "chat", nil)
			orphan.CreatedAt = now.Add(-60 * 24 * time.Hour)
			Expect(driver.PutResource(ctx, orphan)).To(Succeed())

			linked := memory.NewResource("extracted", "chat", nil)
			linked.CreatedAt = now.Add(-60 * 24 * time.Hour)
			Expect(driver.PutResource(ctx, linked)).To(Succeed())
			f, err := memory.NewFact("John", "works at", "Acme")
			Expect(err).NotTo(HaveOccurred())
			f.Category = "facts"
			f.ResourceID = &linked.ID
			Expect(driver.PutFact(ctx, f)).To(Succeed())

			report, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Details["orphans_deleted"]).To(Equal(1))

			_, err = driver.GetResource(ctx, orphan.ID)
			Expect(err).To(HaveOccurred())
			_, err = driver.GetResource(ctx, linked.ID)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	ginkgo.Describe("Monthly", func() {
		var (
			job     *Monthly
			vectors *vecmem.Driver
		)

		ginkgo.BeforeEach(func() {
			vectors = vecmem.NewDriver()
			job = NewMonthly(driver, &staticEmbedder{dims: 4}, vectors, DefaultMonthlyConfig(), nil)
		})

		ginkgo.It("re-embeds every active fact and drops stale index entries", func() {
			f1 := addFact("John", "works at", "Acme", "facts", time.Time{})
			f2 := addFact("John", "prefers", "dark mode", "preferences", time.Time{})

			// A leftover entry for a fact that no longer exists.
			Expect(vectors.Add(ctx, []vector.Document{{ID: "stale", Embedding: []float32{1}}})).To(Succeed())

			report, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Details["facts_embedded"]).To(Equal(2))

			Expect(vectors.Count()).To(Equal(2))
			docs, err := vectors.Get(ctx, []string{f1.ID.String(), f2.ID.String()})
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(2))
		})

		ginkgo.It("builds relates_to and co-membership edges deterministically", func() {
			a := addFact("John", "works at", "Acme", "facts", time.Time{})
			a.Confidence = 0.8
			Expect(driver.UpdateFact(ctx, a)).To(Succeed())
			addFact("Mary", "lives in", "Berlin", "facts", time.Time{})

			_, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			first, err := driver.ListEdges(ctx)
			Expect(err).NotTo(HaveOccurred())

			// relates_to: john->acme (0.8), mary->berlin (1.0);
			// shares_facts: john<->mary (0.5).
			Expect(first).To(HaveLen(3))

			weights := make(map[string]float64)
			for _, e := range first {
				weights[e.Subject+"|"+e.Predicate+"|"+e.Object] = e.Weight
			}
			Expect(weights).To(HaveKeyWithValue("john|relates_to|acme", BeNumerically("~", 0.8, 1e-9)))
			Expect(weights).To(HaveKeyWithValue("mary|relates_to|berlin", BeNumerically("~", 1.0, 1e-9)))
			Expect(weights).To(HaveKeyWithValue("john|shares_facts|mary", BeNumerically("~", 0.5, 1e-9)))

			// Re-running yields the same edge set and weights.
			_, err = job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			second, err := driver.ListEdges(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(HaveLen(len(first)))
			for _, e := range second {
				Expect(weights).To(HaveKeyWithValue(e.Subject+"|"+e.Predicate+"|"+e.Object,
					BeNumerically("~", e.Weight, 1e-9)))
			}
		})

		ginkgo.It("rebuilds the graph without an embedding provider", func() {
			job = NewMonthly(driver, nil, nil, DefaultMonthlyConfig(), nil)
			addFact("John", "works at", "Acme", "facts", time.Time{})

			report, err := job.Run(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Details["edges_built"]).To(Equal(1))
		})
	})

	ginkgo.Describe("Runner", func() {
		ginkgo.It("rejects a second concurrent run of the same job type", func() {
			runner := NewRunner(nil)
			release := make(chan struct{})
			started := make(chan struct{})
			var startedOnce sync.Once

			runner.Register(jobFunc{name: "nightly", run: func(ctx context.Context) (*Report, error) {
				startedOnce.Do(func() { close(started) })
				<-release
				return newReport("nightly").finish(), nil
			}})

			done := make(chan struct{})
			go func() {
				defer ginkgo.GinkgoRecover()
				defer close(done)
				_, err := runner.Run(ctx, "nightly")
				Expect(err).NotTo(HaveOccurred())
			}()

			<-started
			_, err := runner.Run(ctx, "nightly")
			Expect(err).To(MatchError(ErrAlreadyRunning))

			close(release)
			<-done

			// After completion the job type is runnable again.
			_, err = runner.Run(ctx, "nightly")
			Expect(err).NotTo(HaveOccurred())
		})

		ginkgo.It("fails for an unregistered job", func() {
			runner := NewRunner(nil)
			_, err := runner.Run(ctx, "quarterly")
			Expect(err).To(HaveOccurred())
		})
	})
})

type jobFunc struct {
	name string
	run  func(ctx context.Context) (*Report, error)
}

func (j jobFunc) Name() string                             { return j.name }
func (j jobFunc) Run(ctx context.Context) (*Report, error) { return j.run(ctx) }
