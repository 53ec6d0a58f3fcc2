package embeddings_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/engram/pkg/embeddings"
)

var _ = Describe("Adapt", func() {
	It("returns the vector unchanged when widths match", func() {
		vec := []float32{1, 2, 3}
		Expect(embeddings.Adapt(vec, 3)).To(Equal([]float32{1, 2, 3}))
	})

	It("truncates a wider vector", func() {
		vec := []float32{1, 2, 3, 4}
		Expect(embeddings.Adapt(vec, 2)).To(Equal([]float32{1, 2}))
	})

	It("zero-pads a narrower vector", func() {
		vec := []float32{1, 2}
		Expect(embeddings.Adapt(vec, 4)).To(Equal([]float32{1, 2, 0, 0}))
	})

	It("ignores a non-positive target width", func() {
		vec := []float32{1, 2}
		Expect(embeddings.Adapt(vec, 0)).To(Equal([]float32{1, 2}))
	})
})
