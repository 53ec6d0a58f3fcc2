package kafka

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/memory"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

var _ = Describe("Publisher", func() {
	var (
		fw  *fakeWriter
		pub *Publisher
	)

	BeforeEach(func() {
		fw = &fakeWriter{}
		pub = &Publisher{writer: fw, logger: zap.NewNop()}
	})

	It("requires at least one broker", func() {
		_, err := NewPublisher(Config{}, nil)
		Expect(err).To(HaveOccurred())
	})

	It("rejects nil events", func() {
		err := pub.PublishFact(context.Background(), nil)
		Expect(err).To(MatchError(eventstream.ErrNilFactEvent))
	})

	It("writes one message per event keyed by subject", func() {
		fact, err := memory.NewFact("john", "works_at", "acme")
		Expect(err).NotTo(HaveOccurred())

		event := &eventstream.FactIngestedEvent{
			SchemaVersion: eventstream.SchemaVersionV1,
			EventType:     eventstream.EventTypeFactIngested,
			EventID:       "evt_1",
			Action:        "inserted",
			Fact:          fact,
		}
		Expect(pub.PublishFact(context.Background(), event)).To(Succeed())

		Expect(fw.messages).To(HaveLen(1))
		Expect(string(fw.messages[0].Key)).To(Equal("john"))

		var got eventstream.FactIngestedEvent
		Expect(json.Unmarshal(fw.messages[0].Value, &got)).To(Succeed())
		Expect(got.EventID).To(Equal("evt_1"))
		Expect(got.Action).To(Equal("inserted"))
		Expect(got.Fact.Subject).To(Equal("john"))
	})

	It("propagates writer failures", func() {
		fw.err = errors.New("broker down")

		fact, err := memory.NewFact("john", "works_at", "acme")
		Expect(err).NotTo(HaveOccurred())

		err = pub.PublishFact(context.Background(), &eventstream.FactIngestedEvent{Fact: fact})
		Expect(err).To(HaveOccurred())
	})

	It("closes the underlying writer", func() {
		Expect(pub.Close()).To(Succeed())
		Expect(fw.closed).To(BeTrue())
	})
})
