package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/openev/carwings/internal/clock"
	"github.com/openev/carwings/pkg/protocol"
)

type stubSender struct {
	bodies []string
	calls  int
	err    error
}

func (s *stubSender) Send(_ context.Context, op protocol.Operation, _ map[string]string) (*protocol.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	body := s.bodies[min(s.calls, len(s.bodies)-1)]
	s.calls++
	return &protocol.Response{Endpoint: string(op), Status: 200, Body: []byte(body)}, nil
}

func stamped(t time.Time) string {
	return fmt.Sprintf(`{"ts":%q}`, t.Format(time.RFC3339))
}

func readTimestamp(rsp *protocol.Response) (time.Time, error) {
	return time.Parse(time.RFC3339, rsp.String("ts"))
}

var _ = Describe("FreshnessGate", func() {
	var (
		expected time.Time
		fake     *clock.Fake
	)

	BeforeEach(func() {
		expected = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
		fake = clock.NewFake(expected)
	})

	It("retries stale data and accepts the first fresh response", func() {
		sender := &stubSender{bodies: []string{
			stamped(expected.Add(500 * time.Second)),
			stamped(expected.Add(200 * time.Second)),
			stamped(expected.Add(10 * time.Second)),
		}}
		gate := NewFreshnessGate(sender, fake, readTimestamp)
		gate.Tolerance = 120 * time.Second

		rsp, fresh, err := gate.Wait(context.Background(), protocol.OpBatteryRecords, expected)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeTrue())
		Expect(sender.calls).To(Equal(3))
		Expect(fake.Sleeps()).To(HaveLen(2))
		Expect(rsp.String("ts")).To(Equal(expected.Add(10 * time.Second).Format(time.RFC3339)))
	})

	It("accepts timestamps before the expected time within tolerance", func() {
		sender := &stubSender{bodies: []string{stamped(expected.Add(-30 * time.Second))}}
		_, fresh, err := NewFreshnessGate(sender, fake, readTimestamp).Wait(context.Background(), protocol.OpBatteryRecords, expected)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeTrue())
		Expect(sender.calls).To(Equal(1))
	})

	It("returns stale data once the ceiling is exceeded", func() {
		sender := &stubSender{bodies: []string{stamped(expected.Add(-time.Hour))}}
		gate := NewFreshnessGate(sender, fake, readTimestamp)
		gate.Interval = 10 * time.Second
		gate.Ceiling = 30 * time.Second

		rsp, fresh, err := gate.Wait(context.Background(), protocol.OpBatteryRecords, expected)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeFalse())
		Expect(rsp).NotTo(BeNil())
		Expect(sender.calls).To(Equal(4))
		Expect(clock.Since(fake, expected)).To(Equal(30 * time.Second))
	})

	It("keeps polling when the timestamp cannot be read", func() {
		sender := &stubSender{bodies: []string{`{}`, stamped(expected)}}
		_, fresh, err := NewFreshnessGate(sender, fake, readTimestamp).Wait(context.Background(), protocol.OpBatteryRecords, expected)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh).To(BeTrue())
		Expect(sender.calls).To(Equal(2))
	})

	It("propagates request errors", func() {
		failure := errors.New("boom")
		sender := &stubSender{err: failure}
		_, fresh, err := NewFreshnessGate(sender, fake, readTimestamp).Wait(context.Background(), protocol.OpBatteryRecords, expected)
		Expect(err).To(MatchError(failure))
		Expect(fresh).To(BeFalse())
	})
})

var _ = Describe("RetryBudget", func() {
	It("allows exactly one retry until reset", func() {
		var b RetryBudget
		Expect(b.Available()).To(BeTrue())
		Expect(b.Take()).To(BeTrue())
		Expect(b.Available()).To(BeFalse())
		Expect(b.Take()).To(BeFalse())
		b.Reset()
		Expect(b.Take()).To(BeTrue())
	})
})
