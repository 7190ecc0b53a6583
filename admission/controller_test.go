package admission

import (
	"context"
	"testing"

	"parking-admission/queues"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	err  error
	sent []*queues.AdmissionResult
}

func (m *mockPublisher) PublishResult(ctx context.Context, res *queues.AdmissionResult) error {
	m.sent = append(m.sent, res)
	return m.err
}

type stubRunner struct {
	out  Outcome
	seen Detection
}

func (s *stubRunner) Run(ctx context.Context, d Detection) Outcome {
	s.seen = d
	return s.out
}

func TestController_Handle(t *testing.T) {
	slot, price := 3, 55.0
	tests := []struct {
		name    string
		out     Outcome
		pubErr  error
		wantErr bool
		wantMsg bool
	}{
		{name: "entered", out: Outcome{Status: StatusEntered, Plate: "ABC123", SlotID: &slot, Price: &price}},
		{name: "rejected carries message", out: Outcome{Status: StatusRejected, Plate: "XYZ999", Security: "blacklisted", Message: "vehicle denied: blacklisted"}, wantMsg: true},
		{name: "publish error", out: Outcome{Status: StatusNoSlot, Plate: "ABC123", Message: "no medium slot available"}, pubErr: context.Canceled, wantErr: true, wantMsg: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &mockPublisher{err: tt.pubErr}
			runner := &stubRunner{out: tt.out}
			ctrl := NewController(pub, runner)

			err := ctrl.Handle(context.Background(), &queues.DetectionEvent{EventID: "ev-1", Plate: tt.out.Plate, Size: "medium", Source: "gate_1"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("Handle() err=%#v wantErr=%#v", err, tt.wantErr)
			}
			require.Len(t, pub.sent, 1)
			res := pub.sent[0]
			assert.Equal(t, "admission-result", res.Type)
			assert.Equal(t, "ev-1", res.EventID)
			assert.Equal(t, string(tt.out.Status), res.Status)
			assert.Equal(t, tt.out.SlotID, res.SlotID)
			assert.Equal(t, tt.wantMsg, res.ErrorMessage != nil)
			assert.Equal(t, "gate_1", runner.seen.Source)
		})
	}
}
