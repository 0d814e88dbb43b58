package attendance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkin/internal/apperr"
	"checkin/internal/client"
	"checkin/internal/metrics"
)

type fakeGateway struct {
	check    client.CheckResponse
	checkErr error
	mark     client.MarkResponse
	markErr  error

	checkCalls []string
	markCalls  []string
}

func (f *fakeGateway) CheckAttendance(_ context.Context, regNo string) (client.CheckResponse, error) {
	f.checkCalls = append(f.checkCalls, regNo)
	return f.check, f.checkErr
}

func (f *fakeGateway) MarkAttendance(_ context.Context, regNo string) (client.MarkResponse, error) {
	f.markCalls = append(f.markCalls, regNo)
	return f.mark, f.markErr
}

type countingRefresher struct{ n atomic.Int32 }

func (r *countingRefresher) RequestRefresh() { r.n.Add(1) }

func notAttended() client.CheckResponse {
	return client.CheckResponse{Status: "not attended", Name: "Kevin Denzil", Year: "3", Department: "CSE"}
}

func TestCheckInMarksNewRegistrant(t *testing.T) {
	gw := &fakeGateway{
		check: notAttended(),
		mark:  client.MarkResponse{Status: "success", AttendedAt: "2025-10-24 14:32:00"},
	}
	ref := &countingRefresher{}
	var states []State
	svc := NewService(gw, WithRefresher(ref), WithObserver(func(s State) { states = append(states, s) }))

	out := svc.CheckIn(context.Background(), "  23ecs015 ", MethodManual)

	require.Equal(t, StateMarked, out.State)
	assert.True(t, out.OK())
	assert.NoError(t, out.Err)
	assert.Equal(t, []string{"23ECS015"}, gw.checkCalls)
	assert.Equal(t, []string{"23ECS015"}, gw.markCalls)
	assert.Equal(t, Registrant{RegNo: "23ECS015", Name: "Kevin Denzil", Year: "3", Department: "CSE"}, out.Registrant)
	assert.Equal(t, "2025-10-24 14:32:00", out.AttendedAt)
	assert.Equal(t, []State{StateChecking, StateMarking, StateMarked}, states)
	assert.Equal(t, int32(1), ref.n.Load())
	assert.Equal(t, "23ECS015", svc.LastAdded())
	assert.Equal(t, "Check-in Successful", out.Title())
	assert.Equal(t, "Name: Kevin Denzil\nReg No: 23ECS015\nYear: 3\nDepartment: CSE\nTime: 2025-10-24 14:32:00", out.Message())
}

func TestCheckInAlreadyAttendedNeverMarks(t *testing.T) {
	gw := &fakeGateway{check: client.CheckResponse{
		Status: "attended", Name: "Lisa Anderson", Year: "2", Department: "ECE", AttendedAt: "14:28",
	}}
	ref := &countingRefresher{}
	svc := NewService(gw, WithRefresher(ref))

	out := svc.CheckIn(context.Background(), "2024006", MethodScanned)

	assert.Equal(t, StateAlreadyAttended, out.State)
	assert.Empty(t, gw.markCalls)
	assert.Zero(t, ref.n.Load())
	assert.Equal(t, "14:28", out.AttendedAt)
	assert.Equal(t, "", svc.LastAdded())
	assert.Equal(t, "Already Checked In", out.Title())
	assert.Contains(t, out.Message(), "Already checked in at 14:28")
}

func TestCheckInMarkOmitsDetailsUsesCheckPhase(t *testing.T) {
	gw := &fakeGateway{
		check: notAttended(),
		mark:  client.MarkResponse{Status: "success"},
	}
	svc := NewService(gw)

	out := svc.CheckIn(context.Background(), "a1", MethodManual)

	require.Equal(t, StateMarked, out.State)
	assert.Equal(t, "Kevin Denzil", out.Registrant.Name)
	assert.Contains(t, out.Message(), "Time: Just now")
}

func TestCheckInMarkNonSuccessFails(t *testing.T) {
	tests := []struct {
		name   string
		mark   client.MarkResponse
		kind   apperr.Kind
		reason string
	}{
		{"with message", client.MarkResponse{Status: "error", Message: "Already marked"}, apperr.KindServer, "Already marked"},
		{"without message", client.MarkResponse{Status: "pending"}, apperr.KindProtocol, apperr.MsgProtocol},
		{"empty status", client.MarkResponse{}, apperr.KindProtocol, apperr.MsgProtocol},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := &fakeGateway{check: notAttended(), mark: tt.mark}
			ref := &countingRefresher{}
			svc := NewService(gw, WithRefresher(ref))

			out := svc.CheckIn(context.Background(), "A1", MethodManual)

			assert.Equal(t, StateFailed, out.State)
			assert.False(t, out.OK())
			assert.Len(t, gw.markCalls, 1)
			assert.True(t, apperr.Is(out.Err, tt.kind))
			assert.Equal(t, tt.reason, out.Reason)
			assert.Zero(t, ref.n.Load())
			assert.Equal(t, "Error", out.Title())
		})
	}
}

func TestCheckInUnexpectedCheckStatusFails(t *testing.T) {
	gw := &fakeGateway{check: client.CheckResponse{Status: "maybe"}}
	svc := NewService(gw)

	out := svc.CheckIn(context.Background(), "A1", MethodManual)

	assert.Equal(t, StateFailed, out.State)
	assert.True(t, apperr.Is(out.Err, apperr.KindProtocol))
	assert.Empty(t, gw.markCalls)
}

func TestCheckInPropagatesTransportErrors(t *testing.T) {
	unreachable := apperr.Wrap(errors.New("dial tcp: connection refused"), apperr.KindUnreachable, "POST /check_attendance")
	server := apperr.Server(500, "boom")

	t.Run("check fails", func(t *testing.T) {
		gw := &fakeGateway{checkErr: unreachable}
		out := NewService(gw).CheckIn(context.Background(), "A1", MethodManual)

		assert.Equal(t, StateFailed, out.State)
		assert.True(t, apperr.Is(out.Err, apperr.KindUnreachable))
		assert.Equal(t, apperr.MsgUnreachable, out.Reason)
		assert.Empty(t, gw.markCalls)
	})

	t.Run("mark fails", func(t *testing.T) {
		gw := &fakeGateway{check: notAttended(), markErr: server}
		out := NewService(gw).CheckIn(context.Background(), "A1", MethodManual)

		assert.Equal(t, StateFailed, out.State)
		assert.Equal(t, "boom", out.Reason)
		assert.Equal(t, "Kevin Denzil", out.Registrant.Name)
		assert.Len(t, gw.checkCalls, 1)
		assert.Len(t, gw.markCalls, 1)
	})
}

func TestCheckInValidationSkipsNetwork(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		gw := &fakeGateway{}
		var states []State
		svc := NewService(gw, WithObserver(func(s State) { states = append(states, s) }))

		out := svc.CheckIn(context.Background(), raw, MethodManual)

		assert.Equal(t, StateFailed, out.State)
		assert.True(t, apperr.Is(out.Err, apperr.KindValidation))
		assert.Equal(t, "Please enter a registration number", out.Message())
		assert.Empty(t, gw.checkCalls)
		assert.Empty(t, gw.markCalls)
		assert.Equal(t, []State{StateFailed}, states)
	}
}

func TestCheckInWithoutGatewayIsConfigurationError(t *testing.T) {
	svc := NewService(nil)

	out := svc.CheckIn(context.Background(), "A1", MethodManual)
	assert.Equal(t, StateFailed, out.State)
	assert.True(t, apperr.Is(out.Err, apperr.KindConfiguration))

	out = svc.CheckIn(context.Background(), "", MethodManual)
	assert.True(t, apperr.Is(out.Err, apperr.KindValidation), "input is validated before configuration")
}

func TestCheckInRecordsOutcomeMetric(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	gw := &fakeGateway{check: notAttended(), mark: client.MarkResponse{Status: "success"}}
	svc := NewService(gw, WithMetrics(m))

	svc.CheckIn(context.Background(), "A1", MethodScanned)
	svc.CheckIn(context.Background(), "", MethodManual)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckinOutcomes.WithLabelValues("marked", "Scanned")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CheckinOutcomes.WithLabelValues("failed", "Manual")))
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw    string
		method Method
		want   string
		ok     bool
	}{
		{" 23ecs015 ", MethodManual, "23ECS015", true},
		{"qr-abc-123\r\n", MethodScanned, "qr-abc-123", true},
		{"", MethodScanned, "", false},
		{"ab\x00cd", MethodManual, "", false},
		{string(make([]byte, 65)), MethodManual, "", false},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.raw, tt.method)
		if !tt.ok {
			assert.True(t, apperr.Is(err, apperr.KindValidation), "Normalize(%q)", tt.raw)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseMethod(t *testing.T) {
	assert.Equal(t, MethodScanned, ParseMethod("Scanned"))
	assert.Equal(t, MethodScanned, ParseMethod(" barcode "))
	assert.Equal(t, MethodManual, ParseMethod("manual"))
	assert.Equal(t, MethodManual, ParseMethod(""))
}

func TestStateTerminal(t *testing.T) {
	assert.False(t, StateIdle.Terminal())
	assert.False(t, StateChecking.Terminal())
	assert.False(t, StateMarking.Terminal())
	assert.True(t, StateAlreadyAttended.Terminal())
	assert.True(t, StateMarked.Terminal())
	assert.True(t, StateFailed.Terminal())
}
