package input

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/termctl/internal/errors"
)

// mockSender is a test implementation of Sender that records all calls.
type mockSender struct {
	mu      sync.Mutex
	calls   []sendCall
	failOn  string
	failErr error
}

type sendCall struct {
	op      string
	display string
	window  string
	arg     string
	at      time.Time
}

func (m *mockSender) record(op, display, window, arg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == op {
		return m.failErr
	}
	m.calls = append(m.calls, sendCall{op: op, display: display, window: window, arg: arg, at: time.Now()})
	return nil
}

func (m *mockSender) Focus(_ context.Context, display, window string) error {
	return m.record("focus", display, window, "")
}

func (m *mockSender) Key(_ context.Context, display, window, sym string) error {
	return m.record("key", display, window, sym)
}

func (m *mockSender) Type(_ context.Context, display, window, text string) error {
	return m.record("type", display, window, text)
}

func (m *mockSender) getCalls() []sendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]sendCall, len(m.calls))
	copy(result, m.calls)
	return result
}

func TestSendText_FocusesThenTypes(t *testing.T) {
	mock := &mockSender{}
	inj := NewInjector(mock, WithSettleDelay(20*time.Millisecond))

	if err := inj.SendText(context.Background(), ":101", "0x400001", "echo hello"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}

	calls := mock.getCalls()
	if len(calls) != 2 {
		t.Fatalf("got %d calls, want 2", len(calls))
	}
	if calls[0].op != "focus" || calls[1].op != "type" {
		t.Errorf("call order = %s, %s; want focus, type", calls[0].op, calls[1].op)
	}
	if calls[1].arg != "echo hello" || calls[1].display != ":101" || calls[1].window != "0x400001" {
		t.Errorf("type call = %+v", calls[1])
	}
	if gap := calls[1].at.Sub(calls[0].at); gap < 20*time.Millisecond {
		t.Errorf("settle delay not honored: %v", gap)
	}
}

func TestSendKey_ResolvesSymbol(t *testing.T) {
	mock := &mockSender{}
	inj := NewInjector(mock, WithSettleDelay(0))

	if err := inj.SendKey(context.Background(), ":101", "7", "C-c"); err != nil {
		t.Fatalf("SendKey() error = %v", err)
	}

	calls := mock.getCalls()
	if len(calls) != 2 || calls[1].op != "key" || calls[1].arg != "ctrl+c" {
		t.Errorf("calls = %+v, want focus then key ctrl+c", calls)
	}
}

func TestSendKey_UnknownSendsNothing(t *testing.T) {
	mock := &mockSender{}
	inj := NewInjector(mock, WithSettleDelay(0))

	err := inj.SendKey(context.Background(), ":101", "7", "hyper+banana")
	if !errors.Is(err, errors.ErrUnknownKeySymbol) {
		t.Fatalf("SendKey() error = %v, want UnknownKeySymbol", err)
	}
	if errors.IsRetryable(err) {
		t.Error("UnknownKeySymbol should not be retryable")
	}
	if calls := mock.getCalls(); len(calls) != 0 {
		t.Errorf("unknown key still produced calls: %+v", calls)
	}
}

func TestSend_FocusFailure(t *testing.T) {
	mock := &mockSender{failOn: "focus", failErr: fmt.Errorf("BadWindow")}
	inj := NewInjector(mock, WithSettleDelay(0))

	err := inj.SendText(context.Background(), ":101", "7", "x")
	if !errors.Is(err, errors.ErrInputFailed) {
		t.Fatalf("SendText() error = %v, want InputFailed", err)
	}
	if calls := mock.getCalls(); len(calls) != 0 {
		t.Errorf("text was sent after a failed focus: %+v", calls)
	}
}

func TestSend_ToolFailures(t *testing.T) {
	toolErr := fmt.Errorf("xdotool windowfocus: exit status 1")
	tests := []struct {
		name     string
		failOn   string
		send     func(*Injector) error
		wantStep string
	}{
		{
			name:     "focus before text",
			failOn:   "focus",
			send:     func(i *Injector) error { return i.SendText(context.Background(), ":101", "0x2f", "ls") },
			wantStep: "focus",
		},
		{
			name:     "type",
			failOn:   "type",
			send:     func(i *Injector) error { return i.SendText(context.Background(), ":101", "0x2f", "ls") },
			wantStep: "type",
		},
		{
			name:     "key",
			failOn:   "key",
			send:     func(i *Injector) error { return i.SendKey(context.Background(), ":101", "0x2f", "Enter") },
			wantStep: "key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inj := NewInjector(&mockSender{failOn: tt.failOn, failErr: toolErr}, WithSettleDelay(0))

			err := tt.send(inj)
			if errors.KindOf(err) != errors.KindInputFailed {
				t.Fatalf("error = %v, want InputFailed", err)
			}
			if !errors.Is(err, toolErr) {
				t.Error("tool error missing from the chain")
			}
			if !errors.IsRetryable(err) {
				t.Error("InputFailed should be retryable")
			}

			var engineErr *errors.EngineError
			if !errors.As(err, &engineErr) {
				t.Fatalf("error %v is not an EngineError", err)
			}
			for key, want := range map[string]string{"step": tt.wantStep, "display": ":101", "window": "0x2f"} {
				if v, _ := engineErr.ContextValue(key); v != want {
					t.Errorf("context %s = %v, want %q", key, v, want)
				}
			}
		})
	}
}

func TestSend_ContextCancelledDuringSettle(t *testing.T) {
	mock := &mockSender{}
	inj := NewInjector(mock, WithSettleDelay(time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := inj.SendText(ctx, ":101", "7", "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("SendText() error = %v, want deadline exceeded", err)
	}
	if errors.KindOf(err) != errors.KindInputFailed {
		t.Errorf("KindOf() = %v, want InputFailed", errors.KindOf(err))
	}
	for _, c := range mock.getCalls() {
		if c.op == "type" {
			t.Error("text was typed after the context expired")
		}
	}
}

func TestType_String(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeText, "text"},
		{TypeKey, "key"},
		{Type(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("Type(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}
