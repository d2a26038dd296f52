package authz

import (
	"context"
	"testing"
	"time"

	"github.com/helium/wallet-app-sub004/service/simulator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func preparedFor(id string, method Method, appURL string, summary *simulator.Summary) *Prepared {
	p := &Prepared{Request: Request{ID: id, Method: method}, AppURL: appURL}
	if summary != nil {
		p.Simulation = &simulator.Report{Summary: *summary}
	}
	return p
}

func TestPolicyApprover(t *testing.T) {
	clean := &simulator.Summary{}
	warned := &simulator.Summary{WarningCount: 1}

	var delegated int
	next := ApproverFunc(func(ctx context.Context, p *Prepared) (Decision, error) {
		delegated++
		return Decision{Approved: false}, nil
	})
	policy := NewPolicyApprover([]string{"https://trusted.example", "not a url"}, next, testLogger())

	tests := []struct {
		name      string
		prepared  *Prepared
		approved  bool
		delegated bool
	}{
		{"trusted clean transaction", preparedFor("1", MethodSignTransaction, "https://trusted.example/app", clean), true, false},
		{"trusted with warnings", preparedFor("2", MethodSignTransaction, "https://trusted.example", warned), false, true},
		{"untrusted origin", preparedFor("3", MethodSignAllTransactions, "https://other.example", clean), false, true},
		{"message signing", preparedFor("4", MethodSignMessage, "https://trusted.example", nil), false, true},
		{"connect", preparedFor("5", MethodConnect, "https://trusted.example", nil), false, true},
		{"scheme must match", preparedFor("6", MethodSignTransaction, "http://trusted.example", clean), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := delegated
			d, err := policy.Decide(context.Background(), tt.prepared)
			require.NoError(t, err)
			assert.Equal(t, tt.approved, d.Approved)
			assert.Equal(t, tt.delegated, delegated > before)
		})
	}
}

func TestRegistry_ResolveDeliversDecision(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	p := preparedFor("req-1", MethodSignMessage, "https://app.example", nil)

	done := make(chan Decision, 1)
	go func() {
		d, err := r.Decide(context.Background(), p)
		assert.NoError(t, err)
		done <- d
	}()

	require.Eventually(t, func() bool { return len(r.List()) == 1 }, time.Second, 5*time.Millisecond)
	pending, err := r.Get("req-1")
	require.NoError(t, err)
	assert.Equal(t, p, pending.Prepared)

	require.NoError(t, r.Resolve("req-1", Decision{Approved: true}))
	assert.ErrorIs(t, r.Resolve("req-1", Decision{Approved: false}), ErrAlreadyDecided)

	select {
	case d := <-done:
		assert.True(t, d.Approved)
	case <-time.After(time.Second):
		t.Fatal("decision was not delivered")
	}

	assert.Empty(t, r.List())
	assert.ErrorIs(t, r.Resolve("req-1", Decision{}), ErrApprovalNotFound)
}

func TestRegistry_ContextCancel(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Decide(ctx, preparedFor("req-2", MethodConnect, "https://app.example", nil))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = r.Get("req-2")
	assert.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestRegistry_ListOrdersOldestFirst(t *testing.T) {
	r := NewRegistry(nil, testLogger())
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	r.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, id := range []string{"a", "b", "c"} {
		go r.Decide(ctx, preparedFor(id, MethodSignMessage, "", nil))
		require.Eventually(t, func() bool { _, err := r.Get(id); return err == nil }, time.Second, 5*time.Millisecond)
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "a", list[0].Prepared.Request.ID)
	assert.Equal(t, "c", list[2].Prepared.Request.ID)
}
