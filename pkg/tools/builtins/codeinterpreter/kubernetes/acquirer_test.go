package kubernetes

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"
)

func newFakeClient(t *testing.T) client.Client {
	t.Helper()
	scheme, err := NewScheme()
	if err != nil {
		t.Fatalf("NewScheme: %v", err)
	}
	return fake.NewClientBuilder().
		WithScheme(scheme).
		WithStatusSubresource(&sandboxv1alpha1.Sandbox{}).
		Build()
}

func newTestAcquirer(c client.Client, timeout time.Duration, names ...string) *ClaimAcquirer {
	a := NewClaimAcquirer(c, Config{
		Template:     "python-runtime",
		Namespace:    "agents",
		ReadyTimeout: timeout,
		PollInterval: 20 * time.Millisecond,
	})
	var mu sync.Mutex
	next := 0
	a.nameFn = func() string {
		mu.Lock()
		defer mu.Unlock()
		name := names[next%len(names)]
		next++
		return name
	}
	return a
}

// markReady plays the controller: it creates the Sandbox bound to a claim
// and reports it Ready.
func markReady(t *testing.T, c client.Client, name, fqdn string) {
	t.Helper()
	sb := &sandboxv1alpha1.Sandbox{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "agents"},
	}
	if err := c.Create(context.Background(), sb); err != nil {
		t.Errorf("create sandbox %s: %v", name, err)
		return
	}
	sb.Status.ServiceFQDN = fqdn
	sb.Status.Conditions = []metav1.Condition{{
		Type:               string(sandboxv1alpha1.SandboxConditionReady),
		Status:             metav1.ConditionTrue,
		LastTransitionTime: metav1.Now(),
		Reason:             "Ready",
	}}
	if err := c.Status().Update(context.Background(), sb); err != nil {
		t.Errorf("update sandbox status %s: %v", name, err)
	}
}

func claimExists(t *testing.T, c client.Client, name string) bool {
	t.Helper()
	claim := &extensionsv1alpha1.SandboxClaim{}
	return c.Get(context.Background(), client.ObjectKey{Name: name, Namespace: "agents"}, claim) == nil
}

func TestClaimAcquirer_AcquireAndRelease(t *testing.T) {
	c := newFakeClient(t)
	a := newTestAcquirer(c, 5*time.Second, "claim-a")

	go func() {
		time.Sleep(100 * time.Millisecond)
		markReady(t, c, "claim-a", "claim-a.agents.svc.cluster.local")
	}()

	url, release, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if url != "http://claim-a.agents.svc.cluster.local:8080" {
		t.Errorf("url = %q", url)
	}

	claim := &extensionsv1alpha1.SandboxClaim{}
	if err := c.Get(context.Background(), client.ObjectKey{Name: "claim-a", Namespace: "agents"}, claim); err != nil {
		t.Fatalf("claim not found: %v", err)
	}
	if claim.Spec.TemplateRef.Name != "python-runtime" {
		t.Errorf("templateRef = %q", claim.Spec.TemplateRef.Name)
	}
	if claim.Labels[managedByKey] != "pysandbox" {
		t.Errorf("labels = %v", claim.Labels)
	}

	if err := release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if claimExists(t, c, "claim-a") {
		t.Error("claim still exists after release")
	}
	if err := release(context.Background()); err != nil {
		t.Errorf("second release should tolerate a missing claim: %v", err)
	}
}

func TestClaimAcquirer_ReadyWithoutFQDN(t *testing.T) {
	c := newFakeClient(t)
	a := newTestAcquirer(c, 300*time.Millisecond, "claim-nofqdn")

	go func() {
		time.Sleep(50 * time.Millisecond)
		markReady(t, c, "claim-nofqdn", "")
	}()

	if _, _, err := a.Acquire(context.Background()); err == nil {
		t.Fatal("expected error while the FQDN is missing")
	}
}

func TestClaimAcquirer_CleansUpOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		timeout time.Duration
		cancel  time.Duration
	}{
		{name: "timeout", timeout: 200 * time.Millisecond},
		{name: "context cancelled", timeout: 30 * time.Second, cancel: 100 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newFakeClient(t)
			claimName := "claim-" + strings.ReplaceAll(tt.name, " ", "-")
			a := newTestAcquirer(c, tt.timeout, claimName)

			ctx := context.Background()
			if tt.cancel > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.cancel)
				defer cancel()
			}

			if _, _, err := a.Acquire(ctx); err == nil {
				t.Fatal("expected error, got nil")
			}
			if claimExists(t, c, claimName) {
				t.Error("claim was not deleted after failure")
			}
		})
	}
}

func TestClaimAcquirer_Concurrent(t *testing.T) {
	const n = 3
	names := make([]string, n)
	for i := range n {
		names[i] = fmt.Sprintf("claim-%d", i)
	}

	c := newFakeClient(t)
	a := newTestAcquirer(c, 5*time.Second, names...)

	go func() {
		time.Sleep(100 * time.Millisecond)
		for _, name := range names {
			markReady(t, c, name, name+".agents.svc.cluster.local")
		}
	}()

	var wg sync.WaitGroup
	urls := make([]string, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var release func(context.Context) error
			urls[i], release, errs[i] = a.Acquire(context.Background())
			if release != nil {
				release(context.Background())
			}
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for i := range n {
		if errs[i] != nil {
			t.Errorf("acquire %d: %v", i, errs[i])
			continue
		}
		if seen[urls[i]] {
			t.Errorf("url %q handed out twice", urls[i])
		}
		seen[urls[i]] = true
	}
}

func TestDefaultClaimName(t *testing.T) {
	a := NewClaimAcquirer(newFakeClient(t), Config{Namespace: "agents"})
	first, second := a.nameFn(), a.nameFn()
	if !strings.HasPrefix(first, claimPrefix) {
		t.Errorf("name %q lacks prefix %q", first, claimPrefix)
	}
	if first == second {
		t.Error("claim names should be unique")
	}
	if a.cfg.ReadyTimeout != 2*time.Minute || a.cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("defaults not applied: %+v", a.cfg)
	}
}

func TestIsReady(t *testing.T) {
	ready := string(sandboxv1alpha1.SandboxConditionReady)
	tests := []struct {
		name       string
		conditions []metav1.Condition
		want       bool
	}{
		{name: "no conditions", want: false},
		{name: "ready true", conditions: []metav1.Condition{{Type: ready, Status: metav1.ConditionTrue}}, want: true},
		{name: "ready false", conditions: []metav1.Condition{{Type: ready, Status: metav1.ConditionFalse}}, want: false},
		{name: "other condition", conditions: []metav1.Condition{{Type: "Available", Status: metav1.ConditionTrue}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sb := &sandboxv1alpha1.Sandbox{Status: sandboxv1alpha1.SandboxStatus{Conditions: tt.conditions}}
			if got := isReady(sb); got != tt.want {
				t.Errorf("isReady() = %v, want %v", got, tt.want)
			}
		})
	}
}
