// Package kubernetes acquires sandboxes for the sandbox HTTP backend by
// creating agent-sandbox SandboxClaim resources.
package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	sandboxv1alpha1 "sigs.k8s.io/agent-sandbox/api/v1alpha1"
	extensionsv1alpha1 "sigs.k8s.io/agent-sandbox/extensions/api/v1alpha1"

	"github.com/rhuss/pysandbox/pkg/tools/builtins/codeinterpreter/sandboxhttp"
)

const (
	claimPrefix  = "pysandbox-ci-"
	sandboxPort  = 8080
	managedByKey = "app.kubernetes.io/managed-by"
)

var _ sandboxhttp.Acquirer = (*ClaimAcquirer)(nil)

// Config configures a ClaimAcquirer.
type Config struct {
	// Template is the SandboxTemplate referenced by every claim.
	Template string

	// Namespace the claims are created in.
	Namespace string

	// ReadyTimeout bounds the wait for a claimed sandbox. Zero means two
	// minutes.
	ReadyTimeout time.Duration

	// PollInterval defaults to 500ms.
	PollInterval time.Duration
}

// ClaimAcquirer creates one SandboxClaim per session and hands out the URL
// of the Sandbox the controller binds to it.
type ClaimAcquirer struct {
	client client.Client
	cfg    Config
	nameFn func() string
}

// NewClaimAcquirer creates a ClaimAcquirer.
func NewClaimAcquirer(c client.Client, cfg Config) *ClaimAcquirer {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	return &ClaimAcquirer{
		client: c,
		cfg:    cfg,
		nameFn: func() string { return claimPrefix + uuid.NewString()[:8] },
	}
}

// NewScheme returns a runtime.Scheme with the agent-sandbox types registered.
func NewScheme() (*runtime.Scheme, error) {
	scheme := runtime.NewScheme()
	if err := sandboxv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register sandbox types: %w", err)
	}
	if err := extensionsv1alpha1.AddToScheme(scheme); err != nil {
		return nil, fmt.Errorf("register extensions types: %w", err)
	}
	return scheme, nil
}

// Acquire claims a sandbox and waits until it is ready. The claim is
// deleted again if waiting fails.
func (a *ClaimAcquirer) Acquire(ctx context.Context) (string, sandboxhttp.ReleaseFunc, error) {
	name := a.nameFn()

	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: a.cfg.Namespace,
			Labels:    map[string]string{managedByKey: "pysandbox"},
		},
		Spec: extensionsv1alpha1.SandboxClaimSpec{
			TemplateRef: extensionsv1alpha1.SandboxTemplateRef{Name: a.cfg.Template},
		},
	}
	if err := a.client.Create(ctx, claim); err != nil {
		return "", nil, fmt.Errorf("create SandboxClaim %q: %w", name, err)
	}
	slog.Debug("created SandboxClaim", "name", name, "namespace", a.cfg.Namespace, "template", a.cfg.Template)

	fqdn, err := a.waitForSandbox(ctx, name)
	if err != nil {
		if delErr := a.release(context.Background(), name); delErr != nil {
			slog.Warn("failed to delete SandboxClaim", "name", name, "error", delErr.Error())
		}
		return "", nil, err
	}

	url := fmt.Sprintf("http://%s:%d", fqdn, sandboxPort)
	slog.Info("sandbox claimed", "name", name, "url", url)

	return url, func(ctx context.Context) error { return a.release(ctx, name) }, nil
}

// waitForSandbox polls the Sandbox named after the claim until it reports
// Ready and has a service FQDN.
func (a *ClaimAcquirer) waitForSandbox(ctx context.Context, name string) (string, error) {
	var fqdn string
	key := types.NamespacedName{Name: name, Namespace: a.cfg.Namespace}

	err := wait.PollUntilContextTimeout(ctx, a.cfg.PollInterval, a.cfg.ReadyTimeout, false, func(ctx context.Context) (bool, error) {
		sb := &sandboxv1alpha1.Sandbox{}
		if err := a.client.Get(ctx, key, sb); err != nil {
			// The controller may not have created the Sandbox yet.
			slog.Debug("waiting for Sandbox", "name", name, "error", err.Error())
			return false, nil
		}
		if !isReady(sb) || sb.Status.ServiceFQDN == "" {
			return false, nil
		}
		fqdn = sb.Status.ServiceFQDN
		return true, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("waiting for Sandbox %q: %w", name, ctx.Err())
		}
		return "", fmt.Errorf("sandbox %q not ready after %s: %w", name, a.cfg.ReadyTimeout, err)
	}
	return fqdn, nil
}

func isReady(sb *sandboxv1alpha1.Sandbox) bool {
	return meta.IsStatusConditionTrue(sb.Status.Conditions, string(sandboxv1alpha1.SandboxConditionReady))
}

// release deletes the claim. A claim that is already gone counts as
// released.
func (a *ClaimAcquirer) release(ctx context.Context, name string) error {
	claim := &extensionsv1alpha1.SandboxClaim{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: a.cfg.Namespace},
	}
	err := a.client.Delete(ctx, claim)
	if apierrors.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete SandboxClaim %q: %w", name, err)
	}
	slog.Debug("deleted SandboxClaim", "name", name, "namespace", a.cfg.Namespace)
	return nil
}
