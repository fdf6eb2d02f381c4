package credentials

import (
	"context"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/scalaric/decryptor/api/v1alpha1"
)

func newFakeResolver(objs ...runtime.Object) *Resolver {
	s := scheme.Scheme
	builder := fake.NewClientBuilder().WithScheme(s)
	for _, o := range objs {
		builder = builder.WithRuntimeObjects(o)
	}
	return NewResolver(builder.Build())
}

func TestResolveLiteral(t *testing.T) {
	r := newFakeResolver()
	got, err := r.Resolve(context.Background(), "default", v1alpha1.SecretRef{Literal: "hunter2"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "hunter2" {
		t.Errorf("Resolve() = %q, want %q", got, "hunter2")
	}
}

func TestResolveSecret(t *testing.T) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "creds", Namespace: "default"},
		Data:       map[string][]byte{"token": []byte("s3cr3t")},
	}
	r := newFakeResolver(secret)

	got, err := r.Resolve(context.Background(), "default", v1alpha1.SecretRef{SecretName: "creds", Key: "token"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got != "s3cr3t" {
		t.Errorf("Resolve() = %q, want %q", got, "s3cr3t")
	}
}

func TestResolveMissingSecret(t *testing.T) {
	r := newFakeResolver()
	_, err := r.Resolve(context.Background(), "default", v1alpha1.SecretRef{SecretName: "missing", Key: "token"})
	if err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestResolveMissingKey(t *testing.T) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "creds", Namespace: "default"},
		Data:       map[string][]byte{"other": []byte("x")},
	}
	r := newFakeResolver(secret)

	_, err := r.Resolve(context.Background(), "default", v1alpha1.SecretRef{SecretName: "creds", Key: "token"})
	if err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestResolveInvalidUTF8(t *testing.T) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "creds", Namespace: "default"},
		Data:       map[string][]byte{"token": {0xff, 0xfe, 0xfd}},
	}
	r := newFakeResolver(secret)

	_, err := r.Resolve(context.Background(), "default", v1alpha1.SecretRef{SecretName: "creds", Key: "token"})
	if err == nil {
		t.Fatal("expected error for invalid UTF-8 payload")
	}
}

func TestResolveAmbiguousRef(t *testing.T) {
	r := newFakeResolver()
	_, err := r.Resolve(context.Background(), "default", v1alpha1.SecretRef{})
	if err == nil {
		t.Fatal("expected error for empty SecretRef")
	}
}

func TestResolveProviderGcp(t *testing.T) {
	r := newFakeResolver()
	spec := v1alpha1.ProviderSpec{Gcp: &v1alpha1.GcpProvider{ServiceAccount: v1alpha1.SecretRef{Literal: "{}"}}}

	b, err := r.ResolveProvider(context.Background(), "default", spec)
	if err != nil {
		t.Fatalf("ResolveProvider() error = %v", err)
	}
	if b.Variant != VariantGcp || b.GcpServiceAccountJSON != "{}" {
		t.Errorf("unexpected bundle: %+v", b)
	}
}

func TestResolveProviderNone(t *testing.T) {
	r := newFakeResolver()
	b, err := r.ResolveProvider(context.Background(), "default", v1alpha1.ProviderSpec{})
	if err != nil {
		t.Fatalf("ResolveProvider() error = %v", err)
	}
	if b.Variant != VariantNone {
		t.Errorf("Variant = %v, want %v", b.Variant, VariantNone)
	}
}

func TestResolveGitToken(t *testing.T) {
	r := newFakeResolver()
	user := v1alpha1.SecretRef{Literal: "u"}
	token := v1alpha1.SecretRef{Literal: "t"}
	creds := &v1alpha1.GitCredentials{Username: &user, Token: &token}

	auth, err := r.ResolveGit(context.Background(), "default", creds)
	if err != nil {
		t.Fatalf("ResolveGit() error = %v", err)
	}
	if auth.Variant != VariantToken || auth.Username != "u" || auth.Token != "t" {
		t.Errorf("unexpected auth: %+v", auth)
	}
}

func TestResolveGitEmpty(t *testing.T) {
	r := newFakeResolver()
	auth, err := r.ResolveGit(context.Background(), "default", nil)
	if err != nil {
		t.Fatalf("ResolveGit() error = %v", err)
	}
	if auth.Variant != VariantNone {
		t.Errorf("Variant = %v, want %v", auth.Variant, VariantNone)
	}
}
