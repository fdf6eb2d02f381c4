/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	"encoding/json"
	"errors"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
)

// ErrSecretRefAmbiguous is returned when a SecretRef carries both a literal
// value and a Secret pointer, or neither.
var ErrSecretRefAmbiguous = errors.New("secretRef: exactly one of literal or secretName+key must be set")

// SecretRef is an exclusive variant: either a literal inline string, or a
// pointer to a cluster Secret entry. Never both.
type SecretRef struct {
	// literal is an inline cleartext value.
	// +optional
	Literal string `json:"literal,omitempty"`

	// secretName is the name of the Secret to read from.
	// +optional
	SecretName string `json:"secretName,omitempty"`

	// key is the data key within secretName to read.
	// +optional
	Key string `json:"key,omitempty"`
}

// IsLiteral reports whether this ref carries an inline literal.
func (s SecretRef) IsLiteral() bool {
	return s.Literal != ""
}

// IsSecret reports whether this ref points at a cluster Secret.
func (s SecretRef) IsSecret() bool {
	return s.SecretName != "" && s.Key != ""
}

// Validate enforces the exclusive-variant invariant.
func (s SecretRef) Validate() error {
	if s.IsLiteral() == s.IsSecret() {
		return ErrSecretRefAmbiguous
	}
	return nil
}

// UnmarshalJSON decodes a SecretRef and rejects a payload that populates
// both variants at once.
func (s *SecretRef) UnmarshalJSON(data []byte) error {
	type shadow SecretRef
	var v shadow
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	ref := SecretRef(v)
	if ref.Literal != "" && (ref.SecretName != "" || ref.Key != "") {
		return ErrSecretRefAmbiguous
	}
	*s = ref
	return nil
}

// GcpProvider carries the GCP service-account credential reference.
type GcpProvider struct {
	// serviceAccount is the GCP service-account JSON payload.
	ServiceAccount SecretRef `json:"serviceAccount"`
}

// AwsProvider carries AWS static-credential references.
type AwsProvider struct {
	KeyID     SecretRef `json:"keyId"`
	AccessKey SecretRef `json:"accessKey"`
	// region is a plain string, not a SecretRef: it is not sensitive.
	Region string `json:"region"`
}

// PgpProvider carries an armored PGP private key reference.
type PgpProvider struct {
	PrivateKey SecretRef `json:"privateKey"`
}

// VaultProvider carries a Vault token reference.
type VaultProvider struct {
	Token SecretRef `json:"token"`
}

// ProviderSpec is an exclusive variant across the supported decryption
// providers. At most one field may be set; none set means "no provider".
type ProviderSpec struct {
	// +optional
	Gcp *GcpProvider `json:"gcp,omitempty"`
	// +optional
	Aws *AwsProvider `json:"aws,omitempty"`
	// +optional
	Pgp *PgpProvider `json:"pgp,omitempty"`
	// +optional
	Vault *VaultProvider `json:"vault,omitempty"`
}

// variantCount returns how many of the exclusive variants are populated.
func (p ProviderSpec) variantCount() int {
	n := 0
	if p.Gcp != nil {
		n++
	}
	if p.Aws != nil {
		n++
	}
	if p.Pgp != nil {
		n++
	}
	if p.Vault != nil {
		n++
	}
	return n
}

// IsNone reports whether no provider variant is set.
func (p ProviderSpec) IsNone() bool {
	return p.variantCount() == 0
}

// Validate rejects a spec that sets more than one provider variant.
func (p ProviderSpec) Validate() error {
	if p.variantCount() > 1 {
		return errors.New("provider: exactly one variant (or none) may be set")
	}
	return nil
}

// GitCredentials is an exclusive variant across the supported Git auth
// methods. None set means anonymous/public clone.
type GitCredentials struct {
	// +optional
	Username *SecretRef `json:"username,omitempty"`
	// +optional
	Token *SecretRef `json:"token,omitempty"`
	// +optional
	SSHKey *SecretRef `json:"sshKey,omitempty"`
}

// IsToken reports whether username+token auth is configured.
func (c *GitCredentials) IsToken() bool {
	return c != nil && c.Username != nil && c.Token != nil
}

// IsSSH reports whether SSH-key auth is configured.
func (c *GitCredentials) IsSSH() bool {
	return c != nil && c.SSHKey != nil
}

// RepositorySource describes the Git repository a Decryptor decrypts from.
type RepositorySource struct {
	// url is the Git remote URL.
	URL string `json:"url"`

	// credentials authenticates the clone/pull. Omit for anonymous access.
	// +optional
	Credentials *GitCredentials `json:"credentials,omitempty"`
}

// DecryptorSource is the source subtree of a DecryptorSpec.
type DecryptorSource struct {
	Repository RepositorySource `json:"repository"`

	// fileToDecrypt is the repository-relative path to the encrypted manifest.
	FileToDecrypt string `json:"fileToDecrypt"`

	// sopsPath is the repository-relative path to the SOPS configuration file.
	SopsPath string `json:"sopsPath"`
}

// DecryptorSpec defines the desired state of a Decryptor.
type DecryptorSpec struct {
	// provider selects the decryption credential variant.
	// +optional
	Provider ProviderSpec `json:"provider,omitempty"`

	// source is the Git repository and file to decrypt.
	Source DecryptorSource `json:"source"`
}

// SyncStatus classifies the outcome of the most recent reconciliation.
type SyncStatus string

const (
	// SyncStatusSync means decryption and apply both succeeded.
	SyncStatusSync SyncStatus = "Sync"
	// SyncStatusNotSync means decryption succeeded but apply failed.
	SyncStatusNotSync SyncStatus = "NotSync"
	// SyncStatusError means reconciliation failed before apply was attempted.
	SyncStatusError SyncStatus = "Error"
)

// MaxHistoryLength bounds the number of archived status entries (spec
// invariant (b)).
const MaxHistoryLength = 10

// StatusEntry is a single reconciliation outcome.
type StatusEntry struct {
	// id is strictly monotonically increasing per Decryptor.
	ID int64 `json:"id"`

	// deployedAt is when this entry was written.
	DeployedAt metav1.Time `json:"deployedAt"`

	// revision is the Git commit hash this entry was rendered from.
	// +optional
	Revision string `json:"revision,omitempty"`

	// fileToDecrypt mirrors spec.source.fileToDecrypt at write time.
	FileToDecrypt string `json:"fileToDecrypt"`

	Status SyncStatus `json:"status"`

	// +optional
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// DecryptorStatus defines the observed state of a Decryptor.
type DecryptorStatus struct {
	// current is the most recent reconciliation outcome.
	// +optional
	Current *StatusEntry `json:"current,omitempty"`

	// history holds up to MaxHistoryLength past values of current, oldest first.
	// +optional
	History []StatusEntry `json:"history,omitempty"`
}

// PushCurrent archives the existing current entry (if any) into history,
// enforcing the bounded-history invariant by popping the oldest entry
// before appending when history is already full, and installs next as the
// new current with a strictly incremented id.
func (s *DecryptorStatus) PushCurrent(next StatusEntry) {
	if s.Current != nil {
		if len(s.History) == MaxHistoryLength {
			s.History = s.History[1:]
		}
		s.History = append(s.History, *s.Current)
		next.ID = s.Current.ID + 1
	} else {
		next.ID = 1
	}
	s.Current = &next
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Status",type="string",JSONPath=".status.current.status"
// +kubebuilder:printcolumn:name="Revision",type="string",JSONPath=".status.current.revision"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// Decryptor is the Schema for the decryptors API. It declaratively decrypts
// a SOPS-encrypted manifest from a Git repository and projects the result
// into the cluster.
type Decryptor struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   DecryptorSpec   `json:"spec"`
	Status DecryptorStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// DecryptorList contains a list of Decryptor.
type DecryptorList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Decryptor `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Decryptor{}, &DecryptorList{})
}

// DeepCopyInto copies the receiver into out.
func (s *SecretRef) DeepCopyInto(out *SecretRef) {
	*out = *s
}

// DeepCopy returns a deep copy of the receiver.
func (s *SecretRef) DeepCopy() *SecretRef {
	if s == nil {
		return nil
	}
	out := new(SecretRef)
	s.DeepCopyInto(out)
	return out
}

func (p *ProviderSpec) DeepCopyInto(out *ProviderSpec) {
	*out = *p
	if p.Gcp != nil {
		out.Gcp = new(GcpProvider)
		*out.Gcp = *p.Gcp
	}
	if p.Aws != nil {
		out.Aws = new(AwsProvider)
		*out.Aws = *p.Aws
	}
	if p.Pgp != nil {
		out.Pgp = new(PgpProvider)
		*out.Pgp = *p.Pgp
	}
	if p.Vault != nil {
		out.Vault = new(VaultProvider)
		*out.Vault = *p.Vault
	}
}

func (c *GitCredentials) DeepCopyInto(out *GitCredentials) {
	*out = *c
	if c.Username != nil {
		out.Username = c.Username.DeepCopy()
	}
	if c.Token != nil {
		out.Token = c.Token.DeepCopy()
	}
	if c.SSHKey != nil {
		out.SSHKey = c.SSHKey.DeepCopy()
	}
}

func (r *RepositorySource) DeepCopyInto(out *RepositorySource) {
	*out = *r
	if r.Credentials != nil {
		out.Credentials = new(GitCredentials)
		r.Credentials.DeepCopyInto(out.Credentials)
	}
}

func (s *DecryptorSource) DeepCopyInto(out *DecryptorSource) {
	*out = *s
	s.Repository.DeepCopyInto(&out.Repository)
}

func (s *DecryptorSpec) DeepCopyInto(out *DecryptorSpec) {
	*out = *s
	s.Provider.DeepCopyInto(&out.Provider)
	s.Source.DeepCopyInto(&out.Source)
}

func (e *StatusEntry) DeepCopyInto(out *StatusEntry) {
	*out = *e
	e.DeployedAt.DeepCopyInto(&out.DeployedAt)
}

func (s *DecryptorStatus) DeepCopyInto(out *DecryptorStatus) {
	*out = *s
	if s.Current != nil {
		out.Current = new(StatusEntry)
		s.Current.DeepCopyInto(out.Current)
	}
	if s.History != nil {
		out.History = make([]StatusEntry, len(s.History))
		for i := range s.History {
			s.History[i].DeepCopyInto(&out.History[i])
		}
	}
}

// DeepCopyInto copies the receiver into out.
func (d *Decryptor) DeepCopyInto(out *Decryptor) {
	*out = *d
	out.TypeMeta = d.TypeMeta
	d.ObjectMeta.DeepCopyInto(&out.ObjectMeta)
	d.Spec.DeepCopyInto(&out.Spec)
	d.Status.DeepCopyInto(&out.Status)
}

// DeepCopy returns a deep copy of the receiver.
func (d *Decryptor) DeepCopy() *Decryptor {
	if d == nil {
		return nil
	}
	out := new(Decryptor)
	d.DeepCopyInto(out)
	return out
}

// DeepCopyObject implements runtime.Object.
func (d *Decryptor) DeepCopyObject() runtime.Object {
	return d.DeepCopy()
}

// DeepCopyInto copies the receiver into out.
func (l *DecryptorList) DeepCopyInto(out *DecryptorList) {
	*out = *l
	out.TypeMeta = l.TypeMeta
	l.ListMeta.DeepCopyInto(&out.ListMeta)
	if l.Items != nil {
		out.Items = make([]Decryptor, len(l.Items))
		for i := range l.Items {
			l.Items[i].DeepCopyInto(&out.Items[i])
		}
	}
}

// DeepCopy returns a deep copy of the receiver.
func (l *DecryptorList) DeepCopy() *DecryptorList {
	if l == nil {
		return nil
	}
	out := new(DecryptorList)
	l.DeepCopyInto(out)
	return out
}

// DeepCopyObject implements runtime.Object.
func (l *DecryptorList) DeepCopyObject() runtime.Object {
	return l.DeepCopy()
}
