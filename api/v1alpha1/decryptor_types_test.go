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
	"testing"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestSchemeRegistration(t *testing.T) {
	scheme := runtime.NewScheme()

	if err := AddToScheme(scheme); err != nil {
		t.Errorf("AddToScheme() error = %v", err)
	}

	gvk := schema.GroupVersionKind{
		Group:   GroupVersion.Group,
		Version: GroupVersion.Version,
		Kind:    "Decryptor",
	}
	if !scheme.Recognizes(gvk) {
		t.Errorf("Scheme does not recognize Decryptor GVK: %v", gvk)
	}

	gvkList := schema.GroupVersionKind{
		Group:   GroupVersion.Group,
		Version: GroupVersion.Version,
		Kind:    "DecryptorList",
	}
	if !scheme.Recognizes(gvkList) {
		t.Errorf("Scheme does not recognize DecryptorList GVK: %v", gvkList)
	}
}

func TestGroupVersion(t *testing.T) {
	if GroupVersion.Group != "jiemi.cr" {
		t.Errorf("GroupVersion.Group = %q, want %q", GroupVersion.Group, "jiemi.cr")
	}
	if GroupVersion.Version != "v1alpha1" {
		t.Errorf("GroupVersion.Version = %q, want %q", GroupVersion.Version, "v1alpha1")
	}
}

func TestSecretRefVariants(t *testing.T) {
	lit := SecretRef{Literal: "hunter2"}
	if !lit.IsLiteral() || lit.IsSecret() {
		t.Errorf("literal ref misclassified: %+v", lit)
	}
	if err := lit.Validate(); err != nil {
		t.Errorf("literal ref should validate, got %v", err)
	}

	sec := SecretRef{SecretName: "creds", Key: "token"}
	if sec.IsLiteral() || !sec.IsSecret() {
		t.Errorf("secret ref misclassified: %+v", sec)
	}
	if err := sec.Validate(); err != nil {
		t.Errorf("secret ref should validate, got %v", err)
	}

	empty := SecretRef{}
	if err := empty.Validate(); err == nil {
		t.Error("empty SecretRef should fail validation")
	}
}

func TestSecretRefUnmarshalRejectsBothVariants(t *testing.T) {
	var ref SecretRef
	err := json.Unmarshal([]byte(`{"literal":"x","secretName":"y","key":"z"}`), &ref)
	if err == nil {
		t.Error("expected error unmarshaling SecretRef with both variants set")
	}
}

func TestProviderSpecExclusivity(t *testing.T) {
	p := ProviderSpec{
		Gcp: &GcpProvider{ServiceAccount: SecretRef{Literal: "{}"}},
		Aws: &AwsProvider{KeyID: SecretRef{Literal: "a"}, AccessKey: SecretRef{Literal: "b"}, Region: "us-east-1"},
	}
	if err := p.Validate(); err == nil {
		t.Error("expected error for two populated provider variants")
	}

	var none ProviderSpec
	if !none.IsNone() {
		t.Error("zero-value ProviderSpec should report IsNone")
	}
	if err := none.Validate(); err != nil {
		t.Errorf("zero-value ProviderSpec should validate, got %v", err)
	}
}

func TestDecryptorStatusPushCurrentIncrementsID(t *testing.T) {
	var status DecryptorStatus

	status.PushCurrent(StatusEntry{Status: SyncStatusSync, FileToDecrypt: "a.yaml"})
	if status.Current.ID != 1 {
		t.Errorf("first current.id = %d, want 1", status.Current.ID)
	}

	status.PushCurrent(StatusEntry{Status: SyncStatusSync, FileToDecrypt: "a.yaml"})
	if status.Current.ID != 2 {
		t.Errorf("second current.id = %d, want 2", status.Current.ID)
	}
	if len(status.History) != 1 || status.History[0].ID != 1 {
		t.Errorf("unexpected history after second push: %+v", status.History)
	}
}

func TestDecryptorStatusHistoryBound(t *testing.T) {
	var status DecryptorStatus

	for i := 0; i < MaxHistoryLength+5; i++ {
		status.PushCurrent(StatusEntry{Status: SyncStatusSync, FileToDecrypt: "a.yaml"})
	}

	if len(status.History) != MaxHistoryLength {
		t.Fatalf("history length = %d, want %d", len(status.History), MaxHistoryLength)
	}
	for _, h := range status.History {
		if h.ID >= status.Current.ID {
			t.Errorf("history entry id %d is not less than current id %d", h.ID, status.Current.ID)
		}
	}
}

func TestDecryptor(t *testing.T) {
	d := &Decryptor{
		Spec: DecryptorSpec{
			Source: DecryptorSource{
				Repository:    RepositorySource{URL: "https://github.com/org/repo.git"},
				FileToDecrypt: "sec.enc.yaml",
				SopsPath:      ".sops.yaml",
			},
		},
	}

	if d.Spec.Source.FileToDecrypt != "sec.enc.yaml" {
		t.Errorf("Spec.Source.FileToDecrypt = %q, want %q", d.Spec.Source.FileToDecrypt, "sec.enc.yaml")
	}

	cp := d.DeepCopy()
	cp.Spec.Source.FileToDecrypt = "other.yaml"
	if d.Spec.Source.FileToDecrypt == cp.Spec.Source.FileToDecrypt {
		t.Error("DeepCopy did not produce an independent copy")
	}
}

func TestDecryptorList(t *testing.T) {
	list := &DecryptorList{
		Items: []Decryptor{
			{Spec: DecryptorSpec{Source: DecryptorSource{FileToDecrypt: "item1"}}},
			{Spec: DecryptorSpec{Source: DecryptorSource{FileToDecrypt: "item2"}}},
		},
	}

	if len(list.Items) != 2 {
		t.Errorf("Items length = %d, want %d", len(list.Items), 2)
	}
	if list.Items[0].Spec.Source.FileToDecrypt != "item1" {
		t.Errorf("Items[0] = %q, want %q", list.Items[0].Spec.Source.FileToDecrypt, "item1")
	}
}
