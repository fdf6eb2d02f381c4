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

package controller

import (
	"context"
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/test/bufconn"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	jiemiv1alpha1 "github.com/scalaric/decryptor/api/v1alpha1"
	"github.com/scalaric/decryptor/internal/agentrpc"
	"github.com/scalaric/decryptor/internal/credentials"
)

// fakeAgent backs a bufconn gRPC server implementing just enough of the
// agent contract to drive DecryptorReconciler end to end.
type fakeAgent struct {
	setRepositoryCalls int
	renderResponse      agentrpc.RenderResponse
	renderErr           error
}

var decryptorTestServiceDesc = grpc.ServiceDesc{
	ServiceName: agentrpc.ServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SetRepository",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				req := &agentrpc.SetRepositoryRequest{}
				if err := dec(req); err != nil {
					return nil, err
				}
				srv.(*fakeAgent).setRepositoryCalls++
				return &agentrpc.Ack{OK: true}, nil
			},
		},
		{
			MethodName: "DeleteRepository",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				req := &agentrpc.DeleteRepositoryRequest{}
				if err := dec(req); err != nil {
					return nil, err
				}
				return &agentrpc.Ack{OK: true}, nil
			},
		},
		{
			MethodName: "Render",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
				req := &agentrpc.RenderRequest{}
				if err := dec(req); err != nil {
					return nil, err
				}
				f := srv.(*fakeAgent)
				if f.renderErr != nil {
					return nil, f.renderErr
				}
				return &f.renderResponse, nil
			},
		},
	},
}

func startFakeAgentClient(impl *fakeAgent) *agentrpc.Client {
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	srv.RegisterService(&decryptorTestServiceDesc, impl)
	go func() { _ = srv.Serve(lis) }()
	DeferCleanup(srv.Stop)

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")),
	)
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { _ = conn.Close() })

	return agentrpc.NewClient(conn)
}

var _ = Describe("DecryptorReconciler", func() {
	var (
		k8sClient  client.Client
		impl       *fakeAgent
		reconciler *DecryptorReconciler
		key        types.NamespacedName
	)

	BeforeEach(func() {
		_ = encoding.GetCodec("json") // codec registration happens via agentrpc's init()

		decryptor := &jiemiv1alpha1.Decryptor{}
		decryptor.Name = "example"
		decryptor.Namespace = "default"
		decryptor.Spec.Source.Repository.URL = "https://example.com/repo.git"
		decryptor.Spec.Source.FileToDecrypt = "secret.yaml"
		decryptor.Spec.Source.SopsPath = ".sops.yaml"

		c := fake.NewClientBuilder().
			WithScheme(scheme.Scheme).
			WithObjects(decryptor).
			WithStatusSubresource(decryptor).
			Build()

		impl = &fakeAgent{renderResponse: agentrpc.RenderResponse{
			RenderedYAML: "apiVersion: v1\nkind: ConfigMap\nmetadata:\n  name: cfg\n",
			CommitHash:   "deadbeef",
		}}

		reconciler = &DecryptorReconciler{
			Client:   c,
			State:    NewGenerationState(),
			Resolver: credentials.NewResolver(c),
			Applier:  NewApplier(c),
			Agent:    startFakeAgentClient(impl),
		}
		key = types.NamespacedName{Name: "example", Namespace: "default"}
		k8sClient = c
	})

	It("registers the repository on first sight and applies the rendered manifest", func() {
		_, err := reconciler.Reconcile(context.Background(), ctrl.Request{NamespacedName: key})
		Expect(err).NotTo(HaveOccurred())
		Expect(impl.setRepositoryCalls).To(Equal(1))

		got := &jiemiv1alpha1.Decryptor{}
		Expect(k8sClient.Get(context.Background(), key, got)).To(Succeed())
		Expect(got.Status.Current).NotTo(BeNil())
		Expect(got.Status.Current.Status).To(Equal(jiemiv1alpha1.SyncStatusSync))
		Expect(got.Status.Current.Revision).To(Equal("deadbeef"))
	})

	It("short-circuits a second reconcile at the same generation", func() {
		_, err := reconciler.Reconcile(context.Background(), ctrl.Request{NamespacedName: key})
		Expect(err).NotTo(HaveOccurred())

		_, err = reconciler.Reconcile(context.Background(), ctrl.Request{NamespacedName: key})
		Expect(err).NotTo(HaveOccurred())
		Expect(impl.setRepositoryCalls).To(Equal(1), "SetRepository must not be repeated once the name is known")

		got := &jiemiv1alpha1.Decryptor{}
		Expect(k8sClient.Get(context.Background(), key, got)).To(Succeed())
		Expect(got.Status.History).To(BeEmpty(), "the short-circuited reconcile must not write a new status entry")
	})

	It("writes an Error status when Render fails", func() {
		impl.renderErr = context.DeadlineExceeded

		_, err := reconciler.Reconcile(context.Background(), ctrl.Request{NamespacedName: key})
		Expect(err).NotTo(HaveOccurred())

		got := &jiemiv1alpha1.Decryptor{}
		Expect(k8sClient.Get(context.Background(), key, got)).To(Succeed())
		Expect(got.Status.Current.Status).To(Equal(jiemiv1alpha1.SyncStatusError))
	})

	It("returns an empty result for a Decryptor that no longer exists", func() {
		missing := types.NamespacedName{Name: "gone", Namespace: "default"}
		result, err := reconciler.Reconcile(context.Background(), ctrl.Request{NamespacedName: missing})
		Expect(err).NotTo(HaveOccurred())
		Expect(result).To(Equal(ctrl.Result{}))
	})
})
