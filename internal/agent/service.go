package agent

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/go-logr/logr"
	"google.golang.org/grpc"

	"github.com/scalaric/decryptor/internal/agentrpc"
	"github.com/scalaric/decryptor/internal/errs"
)

// ServiceDesc is the gRPC service descriptor for the agent, registered
// with a *grpc.Server alongside the "json" codec from agentrpc.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: agentrpc.ServiceName,
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SetRepository", Handler: setRepositoryHandler},
		{MethodName: "DeleteRepository", Handler: deleteRepositoryHandler},
		{MethodName: "Render", Handler: renderHandler},
	},
}

// Service implements the three RPCs the agent exposes (spec.md section
// 4.9). Render's provider-mutation phase is serialized by renderMu,
// per the concurrency model in spec.md section 5: the agent's
// credential-provider effects are process-wide singletons.
type Service struct {
	registry *GitRegistry
	invoker  *Invoker
	provider *ProviderAdapter
	log      logr.Logger

	renderMu sync.Mutex
}

// GitRegistry is the subset of repository bookkeeping the service needs:
// a persistent Registry plus the GitEngine that operates on it.
type GitRegistry struct {
	Registry *Registry
	Git      *GitEngine
}

// NewService wires a Service from its collaborators.
func NewService(registry *GitRegistry, invoker *Invoker, provider *ProviderAdapter, log logr.Logger) *Service {
	return &Service{registry: registry, invoker: invoker, provider: provider, log: log}
}

func (s *Service) setRepository(ctx context.Context, req *agentrpc.SetRepositoryRequest) (*agentrpc.Ack, error) {
	target := s.registry.Git.WorkingTreePath(req.URL)
	if existing, ok := s.registry.Registry.Get(req.URL); ok {
		target = existing.WorkingTree
	}

	if err := s.registry.Git.Init(ctx, target, req.URL, req.Auth); err != nil {
		return nil, err
	}

	if err := s.registry.Registry.Upsert(Record{URL: req.URL, WorkingTree: target, Auth: req.Auth}); err != nil {
		return nil, err
	}

	s.log.Info("repository registered", "url", req.URL, "workingTree", target)
	return &agentrpc.Ack{OK: true}, nil
}

func (s *Service) deleteRepository(_ context.Context, req *agentrpc.DeleteRepositoryRequest) (*agentrpc.Ack, error) {
	rec, ok := s.registry.Registry.Get(req.URL)
	if !ok {
		return &agentrpc.Ack{OK: true}, nil
	}

	if err := s.registry.Git.Delete(rec.WorkingTree); err != nil {
		return nil, err
	}
	if err := s.registry.Registry.Delete(req.URL); err != nil {
		return nil, err
	}

	s.log.Info("repository forgotten", "url", req.URL)
	return &agentrpc.Ack{OK: true}, nil
}

func (s *Service) render(ctx context.Context, req *agentrpc.RenderRequest) (*agentrpc.RenderResponse, error) {
	rec, ok := s.registry.Registry.Get(req.URL)
	if !ok {
		return nil, errs.New(errs.RepoConfig, "render requested for an unregistered repository")
	}

	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	if err := s.provider.Apply(ctx, req.Provider); err != nil {
		return nil, err
	}

	rendered, err := s.invoker.Decrypt(ctx, rec.WorkingTree, req.FileToDecrypt, req.SopsPath)
	if err != nil {
		return nil, err
	}

	return &agentrpc.RenderResponse{
		RenderedYAML: string(rendered),
		CommitHash:   s.registry.Git.CommitHash(ctx, rec.WorkingTree),
	}, nil
}

func setRepositoryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &agentrpc.SetRepositoryRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(*Service).setRepository(ctx, req)
}

func deleteRepositoryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &agentrpc.DeleteRepositoryRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(*Service).deleteRepository(ctx, req)
}

func renderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, _ grpc.UnaryServerInterceptor) (interface{}, error) {
	req := &agentrpc.RenderRequest{}
	if err := dec(req); err != nil {
		return nil, err
	}
	return srv.(*Service).render(ctx, req)
}

// WorkspaceRoot is the conventional agent working directory.
func WorkspaceRoot(home string) string {
	return filepath.Join(home, "workspace", "repo")
}

// RegistryPath is the conventional registry document path under root.
func RegistryPath(root string) string {
	return filepath.Join(root, "list.json")
}
