// Package agentrpc implements the RPC surface between the controller and
// the agent: SetRepository, DeleteRepository and Render (spec.md section
// 4.9), transported over gRPC with the JSON codec registered in codec.go.
// See proto/agent/v1/agent.proto for the documented interface contract.
package agentrpc

import "time"

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "agent.v1.AgentService"

	MethodSetRepository    = "/" + ServiceName + "/SetRepository"
	MethodDeleteRepository = "/" + ServiceName + "/DeleteRepository"
	MethodRender           = "/" + ServiceName + "/Render"
)

// DefaultCallTimeout is the per-RPC deadline mandated by spec.md sections
// 4.1, 4.9 and 5.
const DefaultCallTimeout = 30 * time.Second

// GitAuth mirrors credentials.GitAuth on the wire.
type GitAuth struct {
	Variant       string `json:"variant"`
	Username      string `json:"username,omitempty"`
	Token         string `json:"token,omitempty"`
	SSHPrivateKey string `json:"sshPrivateKey,omitempty"`
}

// SetRepositoryRequest is the SetRepository RPC payload.
type SetRepositoryRequest struct {
	URL  string  `json:"url"`
	Auth GitAuth `json:"auth"`
}

// DeleteRepositoryRequest is the DeleteRepository RPC payload.
type DeleteRepositoryRequest struct {
	URL string `json:"url"`
}

// ProviderBundle mirrors credentials.Bundle on the wire.
type ProviderBundle struct {
	Variant                string `json:"variant"`
	GcpServiceAccountJSON  string `json:"gcpServiceAccountJson,omitempty"`
	AwsKeyID               string `json:"awsKeyId,omitempty"`
	AwsAccessKey           string `json:"awsAccessKey,omitempty"`
	AwsRegion              string `json:"awsRegion,omitempty"`
	PgpPrivateKeyArmored   string `json:"pgpPrivateKeyArmored,omitempty"`
	VaultToken             string `json:"vaultToken,omitempty"`
}

// RenderRequest is the Render RPC payload.
type RenderRequest struct {
	URL           string         `json:"url"`
	FileToDecrypt string         `json:"fileToDecrypt"`
	SopsPath      string         `json:"sopsPath"`
	Provider      ProviderBundle `json:"provider"`
}

// RenderResponse is the Render RPC result: the decrypted manifest and the
// commit hash of the working tree it was rendered from.
type RenderResponse struct {
	RenderedYAML string `json:"renderedYaml"`
	CommitHash   string `json:"commitHash,omitempty"`
}

// Ack is the shared reply for SetRepository / DeleteRepository.
type Ack struct {
	OK bool `json:"ok"`
}
