package deployments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/formationai/marketplace/models"
)

// Provider is the external build/deploy pipeline. The marketplace only
// requests work and records outcomes; the pipeline itself is a separate
// system reached over HTTP.
type Provider interface {
	Deploy(ctx context.Context, deployment *models.Deployment) (ProviderResult, error)
	Delete(ctx context.Context, providerID string) error
}

// ProviderResult is what a successful deploy request returns.
type ProviderResult struct {
	ProviderID    string `json:"id"`
	DeploymentURL string `json:"url"`
}

// httpProvider talks to the deploy pipeline's HTTP API.
type httpProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider creates a Provider for the pipeline at baseURL.
func NewHTTPProvider(baseURL, apiKey string) Provider {
	return &httpProvider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type deployRequest struct {
	DeploymentID string          `json:"deployment_id"`
	AgentID      string          `json:"agent_id"`
	AccountID    string          `json:"account_id"`
	DockerImage  string          `json:"docker_image,omitempty"`
	CommitSHA    string          `json:"commit_sha,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
}

func (p *httpProvider) Deploy(ctx context.Context, deployment *models.Deployment) (ProviderResult, error) {
	body, err := json.Marshal(deployRequest{
		DeploymentID: deployment.ID,
		AgentID:      deployment.AgentID,
		AccountID:    deployment.AccountID,
		DockerImage:  deployment.DockerImage,
		CommitSHA:    deployment.CommitSHA,
		Config:       deployment.Config,
	})
	if err != nil {
		return ProviderResult{}, fmt.Errorf("failed to marshal deploy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/deployments", bytes.NewReader(body))
	if err != nil {
		return ProviderResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ProviderResult{}, fmt.Errorf("deploy request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ProviderResult{}, fmt.Errorf("deploy provider returned %d: %s", resp.StatusCode, msg)
	}

	var result ProviderResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return ProviderResult{}, fmt.Errorf("failed to decode deploy response: %w", err)
	}

	return result, nil
}

func (p *httpProvider) Delete(ctx context.Context, providerID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/deployments/"+providerID, http.NoBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("deploy provider returned %d", resp.StatusCode)
	}

	return nil
}
