// Package platform implements the Platform Adapter (spec component 4.B): a
// thin client over a Railway-shaped GraphQL API, grounded 1:1 on
// original_source/railway.py's query/mutation shapes. Every call degrades
// to an empty/zero value on failure and logs the error; none of them raise.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cortexhq/cortex/internal/transport"
)

const defaultAPIURL = "https://backboard.railway.app/graphql/v2"

// Adapter is the capability set the rest of Cortex depends on — tests swap
// it for an in-memory fake, per the teacher's adapter-as-capability-set
// convention.
type Adapter interface {
	GetServices(ctx context.Context, projectID string) ([]ServiceRecord, error)
	GetVariables(ctx context.Context, serviceID, environmentID string) (map[string]string, error)
	GetRecentDeploys(ctx context.Context, serviceID, environmentID string, limit int) ([]DeployRecord, error)
	GetServiceLogs(ctx context.Context, serviceID, environmentID string) (string, error)
	CheckHealth(ctx context.Context, healthURL string) bool
	Restart(ctx context.Context, serviceID, environmentID string) bool
	SetVariable(ctx context.Context, serviceID, environmentID, key, value string) bool
	Rollback(ctx context.Context, serviceID, environmentID string) bool
}

// ServiceRecord is one raw service as returned by GetServices.
type ServiceRecord struct {
	ID               string
	Name             string
	RepoOwner        string
	RepoName         string
	Domains          []string
	StartCommand     string
	BuildCommand     string
	HealthcheckPath  string
	NumReplicas      int
}

// DeployRecord is one deployment as returned by GetRecentDeploys.
type DeployRecord struct {
	ID        string
	Status    string
	CreatedAt time.Time
	Meta      map[string]any
}

// Client is the real GraphQL-backed Adapter implementation.
type Client struct {
	apiURL string
	token  string
	http   *transport.Client
}

// NewClient builds a Client authenticated with token.
func NewClient(token string) *Client {
	return &Client{
		apiURL: defaultAPIURL,
		token:  token,
		http:   transport.New("platform", 30*time.Second, 5, 10),
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

func (c *Client) gql(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	if c.token == "" {
		return nil, fmt.Errorf("platform token not configured")
	}

	payload, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("platform API error: %s", out.Errors[0].Message)
	}
	return out.Data, nil
}

// GetServices lists all services in a project.
func (c *Client) GetServices(ctx context.Context, projectID string) ([]ServiceRecord, error) {
	if projectID == "" {
		return nil, fmt.Errorf("platform project id not configured")
	}

	data, err := c.gql(ctx, `
		query($projectId: String!) {
			project(id: $projectId) {
				services {
					edges {
						node {
							id
							name
							serviceInstances {
								edges {
									node {
										source { repo }
										domains {
											serviceDomains { domain }
											customDomains { domain }
										}
										startCommand
										buildCommand
										healthcheckPath
										numReplicas
									}
								}
							}
						}
					}
				}
			}
		}
	`, map[string]any{"projectId": projectID})
	if err != nil {
		log.Error().Err(err).Msg("platform: get_services failed")
		return nil, err
	}

	var parsed struct {
		Project struct {
			Services struct {
				Edges []struct {
					Node struct {
						ID               string `json:"id"`
						Name             string `json:"name"`
						ServiceInstances struct {
							Edges []struct {
								Node struct {
									Source struct {
										Repo string `json:"repo"`
									} `json:"source"`
									Domains struct {
										ServiceDomains []struct {
											Domain string `json:"domain"`
										} `json:"serviceDomains"`
										CustomDomains []struct {
											Domain string `json:"domain"`
										} `json:"customDomains"`
									} `json:"domains"`
									StartCommand    string `json:"startCommand"`
									BuildCommand    string `json:"buildCommand"`
									HealthcheckPath string `json:"healthcheckPath"`
									NumReplicas     int    `json:"numReplicas"`
								} `json:"node"`
							} `json:"edges"`
						} `json:"serviceInstances"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"services"`
		} `json:"project"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	var out []ServiceRecord
	for _, e := range parsed.Project.Services.Edges {
		rec := ServiceRecord{ID: e.Node.ID, Name: e.Node.Name}
		if len(e.Node.ServiceInstances.Edges) > 0 {
			inst := e.Node.ServiceInstances.Edges[0].Node
			rec.RepoOwner, rec.RepoName = splitRepo(inst.Source.Repo)
			rec.StartCommand = inst.StartCommand
			rec.BuildCommand = inst.BuildCommand
			rec.HealthcheckPath = inst.HealthcheckPath
			rec.NumReplicas = inst.NumReplicas
			for _, d := range inst.Domains.ServiceDomains {
				rec.Domains = append(rec.Domains, d.Domain)
			}
			for _, d := range inst.Domains.CustomDomains {
				rec.Domains = append(rec.Domains, d.Domain)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func splitRepo(repo string) (owner, name string) {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			return repo[:i], repo[i+1:]
		}
	}
	return "", repo
}

// GetVariables returns all environment variables for a service.
func (c *Client) GetVariables(ctx context.Context, serviceID, environmentID string) (map[string]string, error) {
	data, err := c.gql(ctx, `
		query($serviceId: String!, $environmentId: String!) {
			variables(serviceId: $serviceId, environmentId: $environmentId)
		}
	`, map[string]any{"serviceId": serviceID, "environmentId": environmentID})
	if err != nil {
		log.Error().Err(err).Str("service_id", serviceID).Msg("platform: get_variables failed")
		return map[string]string{}, nil
	}

	var parsed struct {
		Variables map[string]string `json:"variables"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return map[string]string{}, nil
	}
	return parsed.Variables, nil
}

// GetRecentDeploys returns up to limit recent deployments, newest first.
func (c *Client) GetRecentDeploys(ctx context.Context, serviceID, environmentID string, limit int) ([]DeployRecord, error) {
	data, err := c.gql(ctx, `
		query($serviceId: String!, $environmentId: String!, $limit: Int!) {
			deployments(input: { serviceId: $serviceId, environmentId: $environmentId }, first: $limit) {
				edges { node { id status createdAt meta } }
			}
		}
	`, map[string]any{"serviceId": serviceID, "environmentId": environmentID, "limit": limit})
	if err != nil {
		log.Error().Err(err).Str("service_id", serviceID).Msg("platform: get_recent_deploys failed")
		return nil, nil
	}

	var parsed struct {
		Deployments struct {
			Edges []struct {
				Node struct {
					ID        string         `json:"id"`
					Status    string         `json:"status"`
					CreatedAt time.Time      `json:"createdAt"`
					Meta      map[string]any `json:"meta"`
				} `json:"node"`
			} `json:"edges"`
		} `json:"deployments"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, nil
	}

	out := make([]DeployRecord, 0, len(parsed.Deployments.Edges))
	for _, e := range parsed.Deployments.Edges {
		out = append(out, DeployRecord{ID: e.Node.ID, Status: e.Node.Status, CreatedAt: e.Node.CreatedAt, Meta: e.Node.Meta})
	}
	return out, nil
}

// GetServiceLogs pulls the latest deploy's log tail (up to ~500 lines).
func (c *Client) GetServiceLogs(ctx context.Context, serviceID, environmentID string) (string, error) {
	deploys, err := c.GetRecentDeploys(ctx, serviceID, environmentID, 1)
	if err != nil || len(deploys) == 0 {
		return "", nil
	}

	data, err := c.gql(ctx, `
		query($deploymentId: String!) {
			deploymentLogs(deploymentId: $deploymentId, limit: 500) { message timestamp severity }
		}
	`, map[string]any{"deploymentId": deploys[0].ID})
	if err != nil {
		log.Error().Err(err).Str("service_id", serviceID).Msg("platform: get_service_logs failed")
		return "", nil
	}

	var parsed struct {
		DeploymentLogs []struct {
			Message  string `json:"message"`
			Severity string `json:"severity"`
		} `json:"deploymentLogs"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", nil
	}

	var buf bytes.Buffer
	for _, l := range parsed.DeploymentLogs {
		sev := l.Severity
		if sev == "" {
			sev = "INFO"
		}
		fmt.Fprintf(&buf, "[%s] %s\n", sev, l.Message)
	}
	return buf.String(), nil
}

// CheckHealth pings a health URL. No URL is considered healthy.
func (c *Client) CheckHealth(ctx context.Context, healthURL string) bool {
	if healthURL == "" {
		return true
	}

	req, err := http.NewRequest(http.MethodGet, healthURL, nil)
	if err != nil {
		return false
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// Restart triggers a redeploy of a service.
func (c *Client) Restart(ctx context.Context, serviceID, environmentID string) bool {
	_, err := c.gql(ctx, `
		mutation($serviceId: String!, $environmentId: String!) {
			serviceInstanceRedeploy(serviceId: $serviceId, environmentId: $environmentId)
		}
	`, map[string]any{"serviceId": serviceID, "environmentId": environmentID})
	if err != nil {
		log.Error().Err(err).Str("service_id", serviceID).Msg("platform: restart failed")
		return false
	}
	return true
}

// SetVariable sets a single environment variable on a service.
func (c *Client) SetVariable(ctx context.Context, serviceID, environmentID, key, value string) bool {
	_, err := c.gql(ctx, `
		mutation($input: VariableCollectionUpsertInput!) {
			variableCollectionUpsert(input: $input)
		}
	`, map[string]any{
		"input": map[string]any{
			"serviceId":     serviceID,
			"environmentId": environmentID,
			"variables":     map[string]string{key: value},
		},
	})
	if err != nil {
		log.Error().Err(err).Str("service_id", serviceID).Str("key", key).Msg("platform: set_variable failed")
		return false
	}
	return true
}

// Rollback finds the most recent successful deploy that isn't current and
// invokes the platform's rollback mutation on it.
func (c *Client) Rollback(ctx context.Context, serviceID, environmentID string) bool {
	deploys, err := c.GetRecentDeploys(ctx, serviceID, environmentID, 5)
	if err != nil || len(deploys) < 2 {
		return false
	}

	for _, d := range deploys[1:] {
		if d.Status != "SUCCESS" {
			continue
		}
		_, err := c.gql(ctx, `
			mutation($deploymentId: String!) {
				deploymentRollback(id: $deploymentId)
			}
		`, map[string]any{"deploymentId": d.ID})
		if err != nil {
			log.Error().Err(err).Str("service_id", serviceID).Msg("platform: rollback failed")
			return false
		}
		return true
	}
	return false
}

var _ Adapter = (*Client)(nil)
