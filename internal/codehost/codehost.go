// Package codehost implements the Code Host Adapter (spec component 4.C): a
// thin client over a GitHub-shaped REST API, grounded 1:1 on
// original_source/github.py. Reads degrade to empty values on failure; the
// compound propose_fix write aborts and returns nil on any step failure and
// never pushes to the base branch directly.
package codehost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/cortexhq/cortex/internal/transport"
)

const apiBase = "https://api.github.com"

// FileEntry is one entry in a repo's file tree.
type FileEntry struct {
	Path string
	Type string // "blob" or "tree"
}

// CommitRecord is a condensed commit as returned by GetRecentCommits.
type CommitRecord struct {
	SHA     string
	Message string
	Author  string
	Date    time.Time
}

// PRInfo describes a pull request created by ProposeFix.
type PRInfo struct {
	Number int
	URL    string
	Branch string
}

// FileChange is one file write to apply as part of ProposeFix.
type FileChange struct {
	Path    string
	Content string
	Message string
}

// Adapter is the capability set the rest of Cortex depends on.
type Adapter interface {
	GetFileTree(ctx context.Context, owner, repo, branch string) ([]FileEntry, error)
	GetFileContent(ctx context.Context, owner, repo, path, branch string) (string, error)
	GetRecentCommits(ctx context.Context, owner, repo, branch string, limit int) ([]CommitRecord, error)
	ProposeFix(ctx context.Context, owner, repo string, changes []FileChange, title, diagnosis string) (*PRInfo, error)
}

// Client is the real GitHub-REST-backed Adapter implementation.
type Client struct {
	token string
	http  *transport.Client
}

// NewClient builds a Client authenticated with token.
func NewClient(token string) *Client {
	return &Client{
		token: token,
		http:  transport.New("codehost", 30*time.Second, 5, 10),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c.token == "" {
		return nil, fmt.Errorf("code host token not configured")
	}

	var reader *jsonReader
	if body != nil {
		reader = newJSONReader(body)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequest(method, apiBase+path, reader)
	} else {
		req, err = http.NewRequest(method, apiBase+path, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(ctx, req)
}

// GetFileTree fetches the recursive tree for a branch.
func (c *Client) GetFileTree(ctx context.Context, owner, repo, branch string) ([]FileEntry, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/git/trees/%s?recursive=1", owner, repo, branch), nil)
	if err != nil {
		log.Error().Err(err).Str("repo", repo).Msg("codehost: get_file_tree failed")
		return nil, nil
	}
	defer resp.Body.Close()

	var parsed struct {
		Tree []struct {
			Path string `json:"path"`
			Type string `json:"type"`
		} `json:"tree"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil
	}

	out := make([]FileEntry, 0, len(parsed.Tree))
	for _, e := range parsed.Tree {
		out = append(out, FileEntry{Path: e.Path, Type: e.Type})
	}
	return out, nil
}

// GetFileContent fetches and base64-decodes one file's content.
func (c *Client) GetFileContent(ctx context.Context, owner, repo, path, branch string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", owner, repo, path, branch), nil)
	if err != nil {
		log.Error().Err(err).Str("repo", repo).Str("path", path).Msg("codehost: get_file_content failed")
		return "", nil
	}
	defer resp.Body.Close()

	var parsed struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", nil
	}
	if parsed.Encoding != "base64" {
		return parsed.Content, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(stripNewlines(parsed.Content))
	if err != nil {
		return "", nil
	}
	return string(decoded), nil
}

func (c *Client) getFileSHA(ctx context.Context, owner, repo, path, branch string) (string, bool) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", owner, repo, path, branch), nil)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", false
	}

	var parsed struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", false
	}
	return parsed.SHA, parsed.SHA != ""
}

// GetRecentCommits returns up to limit recent commits on a branch.
func (c *Client) GetRecentCommits(ctx context.Context, owner, repo, branch string, limit int) ([]CommitRecord, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/commits?sha=%s&per_page=%d", owner, repo, branch, limit), nil)
	if err != nil {
		log.Error().Err(err).Str("repo", repo).Msg("codehost: get_recent_commits failed")
		return nil, nil
	}
	defer resp.Body.Close()

	var parsed []struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message string `json:"message"`
			Author  struct {
				Name string    `json:"name"`
				Date time.Time `json:"date"`
			} `json:"author"`
		} `json:"commit"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil
	}

	out := make([]CommitRecord, 0, len(parsed))
	for _, e := range parsed {
		sha := e.SHA
		if len(sha) > 7 {
			sha = sha[:7]
		}
		out = append(out, CommitRecord{
			SHA:     sha,
			Message: firstLine(e.Commit.Message),
			Author:  e.Commit.Author.Name,
			Date:    e.Commit.Author.Date,
		})
	}
	return out, nil
}

// ProposeFix creates a branch, commits each change, and opens a pull
// request from it. Aborts and returns nil on any step's failure; never
// writes to the base branch directly.
func (c *Client) ProposeFix(ctx context.Context, owner, repo string, changes []FileChange, title, diagnosis string) (*PRInfo, error) {
	repoInfo, ok := c.getRepo(ctx, owner, repo)
	if !ok {
		return nil, fmt.Errorf("could not read repo %s/%s", owner, repo)
	}

	baseSHA, ok := c.getRefSHA(ctx, owner, repo, repoInfo.DefaultBranch)
	if !ok {
		return nil, fmt.Errorf("could not resolve base branch sha")
	}

	branch := fmt.Sprintf("cortex/%s-%d", slugify(title), time.Now().Unix())
	if !c.createBranch(ctx, owner, repo, branch, baseSHA) {
		return nil, fmt.Errorf("could not create branch %s", branch)
	}

	for _, ch := range changes {
		sha, _ := c.getFileSHA(ctx, owner, repo, ch.Path, branch)
		if !c.commitFile(ctx, owner, repo, branch, ch, sha) {
			return nil, fmt.Errorf("could not commit %s", ch.Path)
		}
	}

	if title == "" {
		title = "Cortex: automated fix"
	}
	body := diagnosis + "\n\n---\nThis pull request was opened automatically by Cortex. Review before merging."

	pr, ok := c.createPullRequest(ctx, owner, repo, branch, repoInfo.DefaultBranch, title, body)
	if !ok {
		return nil, fmt.Errorf("could not open pull request")
	}
	pr.Branch = branch
	return pr, nil
}

type repoInfo struct {
	DefaultBranch string
}

func (c *Client) getRepo(ctx context.Context, owner, repo string) (repoInfo, bool) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, repo), nil)
	if err != nil {
		return repoInfo{}, false
	}
	defer resp.Body.Close()

	var parsed struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.DefaultBranch == "" {
		return repoInfo{}, false
	}
	return repoInfo{DefaultBranch: parsed.DefaultBranch}, true
}

func (c *Client) getRefSHA(ctx context.Context, owner, repo, branch string) (string, bool) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", owner, repo, branch), nil)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	var parsed struct {
		Object struct {
			SHA string `json:"sha"`
		} `json:"object"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil || parsed.Object.SHA == "" {
		return "", false
	}
	return parsed.Object.SHA, true
}

func (c *Client) createBranch(ctx context.Context, owner, repo, branch, fromSHA string) bool {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/refs", owner, repo), map[string]any{
		"ref": "refs/heads/" + branch,
		"sha": fromSHA,
	})
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusCreated
}

func (c *Client) commitFile(ctx context.Context, owner, repo, branch string, ch FileChange, existingSHA string) bool {
	payload := map[string]any{
		"message": ch.Message,
		"content": base64.StdEncoding.EncodeToString([]byte(ch.Content)),
		"branch":  branch,
	}
	if existingSHA != "" {
		payload["sha"] = existingSHA
	}

	resp, err := c.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, ch.Path), payload)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated
}

func (c *Client) createPullRequest(ctx context.Context, owner, repo, head, base, title, body string) (*PRInfo, bool) {
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls", owner, repo), map[string]any{
		"title": title,
		"head":  head,
		"base":  base,
		"body":  body,
	})
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, false
	}

	var parsed struct {
		Number  int    `json:"number"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false
	}
	return &PRInfo{Number: parsed.Number, URL: parsed.HTMLURL}, true
}

var _ Adapter = (*Client)(nil)
