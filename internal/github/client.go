package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/basket/go-steward/internal/restclient"
)

// Client is a typed GitHub REST v3 client scoped to one organization.
// Every call flows through the shared retrying client.
type Client struct {
	rc      *restclient.Client
	baseURL string
	org     string
	token   string
	logger  *slog.Logger
}

func NewClient(rc *restclient.Client, baseURL, org, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rc:      rc,
		baseURL: strings.TrimRight(baseURL, "/"),
		org:     org,
		token:   token,
		logger:  logger,
	}
}

// Org returns the organization this client is scoped to.
func (c *Client) Org() string { return c.org }

func (c *Client) header() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/vnd.github+json")
	h.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.rc.Do(ctx, restclient.Request{
		Method: method,
		URL:    c.baseURL + path,
		Header: c.header(),
		Body:   body,
	})
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// Repo is the subset of repository fields the system acts on.
type Repo struct {
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	HTMLURL       string `json:"html_url"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
	Archived      bool   `json:"archived"`
	StarCount     int    `json:"stargazers_count"`
	OpenIssues    int    `json:"open_issues_count"`
	PushedAt      string `json:"pushed_at"`
	UpdatedAt     string `json:"updated_at"`
}

// Issue covers both issues and pull requests; PullRequest is non-nil
// when the item is a PR.
type Issue struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	State       string    `json:"state"`
	HTMLURL     string    `json:"html_url"`
	UpdatedAt   string    `json:"updated_at"`
	Labels      []Label   `json:"labels"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

type Label struct {
	Name string `json:"name"`
}

type PullRequest struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	HTMLURL   string `json:"html_url"`
	UpdatedAt string `json:"updated_at"`
	Draft     bool   `json:"draft"`
}

type OrgInfo struct {
	Login             string `json:"login"`
	PublicRepos       int    `json:"public_repos"`
	TotalPrivateRepos int    `json:"total_private_repos"`
}

type Member struct {
	Login string `json:"login"`
}

// OrgInfo fetches top-level organization metadata.
func (c *Client) OrgInfo(ctx context.Context) (OrgInfo, error) {
	var out OrgInfo
	err := c.do(ctx, "GET", "/orgs/"+c.org, nil, &out)
	return out, err
}

// ListMembers returns the organization members.
func (c *Client) ListMembers(ctx context.Context) ([]Member, error) {
	var out []Member
	err := c.do(ctx, "GET", "/orgs/"+c.org+"/members?per_page=100", nil, &out)
	return out, err
}

// ListRepos returns all repositories in the organization, paging until
// exhausted.
func (c *Client) ListRepos(ctx context.Context) ([]Repo, error) {
	var all []Repo
	for page := 1; ; page++ {
		var batch []Repo
		path := fmt.Sprintf("/orgs/%s/repos?type=all&per_page=100&page=%d", c.org, page)
		if err := c.do(ctx, "GET", path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

// GetRepo fetches a single repository. A nil error with ok=false means
// the repository does not exist.
func (c *Client) GetRepo(ctx context.Context, name string) (Repo, bool, error) {
	var out Repo
	err := c.do(ctx, "GET", "/repos/"+c.org+"/"+name, nil, &out)
	if err != nil {
		if restclient.StatusOf(err) == http.StatusNotFound {
			return Repo{}, false, nil
		}
		return Repo{}, false, err
	}
	return out, true, nil
}

// CreateRepoRequest controls repository creation.
type CreateRepoRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Private     bool   `json:"private"`
	AutoInit    bool   `json:"auto_init"`
}

// CreateRepo creates an organization repository.
func (c *Client) CreateRepo(ctx context.Context, req CreateRepoRequest) (Repo, error) {
	var out Repo
	err := c.do(ctx, "POST", "/orgs/"+c.org+"/repos", req, &out)
	return out, err
}

// SetVisibility flips a repository between private and public.
func (c *Client) SetVisibility(ctx context.Context, name string, private bool) error {
	body := map[string]bool{"private": private}
	return c.do(ctx, "PATCH", "/repos/"+c.org+"/"+name, body, nil)
}

// UpdateRepoDescription sets the repository description.
func (c *Client) UpdateRepoDescription(ctx context.Context, name, description string) error {
	body := map[string]string{"description": description}
	return c.do(ctx, "PATCH", "/repos/"+c.org+"/"+name, body, nil)
}

// DeleteRepo removes a repository permanently.
func (c *Client) DeleteRepo(ctx context.Context, name string) error {
	return c.do(ctx, "DELETE", "/repos/"+c.org+"/"+name, nil, nil)
}

// fileContent mirrors the contents API response for a single file.
type fileContent struct {
	SHA     string `json:"sha"`
	Content string `json:"content"`
}

// GetFile returns the decoded content and blob SHA of a file, or
// ok=false when the path does not exist on the branch.
func (c *Client) GetFile(ctx context.Context, repo, path, branch string) ([]byte, string, bool, error) {
	u := fmt.Sprintf("/repos/%s/%s/contents/%s", c.org, repo, escapePath(path))
	if branch != "" {
		u += "?ref=" + url.QueryEscape(branch)
	}
	var out fileContent
	err := c.do(ctx, "GET", u, nil, &out)
	if err != nil {
		if restclient.StatusOf(err) == http.StatusNotFound {
			return nil, "", false, nil
		}
		return nil, "", false, err
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(out.Content, "\n", ""))
	if err != nil {
		return nil, "", false, fmt.Errorf("decode %s: %w", path, err)
	}
	return decoded, out.SHA, true, nil
}

// PutFile creates or updates a file via the contents API. When the file
// already exists its blob SHA must be supplied so the update is not
// rejected as a conflict.
func (c *Client) PutFile(ctx context.Context, repo, path, branch, message string, content []byte, sha string) error {
	body := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
	}
	if branch != "" {
		body["branch"] = branch
	}
	if sha != "" {
		body["sha"] = sha
	}
	u := fmt.Sprintf("/repos/%s/%s/contents/%s", c.org, repo, escapePath(path))
	return c.do(ctx, "PUT", u, body, nil)
}

// UpsertFile writes content to path, fetching the existing blob SHA
// first so both create and update succeed.
func (c *Client) UpsertFile(ctx context.Context, repo, path, branch, message string, content []byte) error {
	_, sha, _, err := c.GetFile(ctx, repo, path, branch)
	if err != nil {
		return err
	}
	return c.PutFile(ctx, repo, path, branch, message, content, sha)
}

type refObject struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// CreateBranch creates a branch pointing at the head of from. Creating
// a branch that already exists returns the API's 422 untouched.
func (c *Client) CreateBranch(ctx context.Context, repo, name, from string) error {
	var ref refObject
	if err := c.do(ctx, "GET", fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", c.org, repo, from), nil, &ref); err != nil {
		return err
	}
	body := map[string]string{
		"ref": "refs/heads/" + name,
		"sha": ref.Object.SHA,
	}
	return c.do(ctx, "POST", fmt.Sprintf("/repos/%s/%s/git/refs", c.org, repo), body, nil)
}

// ListIssues returns open issues for the repository, paging until
// exhausted. Pull requests are filtered out.
func (c *Client) ListIssues(ctx context.Context, repo, state string) ([]Issue, error) {
	if state == "" {
		state = "open"
	}
	var issues []Issue
	for page := 1; ; page++ {
		var raw []Issue
		path := fmt.Sprintf("/repos/%s/%s/issues?state=%s&per_page=100&page=%d", c.org, repo, url.QueryEscape(state), page)
		if err := c.do(ctx, "GET", path, nil, &raw); err != nil {
			return nil, err
		}
		for _, is := range raw {
			if is.PullRequest == nil {
				issues = append(issues, is)
			}
		}
		if len(raw) < 100 {
			return issues, nil
		}
	}
}

// CreateIssue opens a new issue.
func (c *Client) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (Issue, error) {
	payload := map[string]any{"title": title}
	if body != "" {
		payload["body"] = body
	}
	if len(labels) > 0 {
		payload["labels"] = labels
	}
	var out Issue
	err := c.do(ctx, "POST", fmt.Sprintf("/repos/%s/%s/issues", c.org, repo), payload, &out)
	return out, err
}

// CloseIssue closes the issue.
func (c *Client) CloseIssue(ctx context.Context, repo string, number int) error {
	body := map[string]string{"state": "closed"}
	return c.do(ctx, "PATCH", fmt.Sprintf("/repos/%s/%s/issues/%d", c.org, repo, number), body, nil)
}

// CommentOnIssue adds a comment to an issue or pull request.
func (c *Client) CommentOnIssue(ctx context.Context, repo string, number int, body string) error {
	payload := map[string]string{"body": body}
	return c.do(ctx, "POST", fmt.Sprintf("/repos/%s/%s/issues/%d/comments", c.org, repo, number), payload, nil)
}

// AddLabels attaches labels to an issue.
func (c *Client) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	payload := map[string][]string{"labels": labels}
	return c.do(ctx, "POST", fmt.Sprintf("/repos/%s/%s/issues/%d/labels", c.org, repo, number), payload, nil)
}

// ListPullRequests returns open pull requests for the repository,
// paging until exhausted.
func (c *Client) ListPullRequests(ctx context.Context, repo string) ([]PullRequest, error) {
	var all []PullRequest
	for page := 1; ; page++ {
		var batch []PullRequest
		path := fmt.Sprintf("/repos/%s/%s/pulls?state=open&per_page=100&page=%d", c.org, repo, page)
		if err := c.do(ctx, "GET", path, nil, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < 100 {
			return all, nil
		}
	}
}

// SearchCode runs a code search scoped to the organization.
func (c *Client) SearchCode(ctx context.Context, query string) (int, error) {
	var out struct {
		TotalCount int `json:"total_count"`
	}
	q := url.QueryEscape(query + " org:" + c.org)
	err := c.do(ctx, "GET", "/search/code?q="+q, nil, &out)
	return out.TotalCount, err
}

func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
