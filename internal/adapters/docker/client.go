// Package docker is a minimal Docker Engine API client over the local
// Unix domain socket, implementing core.ContainerRuntime for the Sandbox
// Supervisor's CONTAINER backend (spec §6, consumed surface 3). The
// teacher's adapters are thin HTTP/CLI wrappers around one external
// binary/endpoint (internal/adapters/git, internal/adapters/cli); this
// package follows the same shape over the Engine API's REST surface
// rather than importing the full github.com/docker/docker client, which
// in the example pack appears only as an indirect dependency of a
// test-container helper, not as a production API client.
package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/quorumforge/aiorch/internal/core"
)

const apiVersion = "v1.43"

// Client talks to the Docker Engine API over a Unix domain socket.
type Client struct {
	http *http.Client
}

var _ core.ContainerRuntime = (*Client)(nil)

// New constructs a Client against the Engine API exposed at socketPath
// (typically /var/run/docker.sock).
func New(socketPath string) *Client {
	if socketPath == "" {
		socketPath = "/var/run/docker.sock"
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{}
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return &Client{http: &http.Client{Transport: transport, Timeout: 60 * time.Second}}
}

func (c *Client) url(path string) string {
	return "http://docker" + "/" + apiVersion + path
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, core.ErrInternal("", "marshaling docker request").WithCause(err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return nil, core.ErrInternal("", "building docker request").WithCause(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.ErrTimeout("docker engine request timed out")
		}
		return nil, core.ErrExternal("DOCKER_UNAVAILABLE", "docker engine unreachable").WithCause(err)
	}
	return resp, nil
}

type createContainerRequest struct {
	Image        string              `json:"Image"`
	Env          []string            `json:"Env,omitempty"`
	Labels       map[string]string   `json:"Labels,omitempty"`
	HostConfig   hostConfig          `json:"HostConfig"`
	ExposedPorts map[string]struct{} `json:"ExposedPorts,omitempty"`
}

type hostConfig struct {
	Binds        []string               `json:"Binds,omitempty"`
	PortBindings map[string][]portBind  `json:"PortBindings,omitempty"`
}

type portBind struct {
	HostPort string `json:"HostPort"`
}

type createContainerResponse struct {
	ID       string   `json:"Id"`
	Warnings []string `json:"Warnings"`
}

// Create provisions a container from spec without starting it (spec §6).
func (c *Client) Create(ctx context.Context, spec core.ContainerSpec) (string, error) {
	internalPort := fmt.Sprintf("%d/tcp", spec.InternalPort)
	req := createContainerRequest{
		Image:  spec.Image,
		Labels: spec.Labels,
		HostConfig: hostConfig{
			PortBindings: map[string][]portBind{
				internalPort: {{HostPort: fmt.Sprintf("%d", spec.HostPort)}},
			},
		},
		ExposedPorts: map[string]struct{}{internalPort: {}},
	}
	for k, v := range spec.Env {
		req.Env = append(req.Env, k+"="+v)
	}
	for _, m := range spec.Mounts {
		bind := m.HostPath + ":" + m.ContainerPath
		if m.ReadOnly {
			bind += ":ro"
		}
		req.HostConfig.Binds = append(req.HostConfig.Binds, bind)
	}

	resp, err := c.do(ctx, http.MethodPost, "/containers/create", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", statusErr(resp, "create container")
	}
	var out createContainerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", core.ErrExternal("DOCKER_BAD_RESPONSE", "unparseable create-container response").WithCause(err)
	}
	return out.ID, nil
}

// Start starts a created container.
func (c *Client) Start(ctx context.Context, containerID string) error {
	resp, err := c.do(ctx, http.MethodPost, "/containers/"+containerID+"/start", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotModified {
		return statusErr(resp, "start container")
	}
	return nil
}

// Stop issues a polite stop, waiting up to grace before Docker itself
// force-kills (spec §4.4).
func (c *Client) Stop(ctx context.Context, containerID string, grace time.Duration) error {
	secs := int(grace.Seconds())
	if secs <= 0 {
		secs = 5
	}
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/containers/%s/stop?t=%d", containerID, secs), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotModified {
		return statusErr(resp, "stop container")
	}
	return nil
}

// Remove deletes a stopped container.
func (c *Client) Remove(ctx context.Context, containerID string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/containers/"+containerID+"?force=true", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return statusErr(resp, "remove container")
	}
	return nil
}

type execCreateRequest struct {
	Cmd          []string `json:"Cmd"`
	AttachStdout bool     `json:"AttachStdout"`
	AttachStderr bool     `json:"AttachStderr"`
}

type execCreateResponse struct {
	ID string `json:"Id"`
}

type execInspectResponse struct {
	ExitCode int  `json:"ExitCode"`
	Running  bool `json:"Running"`
}

// Exec runs cmd inside containerID and returns its exit code, stdout, and
// stderr (spec §4.4). The Engine API multiplexes stdout/stderr over one
// stream with an 8-byte frame header; demuxFrames splits them back apart.
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string) (int, string, string, error) {
	createResp, err := c.do(ctx, http.MethodPost, "/containers/"+containerID+"/exec", execCreateRequest{
		Cmd: cmd, AttachStdout: true, AttachStderr: true,
	})
	if err != nil {
		return 0, "", "", err
	}
	defer createResp.Body.Close()
	if createResp.StatusCode != http.StatusCreated {
		return 0, "", "", statusErr(createResp, "create exec")
	}
	var created execCreateResponse
	if err := json.NewDecoder(createResp.Body).Decode(&created); err != nil {
		return 0, "", "", core.ErrExternal("DOCKER_BAD_RESPONSE", "unparseable exec-create response").WithCause(err)
	}

	startResp, err := c.do(ctx, http.MethodPost, "/exec/"+created.ID+"/start", map[string]bool{"Detach": false})
	if err != nil {
		return 0, "", "", err
	}
	defer startResp.Body.Close()
	if startResp.StatusCode != http.StatusOK {
		return 0, "", "", statusErr(startResp, "start exec")
	}
	stdout, stderr, err := demuxFrames(startResp.Body)
	if err != nil {
		return 0, "", "", core.ErrExternal("DOCKER_EXEC_STREAM_ERROR", "failed reading exec output").WithCause(err)
	}

	inspectResp, err := c.do(ctx, http.MethodGet, "/exec/"+created.ID+"/json", nil)
	if err != nil {
		return 0, stdout, stderr, err
	}
	defer inspectResp.Body.Close()
	var inspect execInspectResponse
	if err := json.NewDecoder(inspectResp.Body).Decode(&inspect); err != nil {
		return 0, stdout, stderr, core.ErrExternal("DOCKER_BAD_RESPONSE", "unparseable exec-inspect response").WithCause(err)
	}
	return inspect.ExitCode, stdout, stderr, nil
}

// Logs returns the last n lines of container output.
func (c *Client) Logs(ctx context.Context, containerID string, n int) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/containers/%s/logs?stdout=true&stderr=true&tail=%d", containerID, n), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp, "fetch logs")
	}
	stdout, stderr, err := demuxFrames(resp.Body)
	if err != nil {
		return nil, core.ErrExternal("DOCKER_LOG_STREAM_ERROR", "failed reading container logs").WithCause(err)
	}
	var lines []string
	for _, l := range strings.Split(stdout, "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	for _, l := range strings.Split(stderr, "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

type containerListEntry struct {
	ID     string            `json:"Id"`
	Labels map[string]string `json:"Labels"`
	State  string            `json:"State"`
}

// List returns containers carrying all of the given labels, used by
// orphan adoption on supervisor restart (spec §4.4).
func (c *Client) List(ctx context.Context, labels map[string]string) ([]core.ContainerHandle, error) {
	filterPairs := make(map[string][]string)
	for k, v := range labels {
		filterPairs["label"] = append(filterPairs["label"], k+"="+v)
	}
	filtersJSON, err := json.Marshal(filterPairs)
	if err != nil {
		return nil, core.ErrInternal("", "marshaling docker list filters").WithCause(err)
	}

	resp, err := c.do(ctx, http.MethodGet, "/containers/json?all=true&filters="+urlEncode(string(filtersJSON)), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp, "list containers")
	}
	var entries []containerListEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, core.ErrExternal("DOCKER_BAD_RESPONSE", "unparseable list-containers response").WithCause(err)
	}
	out := make([]core.ContainerHandle, len(entries))
	for i, e := range entries {
		out[i] = core.ContainerHandle{ID: e.ID, Labels: e.Labels, State: e.State}
	}
	return out, nil
}

func statusErr(resp *http.Response, action string) error {
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	return core.ErrExternal("DOCKER_BAD_STATUS", fmt.Sprintf("docker engine %s failed: status %d: %s", action, resp.StatusCode, body.String()))
}
