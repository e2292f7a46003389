package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sabiseeds/Duy-MultiAgents-ClaudeCode/internal/daemon"
)

// client calls a running orchestrator daemon. The base URL comes from
// the same config the daemon reads, so MULTIAGENT_HOST/MULTIAGENT_PORT
// point both sides at the same place.
type client struct {
	base string
	http *http.Client
}

func newClient() (*client, error) {
	cfg, err := daemon.LoadConfig()
	if err != nil {
		return nil, err
	}
	host := cfg.API.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return &client{
		base: fmt.Sprintf("http://%s:%d", host, cfg.API.Port),
		http: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	return decodeResponse(resp, out)
}

func (c *client) post(path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	resp, err := c.http.Post(c.base+path, "application/json", body)
	if err != nil {
		return fmt.Errorf("is the daemon running? %w", err)
	}
	return decodeResponse(resp, out)
}

// decodeResponse unwraps the API error envelope on failure and decodes
// the payload into out on success.
func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope struct {
			Error struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && envelope.Error.Message != "" {
			return fmt.Errorf("%s", envelope.Error.Message)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
