package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"chartflow/internal/config"
)

type commandContext struct {
	apiFlag    *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error

	client *http.Client
}

func newCommandContext(apiFlag, configFlag *string) *commandContext {
	return &commandContext{
		apiFlag:    apiFlag,
		configFlag: configFlag,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// apiBase resolves the ingestion API base URL from the --api flag or, failing
// that, the configuration. All CLI commands talk to the origin instance.
func (c *commandContext) apiBase() (string, error) {
	if c.apiFlag != nil {
		if base := strings.TrimSpace(*c.apiFlag); base != "" {
			return strings.TrimRight(base, "/"), nil
		}
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	if base := strings.TrimSpace(cfg.Stages.IngestionURL); base != "" {
		return strings.TrimRight(base, "/"), nil
	}
	if bind := strings.TrimSpace(cfg.Paths.APIBind); bind != "" {
		return "http://" + bind, nil
	}
	return "", fmt.Errorf("no ingestion API address configured; set stages.ingestion_url or pass --api")
}

func (c *commandContext) url(path string) (string, error) {
	base, err := c.apiBase()
	if err != nil {
		return "", err
	}
	return base + path, nil
}

// getJSON issues a GET and decodes the response body into out.
func (c *commandContext) getJSON(path string, out any) error {
	target, err := c.url(path)
	if err != nil {
		return err
	}
	resp, err := c.client.Get(target)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	return decodeResponse(resp, out)
}

// do issues a body-less request (POST, DELETE) and decodes the response.
func (c *commandContext) do(method, path string, out any) error {
	target, err := c.url(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return apiError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, payload.Error)
	}
	detail := strings.TrimSpace(string(body))
	if detail == "" {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return fmt.Errorf("%s: %s", resp.Status, detail)
}
