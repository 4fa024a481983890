// Command contracting-cli is the terminal client for the generation and
// phase-gate API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var apiBase string

func main() {
	// Ignore error if .env doesn't exist.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:     "contracting-cli",
		Short:   "Generate and gate procurement artifacts",
		Version: version,
	}
	defaultBase := os.Getenv("CONTRACTING_API")
	if defaultBase == "" {
		defaultBase = "http://localhost:8090"
	}
	root.PersistentFlags().StringVar(&apiBase, "api", defaultBase, "API base URL")

	root.AddCommand(
		newProjectCmd(),
		newGenerateCmd(),
		newBatchCmd(),
		newPhaseCmd(),
		newKnowledgeCmd(),
		newLineageCmd(),
		newConsistencyCmd(),
		newTaskCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type apiClient struct {
	base string
	http *http.Client
}

func newClient() *apiClient {
	return &apiClient{base: apiBase, http: &http.Client{Timeout: 60 * time.Second}}
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("api returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) get(path string, out interface{}) error {
	return c.do(http.MethodGet, path, nil, out)
}

func (c *apiClient) post(path string, body, out interface{}) error {
	return c.do(http.MethodPost, path, body, out)
}

func (c *apiClient) delete(path string, out interface{}) error {
	return c.do(http.MethodDelete, path, nil, out)
}

// rawGet fetches a path and returns the body bytes unparsed.
func (c *apiClient) rawGet(path string) ([]byte, error) {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return nil, fmt.Errorf("call api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	return io.ReadAll(resp.Body)
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
