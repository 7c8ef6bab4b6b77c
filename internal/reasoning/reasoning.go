// Package reasoning performs the optional LLM step of process discovery:
// grouping raw processes into named logical systems.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"text/template"
	"time"

	"opsatlas/internal/inventory"
)

// Config contains configuration for the LLM service
type Config struct {
	APIKey string
	APIURL string
	Model  string
}

// Service handles LLM interactions for process identification
type Service struct {
	apiKey     string
	apiURL     string
	model      string
	httpClient *http.Client
}

// NewService creates a new reasoning service
func NewService(cfg Config) (*Service, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	return &Service{
		apiKey: cfg.APIKey,
		apiURL: cfg.APIURL,
		model:  cfg.Model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}, nil
}

const promptTemplate = `You are an expert infrastructure engineer. Below is a list of processes currently running on a host, as JSON. Group them into the logical systems they implement (databases, web servers, message brokers, applications, and so on).

Process list:
{{.ProcessJSON}}

Respond ONLY with a JSON object in this exact format, with no text before or after it:

{
  "systems": [
    {
      "name": "Human-readable system name, e.g. 'PostgreSQL'",
      "kind": "one of: database | cache | web-server | message-broker | container-runtime | monitoring | search | remote-access | application | other",
      "pids": [list of integer PIDs from the input that belong to this system],
      "confidence": 0.0 to 1.0
    }
  ]
}

Rules:
1. Use ONLY PIDs that appear in the input.
2. A PID belongs to at most one system.
3. Omit kernel threads and processes you cannot attribute to any system.
4. Prefer fewer, well-named systems over many vague ones.`

// buildPrompt renders the identification prompt for a process list
func (s *Service) buildPrompt(procs []inventory.Process) (string, error) {
	processJSON, err := json.MarshalIndent(procs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal process list: %w", err)
	}

	tmpl, err := template.New("prompt").Parse(promptTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt template: %w", err)
	}

	var buf bytes.Buffer
	data := struct{ ProcessJSON string }{ProcessJSON: string(processJSON)}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// IdentifySystems asks the LLM to group the processes into systems
func (s *Service) IdentifySystems(ctx context.Context, procs []inventory.Process) ([]inventory.System, error) {
	log.Printf("Generating identification prompt for %d processes", len(procs))
	prompt, err := s.buildPrompt(procs)
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	log.Printf("Calling LLM API at %s with model %s", s.apiURL, s.model)
	responseText, err := s.callLLM(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to call LLM: %w", err)
	}

	systems, err := s.parseResponse(responseText, procs)
	if err != nil {
		return nil, fmt.Errorf("failed to parse LLM response: %w", err)
	}
	return systems, nil
}

// callLLM makes the API call to an OpenAI-compatible chat endpoint
func (s *Service) callLLM(ctx context.Context, prompt string) (string, error) {
	requestBody := map[string]interface{}{
		"model": s.model,
		"messages": []map[string]string{
			{
				"role":    "system",
				"content": "You are an infrastructure analysis assistant. Always respond with valid JSON only.",
			},
			{
				"role":    "user",
				"content": prompt,
			},
		},
		"max_completion_tokens": 2000,
	}

	jsonBody, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.apiURL, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.apiKey))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("LLM API returned status %d: %s", resp.StatusCode, string(body))
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("failed to unmarshal API response: %w", err)
	}
	if apiResponse.Error != nil {
		return "", fmt.Errorf("LLM API error: %s", apiResponse.Error.Message)
	}
	if len(apiResponse.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}

	return apiResponse.Choices[0].Message.Content, nil
}

// parseResponse decodes and validates the LLM's system list
func (s *Service) parseResponse(responseText string, procs []inventory.Process) ([]inventory.System, error) {
	responseText = strings.TrimSpace(responseText)

	// Strip markdown code fences if the model added them
	if strings.HasPrefix(responseText, "```") {
		responseText = strings.TrimPrefix(responseText, "```json")
		responseText = strings.TrimPrefix(responseText, "```")
		responseText = strings.TrimSuffix(responseText, "```")
		responseText = strings.TrimSpace(responseText)
	}

	var decoded struct {
		Systems []struct {
			Name       string  `json:"name"`
			Kind       string  `json:"kind"`
			PIDs       []int32 `json:"pids"`
			Confidence float64 `json:"confidence"`
		} `json:"systems"`
	}
	if err := json.Unmarshal([]byte(responseText), &decoded); err != nil {
		// Fall back to the outermost JSON object in the text
		startIdx := strings.Index(responseText, "{")
		endIdx := strings.LastIndex(responseText, "}")
		if startIdx < 0 || endIdx <= startIdx {
			return nil, fmt.Errorf("response is not JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(responseText[startIdx:endIdx+1]), &decoded); err != nil {
			return nil, fmt.Errorf("response is not JSON: %w", err)
		}
	}

	validPIDs := make(map[int32]bool, len(procs))
	for _, p := range procs {
		validPIDs[p.PID] = true
	}

	var systems []inventory.System
	for i, sys := range decoded.Systems {
		if sys.Name == "" {
			return nil, fmt.Errorf("system %d has no name", i)
		}
		if sys.Confidence < 0 || sys.Confidence > 1 {
			return nil, fmt.Errorf("system %q has confidence %f outside [0,1]", sys.Name, sys.Confidence)
		}

		entry := inventory.System{
			Name:       sys.Name,
			Kind:       sys.Kind,
			Confidence: sys.Confidence,
		}
		for _, pid := range sys.PIDs {
			// Hallucinated PIDs are discarded, not fatal
			if validPIDs[pid] {
				entry.PIDs = append(entry.PIDs, pid)
			}
		}
		if len(entry.PIDs) == 0 {
			continue
		}
		systems = append(systems, entry)
	}

	return systems, nil
}
