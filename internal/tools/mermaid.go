package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"drawbridge/internal/llm"
)

// MermaidCheckName is the capability name the model requests.
const MermaidCheckName = "mermaid_syntax_check"

// MermaidConfig configures the Mermaid CLI validator.
type MermaidConfig struct {
	Command string // mmdc binary name or path
	Timeout time.Duration
}

// MermaidCheck validates Mermaid source by rendering it with the Mermaid CLI.
// The validator runs under a hard timeout, and every failure mode collapses
// into {"valid": false, "error": ...} so the loop never aborts on it.
type MermaidCheck struct {
	cfg    MermaidConfig
	logger *zap.Logger
}

// NewMermaidCheck builds the diagram-validation capability.
func NewMermaidCheck(cfg MermaidConfig, logger *zap.Logger) *MermaidCheck {
	if cfg.Command == "" {
		cfg.Command = "mmdc"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &MermaidCheck{cfg: cfg, logger: logger}
}

// Spec implements Tool.
func (m *MermaidCheck) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name: MermaidCheckName,
		Description: "Validate Mermaid diagram source. Returns {\"valid\": bool, \"error\": string|null}. " +
			"Always validate generated diagrams and fix reported errors before answering.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"mermaid_code": map[string]any{
					"type":        "string",
					"description": "The Mermaid diagram source to validate",
				},
			},
			"required": []string{"mermaid_code"},
		},
	}
}

type checkResult struct {
	Valid bool    `json:"valid"`
	Error *string `json:"error"`
}

func (r checkResult) String() string {
	b, _ := json.Marshal(r)
	return string(b)
}

func invalid(msg string) string {
	return checkResult{Valid: false, Error: &msg}.String()
}

// Invoke implements Tool. The returned string is the JSON check result; the
// error return is reserved for malformed arguments.
func (m *MermaidCheck) Invoke(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Code string `json:"mermaid_code"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse mermaid_syntax_check arguments: %w", err)
	}
	if strings.TrimSpace(params.Code) == "" {
		return invalid("empty diagram source"), nil
	}

	cli, err := exec.LookPath(m.cfg.Command)
	if err != nil {
		return invalid("Mermaid CLI not found"), nil
	}

	tmpDir, err := os.MkdirTemp("", "mermaid-check-")
	if err != nil {
		m.logger.Error("Failed to create temp dir for mermaid check", zap.Error(err))
		return invalid("validator unavailable"), nil
	}
	defer os.RemoveAll(tmpDir)

	srcPath := filepath.Join(tmpDir, "diagram.mmd")
	outPath := filepath.Join(tmpDir, "out.svg")
	if err := os.WriteFile(srcPath, []byte(params.Code), 0o600); err != nil {
		m.logger.Error("Failed to write diagram source", zap.Error(err))
		return invalid("validator unavailable"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, cli, "-i", srcPath, "-o", outPath)
	output, err := cmd.CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return invalid("validation timed out"), nil
	}
	if err != nil {
		return invalid(CleanValidatorError(string(output))), nil
	}
	return checkResult{Valid: true}.String(), nil
}

// Validator output can embed host paths (the CLI prints the temp file it
// failed on). Those never reach the model.
var (
	fileURLPattern  = regexp.MustCompile(`file://+[^\s\n]+`)
	winPathPattern  = regexp.MustCompile(`[A-Za-z]:\\[^\s\n]+`)
	unixPathPattern = regexp.MustCompile(`(?:/[\w.@-]+){2,}`)
	emptyParens     = regexp.MustCompile(`\(\s*\)`)
	multiSpace      = regexp.MustCompile(`\s{2,}`)
)

// CleanValidatorError strips local filesystem paths from validator output
// while preserving the actual parser error details.
func CleanValidatorError(errText string) string {
	if errText == "" {
		return "validation failed"
	}
	errText = fileURLPattern.ReplaceAllString(errText, "(path)")
	errText = winPathPattern.ReplaceAllString(errText, "(path)")
	errText = unixPathPattern.ReplaceAllString(errText, "(path)")
	errText = emptyParens.ReplaceAllString(errText, "")
	errText = multiSpace.ReplaceAllString(errText, " ")
	errText = strings.TrimSpace(errText)
	if errText == "" {
		return "validation failed"
	}
	return errText
}
