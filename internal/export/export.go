package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/intellixa/console/internal/models"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Draft is a viewed session written to disk: a markdown document and the raw
// result next to it.
type Draft struct {
	MarkdownPath string
	ResultPath   string
}

// Write stores the final document of a viewed session under dir.
func Write(dir string, viewed *models.ViewedSession) (*Draft, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	name := fileName(viewed.Entry.SessionID)
	d := &Draft{
		MarkdownPath: filepath.Join(dir, name+".md"),
		ResultPath:   filepath.Join(dir, name+".json"),
	}

	if err := os.WriteFile(d.MarkdownPath, []byte(render(viewed)), 0644); err != nil {
		return nil, fmt.Errorf("failed to write draft: %w", err)
	}

	data, err := json.MarshalIndent(viewed.Result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session result: %w", err)
	}
	if err := os.WriteFile(d.ResultPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write session result: %w", err)
	}

	return d, nil
}

func fileName(sessionID string) string {
	name := strings.Trim(unsafeName.ReplaceAllString(sessionID, "_"), "._")
	if name == "" {
		return "session"
	}
	return name
}

func render(viewed *models.ViewedSession) string {
	var b strings.Builder

	b.WriteString("# Final Draft\n\n")
	fmt.Fprintf(&b, "- Session: `%s`\n", viewed.Entry.SessionID)
	fmt.Fprintf(&b, "- Generated: %s\n", viewed.Entry.Timestamp.Format(time.RFC3339))
	if len(viewed.Result.AgentsExecuted) > 0 {
		fmt.Fprintf(&b, "- Agents: %s\n", strings.Join(viewed.Result.AgentsExecuted, " → "))
	}

	b.WriteString("\n## Goal\n\n")
	goal := viewed.Entry.Goal
	if goal == "" {
		goal = "No goal specified"
	}
	b.WriteString(goal + "\n")

	b.WriteString("\n## Document\n\n")
	b.WriteString(viewed.FinalDocument)
	if !strings.HasSuffix(viewed.FinalDocument, "\n") {
		b.WriteString("\n")
	}

	return b.String()
}
