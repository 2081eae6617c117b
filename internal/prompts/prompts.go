// Package prompts loads the assistant's prompt file: persona, fixed replies
// and the templates used for chat, memory summaries and reports.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/goccy/go-yaml"

	"github.com/ent0n29/companion/internal/reliability"
)

type Example struct {
	Situation  string `yaml:"situation"`
	UserInput  string `yaml:"user_input"`
	AIResponse string `yaml:"ai_response"`
}

type Chat struct {
	System       string    `yaml:"system"`
	Persona      []string  `yaml:"persona"`
	CoreRules    []string  `yaml:"core_rules"`
	Guidelines   []string  `yaml:"guidelines"`
	Prohibitions []string  `yaml:"prohibitions"`
	Examples     []Example `yaml:"examples"`
	Template     string    `yaml:"template"`
}

// File mirrors the YAML prompt file.
type File struct {
	Greeting      string   `yaml:"greeting"`
	RetryReply    string   `yaml:"retry_reply"`
	Apology       string   `yaml:"apology"`
	NoMemories    string   `yaml:"no_memories"`
	IgnorePhrases []string `yaml:"ignore_phrases"`
	Chat          Chat     `yaml:"chat"`
	MemorySummary string   `yaml:"memory_summary"`
	LiveReport    string   `yaml:"live_report"`
	DailyReport   string   `yaml:"daily_report"`
}

// Set is a validated prompt file with its templates parsed.
type Set struct {
	File

	chat          *template.Template
	memorySummary *template.Template
	liveReport    *template.Template
	dailyReport   *template.Template
}

// Load reads and validates the prompt file. Any problem is a configuration error.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, reliability.Configuration("load prompts", err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, reliability.Configuration("load prompts", fmt.Errorf("%s: %w", path, err))
	}
	return set, nil
}

func Parse(data []byte) (*Set, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	s := &Set{File: f}
	templates := []struct {
		name string
		src  string
		dst  **template.Template
	}{
		{"chat", f.Chat.Template, &s.chat},
		{"memory_summary", f.MemorySummary, &s.memorySummary},
		{"live_report", f.LiveReport, &s.liveReport},
		{"daily_report", f.DailyReport, &s.dailyReport},
	}
	for _, t := range templates {
		tmpl, err := template.New(t.name).Option("missingkey=error").Parse(t.src)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", t.name, err)
		}
		*t.dst = tmpl
	}
	return s, nil
}

func (f File) validate() error {
	var errs []error
	required := map[string]string{
		"greeting":       f.Greeting,
		"retry_reply":    f.RetryReply,
		"apology":        f.Apology,
		"no_memories":    f.NoMemories,
		"chat.template":  f.Chat.Template,
		"memory_summary": f.MemorySummary,
		"live_report":    f.LiveReport,
		"daily_report":   f.DailyReport,
	}
	for key, v := range required {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	return errors.Join(errs...)
}

// ChatInput is the data the chat template sees.
type ChatInput struct {
	Persona      string
	CoreRules    string
	Guidelines   string
	Prohibitions string
	Examples     []Example
	Memories     string
	Message      string
}

// RenderChat renders the per-turn prompt. memories is the rendered memory
// block, or the no-memories sentinel.
func (s *Set) RenderChat(memories, message string) (string, error) {
	return render(s.chat, ChatInput{
		Persona:      strings.Join(s.Chat.Persona, "\n"),
		CoreRules:    strings.Join(s.Chat.CoreRules, "\n"),
		Guidelines:   strings.Join(s.Chat.Guidelines, "\n"),
		Prohibitions: strings.Join(s.Chat.Prohibitions, "\n"),
		Examples:     s.Chat.Examples,
		Memories:     memories,
		Message:      message,
	})
}

type transcriptInput struct {
	Transcript string
	Keys       []string
}

func (s *Set) RenderMemorySummary(transcript string) (string, error) {
	return render(s.memorySummary, transcriptInput{Transcript: transcript})
}

func (s *Set) RenderLiveReport(transcript string) (string, error) {
	return render(s.liveReport, transcriptInput{Transcript: transcript})
}

// DailyReportRenderer binds the analysis keys the model must return.
func (s *Set) DailyReportRenderer(keys []string) func(string) (string, error) {
	return func(transcript string) (string, error) {
		return render(s.dailyReport, transcriptInput{Transcript: transcript, Keys: keys})
	}
}

// ShouldIgnore reports whether a transcript is empty or one of the known
// phantom phrases speech recognisers emit on silence.
func (s *Set) ShouldIgnore(transcript string) bool {
	t := strings.TrimSpace(transcript)
	if t == "" {
		return true
	}
	for _, p := range s.IgnorePhrases {
		if p != "" && strings.Contains(t, p) {
			return true
		}
	}
	return false
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return strings.TrimSpace(b.String()), nil
}
