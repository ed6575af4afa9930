package prompt

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed module_texts.yaml
var moduleTextsSource []byte

// moduleTexts holds the fixed wording of the built-in modules.
type moduleTexts struct {
	Role                  string            `yaml:"role"`
	Templates             map[string]string `yaml:"templates"`
	Task                  string            `yaml:"task"`
	OutputFormat          string            `yaml:"output_format"`
	ContextIntro          string            `yaml:"context_intro"`
	ContextLabels         map[string]string `yaml:"context_labels"`
	DocumentsIntro        string            `yaml:"documents_intro"`
	DocumentsSnippetRunes int               `yaml:"documents_snippet_runes"`
	Complexity            string            `yaml:"complexity"`
	ExamplesIntro         string            `yaml:"examples_intro"`
	PitfallsIntro         string            `yaml:"pitfalls_intro"`
	Grammar               string            `yaml:"grammar"`

	task       *template.Template
	complexity *template.Template
}

var (
	textsOnce sync.Once
	texts     *moduleTexts
	textsErr  error
)

var templateFuncs = template.FuncMap{"join": strings.Join}

func loadModuleTexts() (*moduleTexts, error) {
	textsOnce.Do(func() {
		t := &moduleTexts{}
		dec := yaml.NewDecoder(bytes.NewReader(moduleTextsSource))
		dec.KnownFields(true)
		if err := dec.Decode(t); err != nil {
			textsErr = fmt.Errorf("module texts: %w", err)
			return
		}
		if t.task, textsErr = template.New("task").Funcs(templateFuncs).Parse(t.Task); textsErr != nil {
			return
		}
		if t.complexity, textsErr = template.New("complexity").Funcs(templateFuncs).Parse(t.Complexity); textsErr != nil {
			return
		}
		texts = t
	})
	return texts, textsErr
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return b.String(), nil
}
