package prompt

import (
	"strings"

	"defgen/internal/logging"
)

// AssembledInstruction is the ordered result of one assembly run.
type AssembledInstruction struct {
	Sections       []Section      `json:"sections"`
	TokenEstimate  int            `json:"token_estimate"`
	CatalogVersion string         `json:"catalog_version"`
	Context        *ModuleContext `json:"context"`
	Manifest       *Manifest      `json:"manifest"`

	titles map[string]string
}

// Text renders the instruction with the default assembler.
func (a *AssembledInstruction) Text() string {
	return NewFinalAssembler().Render(a)
}

// Constraints returns the sections that carry a required or forbidden pattern.
func (a *AssembledInstruction) Constraints() []Section {
	var out []Section
	for _, s := range a.Sections {
		if s.IsConstraint() {
			out = append(out, s)
		}
	}
	return out
}

// FinalAssembler turns ordered sections into the instruction text.
// Sections of one module form a block; blocks are joined in order.
type FinalAssembler struct {
	// addSectionHeaders prefixes each block with the module title
	addSectionHeaders bool

	// sectionSeparator is inserted between module blocks
	sectionSeparator string

	// lineSeparator is inserted between sections within a block
	lineSeparator string
}

// NewFinalAssembler creates a new assembler with default settings.
func NewFinalAssembler() *FinalAssembler {
	return &FinalAssembler{
		addSectionHeaders: true,
		sectionSeparator:  "\n\n",
		lineSeparator:     "\n",
	}
}

// SetSectionHeaders controls whether module titles are rendered.
func (f *FinalAssembler) SetSectionHeaders(enabled bool) {
	f.addSectionHeaders = enabled
}

// SetSeparators configures the separators between blocks and lines.
func (f *FinalAssembler) SetSeparators(section, line string) {
	f.sectionSeparator = section
	f.lineSeparator = line
}

// Render produces the instruction text. Constraint-only sections carry no
// text and are left out.
func (f *FinalAssembler) Render(a *AssembledInstruction) string {
	timer := logging.StartTimer(logging.CategoryAssembly, "FinalAssembler.Render")
	defer timer.Stop()

	var blocks []string
	var current strings.Builder
	currentModule := ""

	flush := func() {
		if current.Len() > 0 {
			blocks = append(blocks, current.String())
			current.Reset()
		}
	}

	for _, s := range a.Sections {
		if s.Text == "" {
			continue
		}
		if s.OriginModule != currentModule {
			flush()
			currentModule = s.OriginModule
			if title := a.titles[s.OriginModule]; f.addSectionHeaders && title != "" {
				current.WriteString("## ")
				current.WriteString(title)
				current.WriteString(f.lineSeparator)
			}
		} else {
			current.WriteString(f.lineSeparator)
		}
		current.WriteString(s.Text)
	}
	flush()

	return strings.Join(blocks, f.sectionSeparator)
}
