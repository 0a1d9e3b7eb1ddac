package proof

import "github.com/lzjever/ledgerseal/internal/core"

// Definition names a section and the terminal actions it accounts for.
type Definition struct {
	Type    core.SectionType
	Actions []string
}

var definitions = []Definition{
	{Type: core.SectionDecisionLedger, Actions: []string{"decision.issued", "closure.completed", "export.generated"}},
	{Type: core.SectionExamIntegrity, Actions: []string{"exam.submitted"}},
	{Type: core.SectionCommerceEvidence, Actions: []string{"quote.accepted", "shipment.delivered", "commission.finalized"}},
}

// Definitions returns the built-in sections.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

func DefinitionFor(t core.SectionType) (Definition, bool) {
	for _, d := range definitions {
		if d.Type == t {
			return d, true
		}
	}
	return Definition{}, false
}

// EvidenceTypes returns the evidence types the definition's actions produce.
func (d Definition) EvidenceTypes() map[core.EvidenceType]bool {
	out := make(map[core.EvidenceType]bool, len(d.Actions))
	for _, a := range d.Actions {
		out[core.TerminalActions[a]] = true
	}
	return out
}
