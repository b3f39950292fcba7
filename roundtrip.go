package edimig

import (
	"errors"
	"fmt"
	"strconv"
)

// MappedNachricht is the BO4E rendition of one UNH/UNT message:
// header identity, the entities mapped from message-level segments,
// and one object per transaction.
type MappedNachricht struct {
	UnhReferenz        string           `json:"unhReferenz"`
	NachrichtenTyp     string           `json:"nachrichtenTyp"`
	Pruefidentifikator string           `json:"pruefidentifikator,omitempty"`
	Stammdaten         map[string]any   `json:"stammdaten,omitempty"`
	Transaktionen      []map[string]any `json:"transaktionen,omitempty"`
}

// MappedMessage is the BO4E envelope for a whole interchange.
type MappedMessage struct {
	Nachrichtendaten map[string]any    `json:"nachrichtendaten,omitempty"`
	Nachrichten      []MappedNachricht `json:"nachrichten"`
}

// ConversionResult bundles the mapped output with everything found on
// the way: per-message validation reports and structural diagnostics.
type ConversionResult struct {
	Mapped      *MappedMessage      `json:"mapped"`
	Reports     []*ValidationReport `json:"reports,omitempty"`
	Diagnostics []Diagnostic        `json:"diagnostics,omitempty"`
}

// Roundtrip tokenizes, splits, assembles, disassembles and re-renders
// an interchange without mapping. With an unchanged MIG the output is
// byte-identical to the input, UNA advice and newline style included;
// it is the self-test for the structural half of the pipeline.
func Roundtrip(data []byte, mig *Mig) ([]byte, error) {
	raw, err := Tokenize(data)
	if err != nil {
		return nil, err
	}
	inter, err := SplitInterchange(raw)
	if err != nil {
		return nil, err
	}

	var out []DisassembledSegment
	if inter.Header != nil {
		out = append(out, flattenSegment(*inter.Header))
	}
	for i := range inter.Messages {
		tree, _ := AssembleMessage(&inter.Messages[i], mig)
		out = append(out, Disassemble(tree, mig)...)
	}
	if inter.Trailer != nil {
		out = append(out, flattenSegment(*inter.Trailer))
	}
	return Render(out, raw.Delimiters, raw.Newline), nil
}

func flattenSegment(seg Segment) DisassembledSegment {
	return DisassembledSegment{Tag: seg.Tag, Elements: seg.Elements}
}

// Converter is the top-level facade: EDIFACT bytes in, BO4E JSON
// structures out, and back. It is stateless apart from the registry
// and safe for concurrent use.
type Converter struct {
	registry *Registry
}

func NewConverter(registry *Registry) *Converter {
	return &Converter{registry: registry}
}

// ToBo4e converts an EDIFACT interchange to its BO4E form. Mapping
// and validation findings accumulate in the result; the returned error
// covers only failures that prevent conversion (unparseable input,
// missing schemas).
func (c *Converter) ToBo4e(data []byte, fv FormatVersion) (*ConversionResult, error) {
	raw, err := Tokenize(data)
	if err != nil {
		return nil, err
	}
	inter, err := SplitInterchange(raw)
	if err != nil {
		return nil, err
	}
	if len(inter.Messages) == 0 {
		return nil, fmt.Errorf("%w: interchange carries no messages", ErrInvalidMessage)
	}

	bundle, err := c.registry.Bundle(inter.Messages[0].MessageType, fv)
	if err != nil {
		return nil, err
	}

	result := &ConversionResult{Mapped: &MappedMessage{}}
	if header := inter.InterchangeHeader(); header != nil {
		result.Mapped.Nachrichtendaten = map[string]any{
			"absender":            header.SenderID,
			"absenderCodeliste":   header.SenderQualifier,
			"empfaenger":          header.RecipientID,
			"empfaengerCodeliste": header.RecipientQualifier,
			"erstellungsdatum":    header.Date,
			"erstellungszeit":     header.Time,
			"referenz":            header.ControlReference,
		}
	}

	for i := range inter.Messages {
		msg := &inter.Messages[i]
		nachricht, diags, err := c.mapOne(msg, bundle)
		if err != nil {
			return nil, err
		}
		result.Diagnostics = append(result.Diagnostics, diags...)

		if bundle.Ahb != nil && nachricht.Pruefidentifikator != "" {
			report, err := bundle.Validator().Validate(msg, nachricht.Pruefidentifikator, LevelFull)
			if err != nil && !errors.Is(err, ErrUnknownPid) {
				return nil, err
			}
			if report != nil {
				result.Reports = append(result.Reports, report)
			}
		}
		result.Mapped.Nachrichten = append(result.Mapped.Nachrichten, *nachricht)
	}
	return result, nil
}

func (c *Converter) mapOne(msg *MessageChunk, bundle *Bundle) (*MappedNachricht, []Diagnostic, error) {
	nachricht := &MappedNachricht{
		UnhReferenz:    msg.Reference,
		NachrichtenTyp: msg.MessageType,
	}

	pid, err := DetectPid(msg, bundle.PidTable)
	if err != nil && !errors.Is(err, ErrPidNotDetected) {
		return nil, nil, err
	}
	nachricht.Pruefidentifikator = pid

	mig := bundle.Mig
	if bundle.Ahb != nil && pid != "" {
		if workflow := bundle.Ahb.Workflow(pid); workflow != nil {
			mig = mig.FilterForPid(workflow)
		}
	}
	tree, diags := AssembleMessage(msg, mig)

	if bundle.MessageEngine != nil {
		stammdaten, mapDiags := bundle.MessageEngine.Forward(tree)
		diags = append(diags, mapDiags...)
		if len(stammdaten) > 0 {
			nachricht.Stammdaten = stammdaten
		}
	}
	if pid != "" {
		if engine, ok := bundle.TransactionEngines[pid]; ok {
			transaktion, mapDiags := engine.Forward(tree)
			diags = append(diags, mapDiags...)
			if len(transaktion) > 0 {
				nachricht.Transaktionen = []map[string]any{transaktion}
			}
		}
	}
	return nachricht, diags, nil
}

// FromBo4e converts a BO4E envelope back to an EDIFACT interchange.
// The UNH/UNT frame is rebuilt from the mapped identity; the UNT
// segment count is computed, never trusted from the input.
func (c *Converter) FromBo4e(mapped *MappedMessage, messageType string, fv FormatVersion) ([]byte, error) {
	bundle, err := c.registry.Bundle(messageType, fv)
	if err != nil {
		return nil, err
	}

	var out []DisassembledSegment
	var errs []error
	for i := range mapped.Nachrichten {
		nachricht := &mapped.Nachrichten[i]
		segments, err := c.renderNachricht(nachricht, bundle)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, segments...)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	d := DefaultDelimiters()
	return Render(out, d, ""), nil
}

func (c *Converter) renderNachricht(nachricht *MappedNachricht, bundle *Bundle) ([]DisassembledSegment, error) {
	tree := &AssembledTree{}
	if bundle.MessageEngine != nil && nachricht.Stammdaten != nil {
		if err := bundle.MessageEngine.ReverseInto(nachricht.Stammdaten, tree); err != nil {
			return nil, err
		}
	}
	if nachricht.Pruefidentifikator != "" && len(nachricht.Transaktionen) > 0 {
		engine, err := bundle.TransactionEngine(nachricht.Pruefidentifikator)
		if err != nil {
			return nil, err
		}
		for _, transaktion := range nachricht.Transaktionen {
			if err := engine.ReverseInto(transaktion, tree); err != nil {
				return nil, err
			}
		}
	}
	pruneEmptySegments(tree, bundle.Mig)

	body := Disassemble(tree, bundle.Mig)
	messageType := nachricht.NachrichtenTyp
	if messageType == "" {
		messageType = bundle.MessageType
	}

	segments := make([]DisassembledSegment, 0, len(body)+2)
	segments = append(segments, DisassembledSegment{
		Tag: unhSegmentID,
		Elements: [][]string{
			{nachricht.UnhReferenz},
			{messageType, "D", "11A", "UN"},
		},
	})
	segments = append(segments, body...)
	segments = append(segments, DisassembledSegment{
		Tag: untSegmentID,
		Elements: [][]string{
			{strconv.Itoa(len(body) + 2)},
			{nachricht.UnhReferenz},
		},
	})
	return segments, nil
}
