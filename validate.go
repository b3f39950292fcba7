package edimig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var ErrNoEvaluator = errors.New("no condition evaluator registered")

// Issue codes produced by validation on top of the structural
// diagnostic codes.
const (
	IssueMissingRequired  = "MISSING_REQUIRED"
	IssueCodeNotAllowed   = "CODE_NOT_ALLOWED"
	IssueUnknownCondition = "UNKNOWN_CONDITION"
)

// Severity grades a validation issue.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "Info"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	}
	return fmt.Sprintf("Severity(%d)", uint8(s))
}

func (s Severity) GoString() string {
	return fmt.Sprintf("Severity(%s)", s)
}

func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// IssueCategory names the validation layer an issue came from.
type IssueCategory uint8

const (
	// CategoryStructure marks diagnostics from the MIG-shape assembly
	CategoryStructure IssueCategory = iota
	// CategoryCondition marks AHB field-rule findings
	CategoryCondition
	// CategoryEnvelope marks UNH/UNT cross-check findings
	CategoryEnvelope
)

func (c IssueCategory) String() string {
	switch c {
	case CategoryStructure:
		return "Structure"
	case CategoryCondition:
		return "Condition"
	case CategoryEnvelope:
		return "Envelope"
	}
	return fmt.Sprintf("IssueCategory(%d)", uint8(c))
}

func (c IssueCategory) GoString() string {
	return fmt.Sprintf("IssueCategory(%s)", c)
}

func (c IssueCategory) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// ValidationLevel selects how deep a validation run goes.
type ValidationLevel uint8

const (
	// LevelStructure checks MIG shape only
	LevelStructure ValidationLevel = iota
	// LevelConditions additionally evaluates AHB field rules
	LevelConditions
	// LevelFull is LevelConditions plus envelope cross-checks
	LevelFull
)

func (l ValidationLevel) String() string {
	switch l {
	case LevelStructure:
		return "Structure"
	case LevelConditions:
		return "Conditions"
	case LevelFull:
		return "Full"
	}
	return fmt.Sprintf("ValidationLevel(%d)", uint8(l))
}

// ValidationError wraps a failure that prevents validation from
// running at all, as opposed to issues found by a run.
type ValidationError struct {
	Pid string
	Err error
}

func (e *ValidationError) Error() string {
	if e.Pid != "" {
		return fmt.Sprintf("[pid: %s]: %s", e.Pid, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ValidationIssue is one finding. Errors mark the message as not
// valid; warnings and infos do not.
type ValidationIssue struct {
	Severity Severity      `json:"severity"`
	Category IssueCategory `json:"category"`
	Code     string        `json:"code"`
	// Path is the AHB rule path or MIG path concerned
	Path          string `json:"path,omitempty"`
	Message       string `json:"message"`
	SegmentNumber int    `json:"segmentNumber,omitempty"`
	// Condition holds the three-valued outcome for condition-derived
	// issues
	Condition ConditionResult `json:"condition,omitempty"`
}

// ValidationSummary counts a report's issues per severity.
type ValidationSummary struct {
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
	Infos    int `json:"infos"`
}

// ValidationReport is the ordered list of issues from one run. Issues
// keep insertion order; the same input always yields the same report
// apart from the generated ID.
type ValidationReport struct {
	ID            string            `json:"id"`
	Pid           string            `json:"pid,omitempty"`
	MessageType   string            `json:"messageType,omitempty"`
	FormatVersion FormatVersion     `json:"formatVersion,omitempty"`
	Level         ValidationLevel   `json:"-"`
	Summary       ValidationSummary `json:"summary"`
	Issues        []ValidationIssue `json:"issues"`
}

func newValidationReport(pid, messageType string, fv FormatVersion, level ValidationLevel) *ValidationReport {
	return &ValidationReport{
		ID:            uuid.NewString(),
		Pid:           pid,
		MessageType:   messageType,
		FormatVersion: fv,
		Level:         level,
	}
}

func (r *ValidationReport) add(issue ValidationIssue) {
	r.Issues = append(r.Issues, issue)
	switch issue.Severity {
	case SeverityError:
		r.Summary.Errors++
	case SeverityWarning:
		r.Summary.Warnings++
	default:
		r.Summary.Infos++
	}
}

func (r *ValidationReport) Errors() int   { return r.Summary.Errors }
func (r *ValidationReport) Warnings() int { return r.Summary.Warnings }
func (r *ValidationReport) Infos() int    { return r.Summary.Infos }

// Valid reports whether the run found no Error-grade issues.
func (r *ValidationReport) Valid() bool {
	return r.Errors() == 0
}

// Validator checks one assembled message against a PID workflow: the
// structural diagnostics from assembly plus the AHB field rules
// evaluated through the condition engine.
type Validator struct {
	Mig           *Mig
	Ahb           *Ahb
	Evaluator     *ConditionEvaluator
	FormatVersion FormatVersion
}

func NewValidator(mig *Mig, ahb *Ahb, evaluator *ConditionEvaluator) *Validator {
	v := &Validator{Mig: mig, Ahb: ahb, Evaluator: evaluator}
	if mig != nil {
		v.FormatVersion = FormatVersion(mig.FormatVersion)
	}
	return v
}

// Validate runs the given level against one message chunk. The
// returned error signals that validation could not run (unknown PID,
// missing evaluator); findings of the run itself land in the report.
func (v *Validator) Validate(msg *MessageChunk, pid string, level ValidationLevel) (*ValidationReport, error) {
	workflow := v.Ahb.Workflow(pid)
	if workflow == nil {
		return nil, &ValidationError{Pid: pid, Err: ErrUnknownPid}
	}
	filtered := v.Mig.FilterForPid(workflow)
	tree, diags := AssembleMessage(msg, filtered)
	report := newValidationReport(pid, msg.MessageType, v.FormatVersion, level)

	for _, d := range diags {
		report.add(ValidationIssue{
			Severity:      SeverityWarning,
			Category:      CategoryStructure,
			Code:          d.Code,
			Path:          d.Path,
			Message:       d.Message,
			SegmentNumber: d.SegmentNumber,
		})
	}
	if level == LevelStructure {
		return report, nil
	}

	ctx := &ConditionContext{Message: msg, Tree: tree, Pid: pid}
	nav := NewGroupNavigator(tree)
	for _, rule := range workflow.Rules {
		if err := v.checkRule(rule, filtered, nav, ctx, report); err != nil {
			return nil, &ValidationError{Pid: pid, Err: err}
		}
	}

	if level == LevelFull {
		v.checkTrailer(msg, report)
	}
	return report, nil
}

// checkRule evaluates one AHB field rule. A Muss/X whose condition
// holds demands a non-empty value; allowed-code sets are checked on
// whatever values are present; an Unknown outcome is reported as an
// Info so callers can route it to an external provider.
func (v *Validator) checkRule(
	rule AhbFieldRule,
	mig *Mig,
	nav *GroupNavigator,
	ctx *ConditionContext,
	report *ValidationReport,
) error {
	status, err := ParseAhbStatus(rule.Status)
	if err != nil {
		return fmt.Errorf("rule %s: %w", rule.Path, err)
	}
	if status.Expr != nil && v.Evaluator == nil {
		return fmt.Errorf("rule %s: %w", rule.Path, ErrNoEvaluator)
	}

	result := ResultTrue
	if status.Expr != nil {
		result = v.Evaluator.Evaluate(status.Expr, ctx)
	}
	if result == ResultUnknown {
		report.add(ValidationIssue{
			Severity:  SeverityInfo,
			Category:  CategoryCondition,
			Code:      IssueUnknownCondition,
			Path:      rule.Path,
			Message:   fmt.Sprintf("condition %s could not be decided", status.Expr),
			Condition: ResultUnknown,
		})
		return nil
	}
	if result == ResultFalse {
		return nil
	}

	groupPath, tag, elementID, ok := splitRulePath(rule.Path)
	if !ok {
		return fmt.Errorf("rule path %q is not group/SEG/element", rule.Path)
	}
	spec := mig.SegmentAt(groupPath, tag)
	if spec == nil {
		// The PID filter removed the position; nothing to check.
		return nil
	}
	field, comp := spec.FieldByID(elementID)
	if field == nil {
		return nil
	}
	if comp < 0 {
		comp = 0
	}

	values, numbers := collectRuleValues(nav, groupPath, tag, field.Position, comp)
	if status.Keyword.IsMandatory() && len(values) == 0 {
		report.add(ValidationIssue{
			Severity:  SeverityError,
			Category:  CategoryCondition,
			Code:      IssueMissingRequired,
			Path:      rule.Path,
			Message:   fmt.Sprintf("%s is required for this workflow but empty", rule.Path),
			Condition: result,
		})
		return nil
	}
	if len(rule.Codes) == 0 {
		return nil
	}
	for i, value := range values {
		if sliceContains(rule.Codes, value) {
			continue
		}
		report.add(ValidationIssue{
			Severity:      SeverityWarning,
			Category:      CategoryCondition,
			Code:          IssueCodeNotAllowed,
			Path:          rule.Path,
			Message:       fmt.Sprintf("%s carries %q, allowed: %s", rule.Path, value, strings.Join(rule.Codes, ", ")),
			SegmentNumber: numbers[i],
			Condition:     result,
		})
	}
	return nil
}

// checkTrailer cross-checks the UNT trailer against the body: the
// declared segment count and the message reference must both line up
// with UNH.
func (v *Validator) checkTrailer(msg *MessageChunk, report *ValidationReport) {
	if msg.Header.Tag != unhSegmentID || msg.Trailer.Tag != untSegmentID {
		return
	}
	declared := msg.Trailer.Component(untIndexSegmentCount, 0)
	actual := fmt.Sprintf("%d", len(msg.Body)+2)
	if declared != "" && declared != actual {
		report.add(ValidationIssue{
			Severity:      SeverityError,
			Category:      CategoryEnvelope,
			Code:          "SEGMENT_COUNT_MISMATCH",
			Message:       fmt.Sprintf("UNT declares %s segments, message has %s", declared, actual),
			SegmentNumber: msg.Trailer.Number,
		})
	}
	headerRef := msg.Header.Component(unhIndexReference, 0)
	trailerRef := msg.Trailer.Component(untIndexReference, 0)
	if headerRef != trailerRef {
		report.add(ValidationIssue{
			Severity:      SeverityError,
			Category:      CategoryEnvelope,
			Code:          "MESSAGE_REF_MISMATCH",
			Message:       fmt.Sprintf("UNH reference %q does not match UNT reference %q", headerRef, trailerRef),
			SegmentNumber: msg.Trailer.Number,
		})
	}
}

// splitRulePath splits `SG2/NAD/3035` into group path, segment tag and
// element ID. A two-part path addresses a message-level segment.
func splitRulePath(path string) (groupPath []string, tag, elementID string, ok bool) {
	parts := strings.Split(path, pathSeparator)
	if len(parts) < 2 {
		return nil, "", "", false
	}
	return parts[:len(parts)-2], parts[len(parts)-2], parts[len(parts)-1], true
}

// collectRuleValues gathers the non-empty values of one element slot
// across every repetition reachable through the group path, paired
// with the owning segment numbers.
func collectRuleValues(nav *GroupNavigator, groupPath []string, tag string, elem, comp int) ([]string, []int) {
	var values []string
	var numbers []int
	for _, seg := range nav.Segments(groupPath, -1, tag) {
		value := seg.Component(elem, comp)
		if value == "" {
			continue
		}
		values = append(values, value)
		numbers = append(numbers, seg.Number)
	}
	return values, numbers
}
