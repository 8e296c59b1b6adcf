package names

import "fmt"

// ParseError reports that a name does not match the grammar of its kind.
type ParseError struct {
	// Kind is the grammar that was applied ("acquisition", "correlator", ...).
	Kind string
	// Name is the rejected input.
	Name string
	// Reason optionally narrows down why the name was rejected.
	Reason string
}

func (e *ParseError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("bad %s name format for %q: %s", e.Kind, e.Name, e.Reason)
	}
	return fmt.Sprintf("bad %s name format for %q", e.Kind, e.Name)
}

// DetectionError reports that no known file type matches a filename.
type DetectionError struct {
	Name    string
	AcqType string
}

func (e *DetectionError) Error() string {
	if e.AcqType == "" {
		return fmt.Sprintf("unrecognised file type for %q", e.Name)
	}
	return fmt.Sprintf("unrecognised file type for %q in %s acquisition", e.Name, e.AcqType)
}
