package morphz

import "fmt"

// Level classifies the severity of a notice attached to an element.
type Level string

// Notice severity levels, ordered from least to most severe.
const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// Notice is a severity-tagged annotation accumulated on an element as
// it moves through chains. Failed any-chain attempts leave warnings,
// failing events and rejected verifications leave errors, and user
// events may attach their own notices for downstream inspection.
//
// Notices are records, not control flow: attaching one never changes
// an outcome. Use Result.ElementsWith to select elements by the levels
// they accumulated.
type Notice struct {
	Message string
	Level   Level
}

// String formats the notice as "LEVEL: message".
func (n Notice) String() string {
	return fmt.Sprintf("%s: %s", n.Level, n.Message)
}
