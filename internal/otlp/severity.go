package otlp

var severityNames = [...]string{
	"Unspecified",
	"Trace", "Trace2", "Trace3", "Trace4",
	"Debug", "Debug2", "Debug3", "Debug4",
	"Info", "Info2", "Info3", "Info4",
	"Warn ", "Warn2", "Warn3", "Warn4",
	"Error", "Error2", "Error3", "Error4",
	"Fatal", "Fatal2", "Fatal3", "Fatal4",
}

// SeverityText returns the display name of an OTLP severity number. Values
// outside 0..24 are Unspecified. The name for 13 keeps its trailing space for
// compatibility with stored data.
func SeverityText(n int32) string {
	if n < 0 || int(n) >= len(severityNames) {
		return severityNames[0]
	}
	return severityNames[n]
}
