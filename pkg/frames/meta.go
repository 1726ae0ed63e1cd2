package frames

// Well-known metadata keys carried on frames.
const (
	MetaSessionID = "session_id"
	MetaTurnID    = "turn_id"
	MetaSource    = "source"
	MetaReason    = "reason"
	MetaIsFinal   = "is_final"
	MetaState     = "state"
	MetaMessage   = "message"
	MetaLabel     = "label"
	MetaPercent   = "percent"
	MetaLanguage  = "language"
)
