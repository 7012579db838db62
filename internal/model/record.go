package model

import "maps"

// Frame categories written to the sinks.
const (
	CategoryMeta    = "meta_information"
	CategoryContent = "page_content"
	CategoryLog     = "EXT"
)

// Record fields the relay reads or stamps.
const (
	FieldVisitID = "visit_id"
	FieldURL     = "url"
)

// Sentinels for the navigations exception.
const (
	InstrumentNavigations = "navigations"
	BlankPageURL          = "about:blank"
)

// UnmatchedVisitID is stamped on records sent while no visit is active.
const UnmatchedVisitID int64 = -1

// Record is one instrumentation event. Fields other than visit_id are
// opaque to the relay.
type Record map[string]any

// WithVisitID returns a shallow copy of r with visit_id set.
func (r Record) WithVisitID(id int64) Record {
	out := make(Record, len(r)+1)
	maps.Copy(out, r)
	out[FieldVisitID] = id
	return out
}

// IsBlankNavigation reports whether r targets the blank page.
func (r Record) IsBlankNavigation(instrument string) bool {
	if instrument != InstrumentNavigations {
		return false
	}
	url, _ := r[FieldURL].(string)
	return url == BlankPageURL
}
