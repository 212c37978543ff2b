package models

// PageLayout maps a dashboard group (top, left, right) to its ordered block ids
type PageLayout map[string][]string

// Clone returns a deep copy of the layout
func (l PageLayout) Clone() PageLayout {
	out := make(PageLayout, len(l))
	for group, blocks := range l {
		out[group] = append([]string(nil), blocks...)
	}
	return out
}

// Preference holds per-user settings persisted as a single JSON blob
type Preference struct {
	UserID               int64      `json:"user_id"`
	MyPageLayout         PageLayout `json:"my_page_layout,omitempty"`
	NoSelfNotified       bool       `json:"no_self_notified"`
	HideMail             bool       `json:"hide_mail"`
	TimeZone             string     `json:"time_zone,omitempty"`
	CommentsSorting      string     `json:"comments_sorting,omitempty"`
	WarnOnLeavingUnsaved bool       `json:"warn_on_leaving_unsaved"`
	Theme                string     `json:"theme,omitempty"`
}

// PreferenceAttributes is the writable subset of preferences
type PreferenceAttributes struct {
	HideMail             *bool   `json:"hide_mail,omitempty"`
	TimeZone             *string `json:"time_zone,omitempty"`
	CommentsSorting      *string `json:"comments_sorting,omitempty"`
	WarnOnLeavingUnsaved *bool   `json:"warn_on_leaving_unsaved,omitempty"`
	Theme                *string `json:"theme,omitempty"`
}

// Apply copies the set attributes onto the preference
func (a PreferenceAttributes) Apply(p *Preference) {
	if a.HideMail != nil {
		p.HideMail = *a.HideMail
	}
	if a.TimeZone != nil {
		p.TimeZone = *a.TimeZone
	}
	if a.CommentsSorting != nil {
		p.CommentsSorting = *a.CommentsSorting
	}
	if a.WarnOnLeavingUnsaved != nil {
		p.WarnOnLeavingUnsaved = *a.WarnOnLeavingUnsaved
	}
	if a.Theme != nil {
		p.Theme = *a.Theme
	}
}
