package models

// Done ratio modes
const (
	DoneRatioField    = "field"    // entered per work package
	DoneRatioStatus   = "status"   // inferred from the status default
	DoneRatioDisabled = "disabled" // not tracked
)

// Settings are the instance-wide switches the API consults
type Settings struct {
	WorkPackageDoneRatio string `mapstructure:"work_package_done_ratio" yaml:"work_package_done_ratio" json:"work_package_done_ratio"`
	FeedsEnabled         bool   `mapstructure:"feeds_enabled" yaml:"feeds_enabled" json:"feeds_enabled"`
	RestAPIEnabled       bool   `mapstructure:"rest_api_enabled" yaml:"rest_api_enabled" json:"rest_api_enabled"`
	DisablePasswordLogin bool   `mapstructure:"disable_password_login" yaml:"disable_password_login" json:"disable_password_login"`
	PasswordMinLength    int    `mapstructure:"password_min_length" yaml:"password_min_length" json:"password_min_length"`
	PerPageOptions       []int  `mapstructure:"per_page_options" yaml:"per_page_options" json:"per_page_options"`
	APIMaxPageSize       int    `mapstructure:"api_max_page_size" yaml:"api_max_page_size" json:"api_max_page_size"`
}

// DefaultSettings returns the settings used when no configuration overrides them
func DefaultSettings() Settings {
	return Settings{
		WorkPackageDoneRatio: DoneRatioField,
		FeedsEnabled:         true,
		RestAPIEnabled:       true,
		PasswordMinLength:    10,
		PerPageOptions:       []int{30, 50, 100},
		APIMaxPageSize:       500,
	}
}

// DefaultPageSize is the first per-page option, falling back to 30
func (s Settings) DefaultPageSize() int {
	if len(s.PerPageOptions) > 0 && s.PerPageOptions[0] > 0 {
		return s.PerPageOptions[0]
	}
	return 30
}
