package paycfg

// Debug holds diagnostic options.
//
//nolint:lll
type Debug struct {
	IncludeRoute bool `long:"includeroute" description:"Include the chosen route in every payment result"`
}
