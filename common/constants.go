package common

const (
	Name    = "oauthpopup"
	Version = "0.3.0"

	// filenames
	LogFileName    = "oauthpopup.log"
	ConfigFileName = "oauthpopup.yaml"
)
