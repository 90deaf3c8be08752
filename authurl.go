package oauthpopup

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/linkedin"
)

// AuthURL builds the LinkedIn authorization request for cfg with state set to nonce. Scopes are
// space separated before form encoding, which renders them joined by '+'.
func AuthURL(cfg LaunchConfig, nonce string) string {
	conf := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: cfg.RedirectURL,
		Scopes:      cfg.Scopes,
		Endpoint:    linkedin.Endpoint,
	}
	var opts []oauth2.AuthCodeOption
	if len(cfg.Scopes) == 0 {
		// oauth2 drops an empty scope entirely; LinkedIn expects the parameter to be present.
		opts = append(opts, oauth2.SetAuthURLParam("scope", ""))
	}
	return conf.AuthCodeURL(nonce, opts...)
}
