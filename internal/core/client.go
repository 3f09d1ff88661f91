package core

import (
	"github.com/git-pkgs/mirror/client"
)

// Type aliases so drivers only import core.
type (
	Client     = client.Client
	Option     = client.Option
	URLBuilder = client.URLBuilder
	BaseURLs   = client.BaseURLs
	HTTPError  = client.HTTPError
)

// Function aliases for drivers.
var (
	DefaultClient  = client.DefaultClient
	NewClient      = client.NewClient
	WithTimeout    = client.WithTimeout
	WithMaxRetries = client.WithMaxRetries
	BuildURLs      = client.BuildURLs
)
