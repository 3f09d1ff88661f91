// Package all lists every supported source control driver in selection
// order.
//
//	sel := core.NewSelector(hosts, client, all.Definitions()...)
//	drv, err := sel.Driver("https://github.com/acme/widget", "")
package all

import (
	"github.com/git-pkgs/mirror/internal/bitbucket"
	"github.com/git-pkgs/mirror/internal/core"
	"github.com/git-pkgs/mirror/internal/github"
	"github.com/git-pkgs/mirror/internal/gitlab"
)

// Definitions returns the driver definitions. The first definition that
// supports a URL wins, so hosts with looser patterns come last.
func Definitions() []core.Definition {
	return []core.Definition{
		github.Definition(),
		bitbucket.Definition(),
		gitlab.Definition(),
	}
}
