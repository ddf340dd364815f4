// Package web embeds the dashboard served at the site root.
package web

import "embed"

// DistFS holds the dashboard files under dist/.
//
//go:embed dist
var DistFS embed.FS
