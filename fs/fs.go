package appfs

import "embed"

// FS holds the app's static assets: goose migrations and email templates.
//go:embed migrations templates
var FS embed.FS
