// Package scripts embeds the extraction scripts so a built binary needs no
// scripts directory on disk.
package scripts

import "embed"

// FS holds extract/<language>.risor for every supported language.
//
//go:embed extract/*.risor
var FS embed.FS
