package web

import (
	"embed"
)

// staticFiles holds the console page and its script.
//
//go:embed static/*
var staticFiles embed.FS
