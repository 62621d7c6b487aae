package plotserver

import (
	"embed"
	"errors"
	"io/fs"
)

//go:embed www/*
var embeddedFS embed.FS

const (
	indexAsset   = "index.html"
	clientScript = "plotview.js"
	plotlyScript = "plotly.min.js"

	pageIDPlaceholder = "{{pageid}}"
	portPlaceholder   = "{{port}}"
)

// scripts lists the script paths served from the root. Only the client script
// gets the port substituted.
var scripts = map[string]bool{
	clientScript: true,
	plotlyScript: false,
}

// DefaultAssets returns the embedded page and client script.
func DefaultAssets() fs.FS {
	sub, err := fs.Sub(embeddedFS, "www")
	if err != nil {
		panic(err)
	}
	return sub
}

// OverlayFS serves files from primary and falls back to fallback.
type OverlayFS struct {
	Primary  fs.FS
	Fallback fs.FS
}

func (o OverlayFS) Open(name string) (fs.File, error) {
	if o.Primary != nil {
		f, err := o.Primary.Open(name)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if o.Fallback == nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return o.Fallback.Open(name)
}
