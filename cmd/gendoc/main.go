//go:build ignore

// Generates the qualgate man page and markdown reference:
//
//	go run ./cmd/gendoc [man|md] [dir]
package main

import (
	"fmt"
	"os"

	"github.com/samzong/qualgate/cmd"
	"github.com/spf13/cobra/doc"
)

func main() {
	format := "man"
	if len(os.Args) > 1 {
		format = os.Args[1]
	}
	dir := "./docs/" + format
	if len(os.Args) > 2 {
		dir = os.Args[2]
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	root := cmd.RootCmd()
	root.DisableAutoGenTag = true

	var err error
	switch format {
	case "man":
		err = doc.GenManTree(root, &doc.GenManHeader{
			Title:   "QUALGATE",
			Section: "1",
			Source:  "qualgate " + cmd.Version,
			Manual:  "qualgate Manual",
		}, dir)
	case "md":
		err = doc.GenMarkdownTree(root, dir)
	default:
		err = fmt.Errorf("unknown format %q (want man or md)", format)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating docs: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Docs generated in %s\n", dir)
}
