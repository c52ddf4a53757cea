// Command worker is crawlfleet's per-domain crawl entry point: one
// process, one domain, per spec.md §1's scope.
package main

import (
	"os"

	"github.com/metabench/crawlfleet/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
