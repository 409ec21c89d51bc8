// Command entgated runs the entitlement engine as a standalone daemon:
// an HTTP surface for provider webhooks and reconciliation, backed by
// SQLite or PostgreSQL.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
