// Command confortd serves the Stripe webhook endpoint and the billing API,
// and runs manual customer reconciliation.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
