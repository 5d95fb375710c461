// dice-ticker runs the transport stack of the DICE price ticker on a host.
//
// Usage:
//
//	dice-ticker run [--config dice.yaml] [--log-level debug]
//	dice-ticker config
//	dice-ticker version
//
// Every configuration key may be overridden by an environment variable with the DICE_
// prefix, e.g. DICE_PRICES_SYMBOLS=BTC,ETH or DICE_TLS_CA_FILE=/etc/ssl/ca.pem.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
