// Command ledger-token issues a bearer token for AUTH_MODE=hmac deployments.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"ticket-ledger/internal/auth"
	"ticket-ledger/internal/config"
)

func main() {
	account := flag.String("account", "", "hex address the token speaks for")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = config.LoadDotEnv()
	secret := os.Getenv("AUTH_HMAC_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "AUTH_HMAC_SECRET not set")
		os.Exit(1)
	}
	if !common.IsHexAddress(*account) {
		fmt.Fprintf(os.Stderr, "invalid -account %q\n", *account)
		os.Exit(2)
	}
	token, err := auth.IssueHMACToken(secret, common.HexToAddress(*account), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
