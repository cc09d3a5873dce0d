// Command token issues API bearer tokens and signed price proofs for
// operators and executors.
//
//	token -account alice -roles trader
//	token -price 64250000000 -pair BTC_USD:USDC
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/settlement-engine/internal/auth"
	"github.com/atmx/settlement-engine/internal/feed"
	"github.com/atmx/settlement-engine/internal/pair"
)

func main() {
	account := flag.String("account", "", "account the API token is issued to")
	roles := flag.String("roles", "trader", "comma-separated roles: trader, executor, admin")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	pairKey := flag.String("pair", "", "pair to sign a price proof for (INSTRUMENT:COLLATERAL)")
	price := flag.String("price", "", "price to sign, as an integer")
	flag.Parse()

	var err error
	switch {
	case *pairKey != "" || *price != "":
		err = signPrice(os.Getenv("ORACLE_SECRET"), *pairKey, *price, *ttl)
	case *account != "":
		err = issueToken(os.Getenv("JWT_SECRET"), *account, *roles, *ttl)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "token:", err)
		os.Exit(1)
	}
}

func issueToken(secret, account, roles string, ttl time.Duration) error {
	svc, err := auth.NewService(secret)
	if err != nil {
		return fmt.Errorf("JWT_SECRET: %w", err)
	}
	var rs []auth.Role
	for _, r := range strings.Split(roles, ",") {
		if r = strings.TrimSpace(r); r != "" {
			rs = append(rs, auth.Role(r))
		}
	}
	token, err := svc.Issue(account, rs, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func signPrice(secret, pairKey, price string, ttl time.Duration) error {
	if secret == "" {
		return fmt.Errorf("ORACLE_SECRET is required to sign prices")
	}
	key, err := pair.ParseKey(pairKey)
	if err != nil {
		return err
	}
	px, err := decimal.NewFromString(price)
	if err != nil {
		return fmt.Errorf("invalid price %q: %w", price, err)
	}
	proof, err := feed.NewSignedVerifier(secret).Sign(key, px, ttl)
	if err != nil {
		return err
	}
	fmt.Println(string(proof))
	return nil
}
