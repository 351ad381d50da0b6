// nutcli is a command-line Cashu wallet driving the walletcore package
// against a single Lightning-backed mint at a time.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gonuts-core/walletcore/cashu"
	"github.com/gonuts-core/walletcore/wallet"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

var nutw *wallet.Wallet

func walletConfig() wallet.Config {
	path := setWalletPath()
	config := wallet.Config{WalletPath: path, CurrentMintURL: "https://8333.space:3338"}

	envPath := filepath.Join(path, ".env")
	if _, err := os.Stat(envPath); err != nil {
		if wd, err := os.Getwd(); err == nil {
			envPath = filepath.Join(wd, ".env")
		} else {
			envPath = ""
		}
	}

	if len(envPath) > 0 {
		if err := godotenv.Load(envPath); err == nil {
			config.CurrentMintURL = getMintURL()
		}
	}

	domainSeparation, _ := strconv.ParseBool(os.Getenv("WALLET_DOMAIN_SEPARATION"))
	config.DomainSeparation = domainSeparation

	return config
}

func setWalletPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		log.Fatal(err)
	}

	path := filepath.Join(homedir, ".gonuts", "wallet")
	if err := os.MkdirAll(path, 0700); err != nil {
		log.Fatal(err)
	}
	return path
}

func getMintURL() string {
	if mintURL := os.Getenv("MINT_URL"); len(mintURL) > 0 {
		return mintURL
	}

	mintHost := os.Getenv("MINT_HOST")
	mintPort := os.Getenv("MINT_PORT")
	if len(mintHost) == 0 || len(mintPort) == 0 {
		return "http://127.0.0.1:3338"
	}

	u := &url.URL{Scheme: "http", Host: mintHost + ":" + mintPort}
	return u.String()
}

func setupWallet(ctx *cli.Context) error {
	config := walletConfig()

	var err error
	nutw, err = wallet.LoadWallet(config)
	if err != nil {
		printErr(err)
	}
	return nil
}

func main() {
	app := &cli.App{
		Name:  "nutcli",
		Usage: "cashu ecash wallet",
		Commands: []*cli.Command{
			balanceCmd,
			mintCmd,
			sendCmd,
			receiveCmd,
			payCmd,
			restoreCmd,
			mnemonicCmd,
			requestCmd,
			payRequestCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var balanceCmd = &cli.Command{
	Name:   "balance",
	Usage:  "show the wallet's total balance",
	Before: setupWallet,
	Action: getBalance,
}

func getBalance(ctx *cli.Context) error {
	fmt.Printf("%v sats\n", nutw.GetBalance())
	return nil
}

var mnemonicCmd = &cli.Command{
	Name:   "mnemonic",
	Usage:  "print the wallet's backup mnemonic",
	Before: setupWallet,
	Action: printMnemonic,
}

func printMnemonic(ctx *cli.Context) error {
	fmt.Println(nutw.Mnemonic())
	return nil
}

var receiveCmd = &cli.Command{
	Name:   "receive",
	Usage:  "redeem a cashu token",
	Before: setupWallet,
	Action: receive,
}

func receive(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("cashu token not provided"))
	}

	token, err := cashu.DecodeToken(args.First())
	if err != nil {
		printErr(err)
	}

	received, err := nutw.Receive(token)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("%v sats received\n", received)
	return nil
}

const (
	quoteFlag = "quote"
	waitFlag  = "wait"
)

var mintCmd = &cli.Command{
	Name:  "mint",
	Usage: "request a mint quote, or redeem one already paid with --quote",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: quoteFlag, Usage: "redeem a previously requested, now-paid mint quote"},
		&cli.BoolFlag{Name: waitFlag, Usage: "with --quote, block until the quote is paid before redeeming"},
	},
	Before: setupWallet,
	Action: mint,
}

func mint(ctx *cli.Context) error {
	if ctx.IsSet(quoteFlag) {
		quoteId := ctx.String(quoteFlag)
		if ctx.Bool(waitFlag) {
			if _, err := nutw.PollMintQuote(context.Background(), quoteId); err != nil {
				printErr(err)
			}
		}
		if err := mintTokens(quoteId); err != nil {
			printErr(err)
		}
		return nil
	}

	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to mint"))
	}
	if err := requestMint(args.First()); err != nil {
		printErr(err)
	}
	return nil
}

func requestMint(amountStr string) error {
	amount, err := strconv.ParseUint(amountStr, 10, 64)
	if err != nil {
		return errors.New("invalid amount")
	}

	quote, err := nutw.RequestMint(nutw.CurrentMintURL, amount)
	if err != nil {
		return err
	}

	fmt.Printf("quote id: %v\n\n", quote.QuoteId)
	fmt.Println("after the invoice is paid, redeem it with: nutcli mint --quote <quote id>")
	return nil
}

func mintTokens(quoteId string) error {
	quote, err := nutw.MintQuoteState(quoteId)
	if err != nil {
		return err
	}
	if quote.State != "PAID" {
		return errors.New("mint quote has not been paid yet")
	}

	proofs, err := nutw.MintTokens(quoteId)
	if err != nil {
		return err
	}

	fmt.Printf("%v sats minted\n", proofs.Amount())
	return nil
}

var sendCmd = &cli.Command{
	Name:   "send",
	Usage:  "create a cashu token to send",
	Before: setupWallet,
	Action: send,
}

func send(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to send"))
	}

	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(err)
	}

	token, err := nutw.Send(nutw.CurrentMintURL, amount)
	if err != nil {
		printErr(err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		printErr(err)
	}
	fmt.Println(serialized)
	return nil
}

var payCmd = &cli.Command{
	Name:   "pay",
	Usage:  "pay a lightning invoice with ecash",
	Before: setupWallet,
	Action: pay,
}

func pay(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify a lightning invoice to pay"))
	}

	invoice := args.First()
	quote, err := nutw.RequestMeltQuote(nutw.CurrentMintURL, invoice)
	if err != nil {
		printErr(err)
	}

	result, err := nutw.Melt(quote.QuoteId)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("invoice paid: %v\n", result.Paid)
	if len(result.Change) > 0 {
		fmt.Printf("%v sats returned as change\n", result.Change.Amount())
	}
	return nil
}

var restoreCmd = &cli.Command{
	Name:      "restore",
	Usage:     "recover a wallet from its mnemonic against one or more mints",
	ArgsUsage: "<mnemonic words...> -- <mint url> [mint url...]",
	Action:    restore,
}

func restore(ctx *cli.Context) error {
	args := ctx.Args().Slice()
	sep := -1
	for i, arg := range args {
		if arg == "--" {
			sep = i
			break
		}
	}
	if sep < 0 || sep == len(args)-1 {
		printErr(errors.New("usage: restore <mnemonic words...> -- <mint url> [mint url...]"))
	}

	mnemonic := strings.Join(args[:sep], " ")
	mints := args[sep+1:]

	proofs, err := wallet.Restore(setWalletPath(), mnemonic, mints)
	if err != nil {
		printErr(err)
	}

	fmt.Printf("restored %v sats across %v mint(s)\n", proofs.Amount(), len(mints))
	return nil
}

var requestCmd = &cli.Command{
	Name:      "request",
	Usage:     "create a NUT-18 payment request for an amount",
	ArgsUsage: "<amount> [description]",
	Before:    setupWallet,
	Action:    createPaymentRequest,
}

func createPaymentRequest(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("specify an amount to request"))
	}

	amount, err := strconv.ParseUint(args.First(), 10, 64)
	if err != nil {
		printErr(err)
	}

	description := strings.Join(args.Slice()[1:], " ")
	encoded, err := nutw.CreatePaymentRequest(amount, description)
	if err != nil {
		printErr(err)
	}

	fmt.Println(encoded)
	return nil
}

var payRequestCmd = &cli.Command{
	Name:      "pay-request",
	Usage:     "fulfill a NUT-18 payment request with a cashu token",
	ArgsUsage: "<encoded payment request>",
	Before:    setupWallet,
	Action:    payPaymentRequest,
}

func payPaymentRequest(ctx *cli.Context) error {
	args := ctx.Args()
	if args.Len() < 1 {
		printErr(errors.New("payment request not provided"))
	}

	token, err := nutw.PayPaymentRequest(args.First())
	if err != nil {
		printErr(err)
	}

	serialized, err := token.Serialize()
	if err != nil {
		printErr(err)
	}
	fmt.Println(serialized)
	return nil
}

func printErr(msg error) {
	fmt.Println(msg.Error())
	os.Exit(1)
}
