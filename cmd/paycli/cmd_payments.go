package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/tlcpay/paygate/hexcodec"
	"github.com/tlcpay/paygate/paymentrpc"
	"github.com/tlcpay/paygate/record"
	"github.com/urfave/cli"
	"lukechampine.com/uint128"
)

var sendPaymentCommand = cli.Command{
	Name:     "sendpayment",
	Category: "Payments",
	Usage:    "Send a payment over the payment network.",
	Description: `
	Send a payment identified by an invoice, a payment hash or, for keysend,
	by the target alone. Explicit flags must agree with the invoice.

	Amounts and fees are given in the smallest unit, timeouts in seconds
	and tlc expiry values in milliseconds.`,
	ArgsUsage: "[invoice]",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "pay_req",
			Usage: "an encoded payment request",
		},
		cli.StringFlag{
			Name:  "dest, d",
			Usage: "the compressed public key of the recipient",
		},
		cli.StringFlag{
			Name:  "amt, a",
			Usage: "the amount to deliver, decimal or 0x prefixed hex",
		},
		cli.StringFlag{
			Name:  "payment_hash, r",
			Usage: "the hash of the payment",
		},
		cli.BoolFlag{
			Name:  "keysend",
			Usage: "send a spontaneous payment to --dest",
		},
		cli.Uint64Flag{
			Name:  "timeout",
			Usage: "the payment timeout in seconds",
		},
		cli.StringFlag{
			Name:  "max_fee",
			Usage: "the maximum fee to pay",
		},
		cli.Uint64Flag{
			Name:  "max_parts",
			Usage: "the maximum number of partial payments",
		},
		cli.Uint64Flag{
			Name:  "final_tlc_expiry_delta",
			Usage: "the locking timeout of the last hop in ms",
		},
		cli.Uint64Flag{
			Name:  "tlc_expiry_limit",
			Usage: "the maximum locking timeout of the route in ms",
		},
		cli.BoolFlag{
			Name:  "allow_self_payment",
			Usage: "allow paying the local node",
		},
		cli.BoolFlag{
			Name:  "dry_run",
			Usage: "only quote the payment",
		},
		cli.StringSliceFlag{
			Name: "data",
			Usage: "attach custom records as type=value, the " +
				"value hex encoded; may be repeated",
		},
		cli.StringFlag{
			Name: "hop_hints",
			Usage: "a JSON array of hop hints as accepted by " +
				"send_payment",
		},
		cli.StringFlag{
			Name: "udt_type_script",
			Usage: "a JSON object selecting the asset to pay " +
				"with, as accepted by send_payment",
		},
	},
	Action: actionDecorator(sendPayment),
}

func sendPayment(ctx *cli.Context) error {
	// Show command help if no arguments provided.
	if ctx.NArg() == 0 && ctx.NumFlags() == 0 {
		_ = cli.ShowCommandHelp(ctx, "sendpayment")
		return nil
	}

	params, err := parseSendPaymentParams(ctx)
	if err != nil {
		return err
	}

	ctxc := getContext()
	client := getClient(ctx)

	result, err := client.SendPayment(ctxc, params)
	if err != nil {
		return err
	}

	return printResult(ctx, result)
}

// parseSendPaymentParams builds the send_payment parameters from the flags
// that were set.
func parseSendPaymentParams(
	ctx *cli.Context) (*paymentrpc.SendPaymentParams, error) {

	params := &paymentrpc.SendPaymentParams{}

	switch {
	case ctx.IsSet("pay_req"):
		payReq := ctx.String("pay_req")
		params.Invoice = &payReq

	case ctx.Args().Present():
		payReq := ctx.Args().First()
		params.Invoice = &payReq
	}

	if ctx.IsSet("dest") {
		var pubkey paymentrpc.Pubkey
		if err := decodeString(ctx.String("dest"), &pubkey); err != nil {
			return nil, fmt.Errorf("dest: %w", err)
		}
		params.TargetPubkey = &pubkey
	}

	if ctx.IsSet("payment_hash") {
		var hash paymentrpc.Hash256
		hashStr := ctx.String("payment_hash")
		if !strings.HasPrefix(hashStr, hexcodec.Prefix) {
			hashStr = hexcodec.Prefix + hashStr
		}
		if err := decodeString(hashStr, &hash); err != nil {
			return nil, fmt.Errorf("payment_hash: %w", err)
		}
		params.PaymentHash = &hash
	}

	if ctx.IsSet("amt") {
		amt, err := parseAmount(ctx.String("amt"))
		if err != nil {
			return nil, fmt.Errorf("amt: %w", err)
		}
		params.Amount = &amt
	}

	if ctx.IsSet("max_fee") {
		maxFee, err := parseAmount(ctx.String("max_fee"))
		if err != nil {
			return nil, fmt.Errorf("max_fee: %w", err)
		}
		params.MaxFeeAmount = &maxFee
	}

	uint64Flags := map[string]**hexcodec.U64{
		"timeout":                &params.Timeout,
		"max_parts":              &params.MaxParts,
		"final_tlc_expiry_delta": &params.FinalTlcExpiryDelta,
		"tlc_expiry_limit":       &params.TlcExpiryLimit,
	}
	for name, field := range uint64Flags {
		if !ctx.IsSet(name) {
			continue
		}

		value := hexcodec.U64(ctx.Uint64(name))
		*field = &value
	}

	boolFlags := map[string]**bool{
		"keysend":            &params.Keysend,
		"allow_self_payment": &params.AllowSelfPayment,
		"dry_run":            &params.DryRun,
	}
	for name, field := range boolFlags {
		if !ctx.IsSet(name) {
			continue
		}

		value := ctx.Bool(name)
		*field = &value
	}

	if ctx.IsSet("data") {
		records, err := parseCustomRecords(ctx.StringSlice("data"))
		if err != nil {
			return nil, err
		}
		params.CustomRecords = &records
	}

	if ctx.IsSet("hop_hints") {
		err := json.Unmarshal(
			[]byte(ctx.String("hop_hints")), &params.HopHints,
		)
		if err != nil {
			return nil, fmt.Errorf("hop_hints: %w", err)
		}
	}

	if ctx.IsSet("udt_type_script") {
		var script paymentrpc.Script
		err := json.Unmarshal(
			[]byte(ctx.String("udt_type_script")), &script,
		)
		if err != nil {
			return nil, fmt.Errorf("udt_type_script: %w", err)
		}
		params.UdtTypeScript = &script
	}

	return params, nil
}

// decodeString decodes a flag value with the JSON decoder of target.
func decodeString(value string, target json.Unmarshaler) error {
	quoted, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return target.UnmarshalJSON(quoted)
}

// parseAmount accepts a decimal or a 0x prefixed hex amount.
func parseAmount(value string) (hexcodec.U128, error) {
	if strings.HasPrefix(value, hexcodec.Prefix) {
		amt, err := hexcodec.DecodeU128(value)
		if err != nil {
			return hexcodec.U128{}, err
		}

		return hexcodec.NewU128(amt), nil
	}

	amt, ok := new(big.Int).SetString(value, 10)
	if !ok || amt.Sign() < 0 || amt.BitLen() > 128 {
		return hexcodec.U128{}, fmt.Errorf("invalid amount: %v", value)
	}

	return hexcodec.NewU128(uint128.FromBig(amt)), nil
}

// parseCustomRecords parses type=value pairs. The type is decimal or 0x
// prefixed hex, the value is hex with an optional 0x prefix.
func parseCustomRecords(pairs []string) (record.CustomRecords, error) {
	records := make(record.CustomRecords, len(pairs))
	for _, pair := range pairs {
		kv := strings.Split(pair, "=")
		if len(kv) != 2 {
			return nil, errors.New("custom record data must be in " +
				"the format type=value")
		}

		recordType, err := parseRecordType(kv[0])
		if err != nil {
			return nil, fmt.Errorf("invalid record type %q: %w",
				kv[0], err)
		}

		value := kv[1]
		if !strings.HasPrefix(value, hexcodec.Prefix) {
			value = hexcodec.Prefix + value
		}
		recordValue, err := hexcodec.DecodeBytes(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for record %v: "+
				"%w", recordType, err)
		}

		records[recordType] = recordValue
	}

	if err := records.Validate(); err != nil {
		return nil, err
	}

	return records, nil
}

func parseRecordType(s string) (uint32, error) {
	if strings.HasPrefix(s, hexcodec.Prefix) {
		return hexcodec.DecodeU32(s)
	}

	recordType, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}

	return uint32(recordType), nil
}

var getPaymentCommand = cli.Command{
	Name:      "getpayment",
	Category:  "Payments",
	Usage:     "Look up the state of a payment.",
	ArgsUsage: "payment_hash",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "payment_hash, r",
			Usage: "the hash of the payment",
		},
	},
	Action: actionDecorator(getPayment),
}

func getPayment(ctx *cli.Context) error {
	var hashStr string
	switch {
	case ctx.IsSet("payment_hash"):
		hashStr = ctx.String("payment_hash")

	case ctx.Args().Present():
		hashStr = ctx.Args().First()

	default:
		return errors.New("payment hash argument missing")
	}

	if !strings.HasPrefix(hashStr, hexcodec.Prefix) {
		hashStr = hexcodec.Prefix + hashStr
	}

	var hash paymentrpc.Hash256
	if err := decodeString(hashStr, &hash); err != nil {
		return fmt.Errorf("payment_hash: %w", err)
	}

	ctxc := getContext()
	client := getClient(ctx)

	result, err := client.GetPayment(ctxc, lntypes.Hash(hash))
	if err != nil {
		return err
	}

	return printResult(ctx, result)
}

// printResult prints a payment result as a table, or as JSON if requested.
func printResult(ctx *cli.Context, result *paymentrpc.PaymentResult) error {
	if ctx.GlobalBool("json") {
		b, err := json.MarshalIndent(result, "", "    ")
		if err != nil {
			return err
		}

		fmt.Println(string(b))

		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	hash, err := json.Marshal(result.PaymentHash)
	if err != nil {
		return err
	}

	failure := "-"
	if result.FailedError != nil {
		failure = *result.FailedError
	}

	t.AppendRows([]table.Row{
		{"payment_hash", strings.Trim(string(hash), `"`)},
		{"status", result.Status},
		{"created_at", uint64(result.CreatedAt)},
		{"last_updated_at", uint64(result.LastUpdatedAt)},
		{"fee", result.Fee.Uint128.String()},
		{"failed_error", failure},
	})

	for _, recordType := range result.CustomRecords.Keys() {
		t.AppendRow(table.Row{
			fmt.Sprintf("record %d", recordType),
			hexcodec.EncodeBytes(result.CustomRecords[recordType]),
		})
	}

	if result.Router != nil {
		for i, node := range result.Router.Nodes {
			pubkey, err := json.Marshal(node.Pubkey)
			if err != nil {
				return err
			}

			t.AppendRow(table.Row{
				fmt.Sprintf("hop %d", i),
				fmt.Sprintf("%s amt=%v",
					strings.Trim(string(pubkey), `"`),
					node.Amount.Uint128.String()),
			})
		}
	}

	t.Render()

	return nil
}
