// Package payurl implements the cloak: payment request URI format.
//
// A payment request encodes a recipient and optional amount in a URI that
// can be shared via QR codes, links, or text:
//
//	cloak:<recipient>?amount=<amount>&label=<label>&message=<message>
//
// The amount parameter is in decimal display units. Conversion to base
// units happens here, at the presentation boundary, with exact string
// arithmetic — everything past this package is integer base units.
package payurl

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	"github.com/cloaklabs/cloakpay/pkg/keys"
)

// Decimals is the number of decimal places in the display unit.
const Decimals = 9

// Scheme is the URI scheme prefix.
const Scheme = "cloak:"

// PaymentRequest is a parsed payment request.
type PaymentRequest struct {
	Recipient keys.Identity
	Amount    uint64 // base units; valid only when HasAmount
	HasAmount bool   // false = payer specifies the amount
	Label     string // optional recipient label
	Message   string // optional message to display to the payer
}

// Parse parses a cloak: payment request URI.
//
// The recipient is required and must be a well-formed identity. The amount,
// when present, must be a non-negative decimal with at most 9 fractional
// digits.
func Parse(uri string) (*PaymentRequest, error) {
	if !strings.HasPrefix(uri, Scheme) {
		return nil, fmt.Errorf("not a %s URI", Scheme)
	}
	rest := strings.TrimPrefix(uri, Scheme)

	var base, query string
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		base, query = rest[:i], rest[i+1:]
	} else {
		base = rest
	}

	recipient, err := keys.ParseIdentity(base)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient: %w", err)
	}

	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("failed to parse query: %w", err)
	}

	req := &PaymentRequest{
		Recipient: recipient,
		Label:     params.Get("label"),
		Message:   params.Get("message"),
	}

	if amountStr := params.Get("amount"); amountStr != "" {
		amount, err := ToBaseUnits(amountStr)
		if err != nil {
			return nil, fmt.Errorf("invalid amount: %w", err)
		}
		req.Amount = amount
		req.HasAmount = true
	}

	return req, nil
}

// Format renders a payment request back to URI form.
func Format(req *PaymentRequest) string {
	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString(string(req.Recipient))

	params := url.Values{}
	if req.HasAmount {
		params.Set("amount", FromBaseUnits(req.Amount))
	}
	if req.Label != "" {
		params.Set("label", req.Label)
	}
	if req.Message != "" {
		params.Set("message", req.Message)
	}
	if encoded := params.Encode(); encoded != "" {
		b.WriteByte('?')
		b.WriteString(encoded)
	}
	return b.String()
}

// ToBaseUnits converts a decimal display amount (e.g. "1.5") to base units
// exactly. More than Decimals fractional digits is an error, not a
// rounding.
func ToBaseUnits(s string) (uint64, error) {
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("empty amount")
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > Decimals {
		return 0, fmt.Errorf("more than %d decimal places", Decimals)
	}

	wholeUnits, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid whole part %q", whole)
	}

	var fracUnits uint64
	if frac != "" {
		padded := frac + strings.Repeat("0", Decimals-len(frac))
		fracUnits, err = strconv.ParseUint(padded, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid fractional part %q", frac)
		}
	}

	const scale = 1_000_000_000
	if wholeUnits > (math.MaxUint64-fracUnits)/scale {
		return 0, fmt.Errorf("amount overflows")
	}
	return wholeUnits*scale + fracUnits, nil
}

// FromBaseUnits renders base units as a decimal display amount with
// trailing zeros trimmed.
func FromBaseUnits(amount uint64) string {
	const scale = 1_000_000_000
	whole := amount / scale
	frac := amount % scale
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fracStr := strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	return fmt.Sprintf("%d.%s", whole, fracStr)
}
