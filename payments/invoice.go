// Package payments implements C8: resolving a Lightning address to an
// invoice and decoding an invoice for display. It is grounded on the
// teacher's engine/actors/lightning.go lud16-to-LNURL-callback flow, adapted
// from that file's package-level logging/global-state style into an
// instantiable Resolver so a server transport can own one alongside its
// configured capability prices. Payment settlement itself is out of scope
// per SPEC_FULL.md's non-goals: this package only builds and parses the
// opaque invoice string, never tracks or clears it.
package payments

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"strings"
	"time"

	lnurl "github.com/fiatjaf/go-lnurl"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

// Bolt11 is the decoded shape of a Lightning invoice, re-exported from
// ln-decodepay so callers of this package never import it directly.
type Bolt11 = decodepay.Bolt11

// Decode parses a BOLT11 invoice string for display (amount, description,
// payee), used both when building notifications/payment_required params and
// when normalizing cap tag prices at announcement time.
func Decode(bolt11 string) (Bolt11, error) {
	b, err := decodepay.Decodepay(bolt11)
	if err != nil {
		return Bolt11{}, fmt.Errorf("payments: decode invoice: %w", err)
	}
	return b, nil
}

// lnServicePayResponse mirrors the LNURL-pay metadata document returned by a
// lightning address's well-known endpoint.
type lnServicePayResponse struct {
	Callback    string `json:"callback"`
	MaxSendable int64  `json:"maxSendable"`
	MinSendable int64  `json:"minSendable"`
	Tag         string `json:"tag"`
}

type lnServiceInvoice struct {
	Pr string `json:"pr"`
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

// ResolveLightningAddress validates that address looks like a lightning
// address (user@domain), builds its LNURL-pay metadata endpoint, and round
// trips that endpoint through the bech32 LNURL encoding and back, the way
// the teacher's lud16ToUrl/urlToLud06/decode chain does in
// engine/actors/lightning.go rather than using the plain https URL
// directly.
func ResolveLightningAddress(address string) (string, error) {
	addr, err := mail.ParseAddress(address)
	if err != nil {
		return "", fmt.Errorf("payments: invalid lightning address %q: %w", address, err)
	}
	split := strings.Split(strings.Trim(addr.Address, "<>"), "@")
	if len(split) != 2 {
		return "", fmt.Errorf("payments: invalid lightning address %q", address)
	}
	endpoint := "https://" + split[1] + "/.well-known/lnurlp/" + split[0]
	return decodeLNURL(endpoint)
}

// decodeLNURL bech32-encodes url into its lnurlp form and decodes it right
// back, mirroring the teacher's urlToLud06-then-decode round trip, which
// exists so the URL the rest of this package fetches has passed through the
// same LNURL bech32 codec any LNURL-pay client would use.
func decodeLNURL(rawURL string) (string, error) {
	encoded, err := lnurl.Encode(rawURL)
	if err != nil {
		return "", fmt.Errorf("payments: encode lnurl for %q: %w", rawURL, err)
	}
	decoded, err := lnurl.LNURLDecode(encoded)
	if err != nil {
		return "", fmt.Errorf("payments: decode lnurl for %q: %w", rawURL, err)
	}
	return decoded, nil
}

// Invoice resolves a lightning address to a BOLT11 invoice sized to
// amountMsat millisatoshis with the given memo, following the LNURL-pay
// callback dance the teacher performs by hand in engine/actors/lightning.go's
// decode function.
func Invoice(lightningAddress string, amountMsat int64, memo string) (string, error) {
	endpoint, err := ResolveLightningAddress(lightningAddress)
	if err != nil {
		return "", err
	}

	payResponse, err := fetchPayResponse(endpoint)
	if err != nil {
		return "", err
	}
	if amountMsat < payResponse.MinSendable || amountMsat > payResponse.MaxSendable {
		return "", fmt.Errorf("payments: amount %d msat outside %s's allowed range [%d, %d]",
			amountMsat, lightningAddress, payResponse.MinSendable, payResponse.MaxSendable)
	}

	callbackURL := payResponse.Callback + "?amount=" + strconv.FormatInt(amountMsat, 10)
	if memo != "" {
		callbackURL += "&comment=" + url.QueryEscape(memo)
	}

	invoice, err := fetchInvoice(callbackURL)
	if err != nil {
		return "", err
	}
	return invoice, nil
}

func fetchPayResponse(endpoint string) (lnServicePayResponse, error) {
	var out lnServicePayResponse
	body, err := httpGet(endpoint)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("payments: parse LNURL-pay response: %w", err)
	}
	return out, nil
}

func fetchInvoice(callbackURL string) (string, error) {
	var out lnServiceInvoice
	body, err := httpGet(callbackURL)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("payments: parse LNURL-pay callback response: %w", err)
	}
	if out.Pr == "" {
		return "", fmt.Errorf("payments: LNURL-pay callback returned no invoice")
	}
	return out.Pr, nil
}

func httpGet(target string) ([]byte, error) {
	resp, err := httpClient.Get(target)
	if err != nil {
		return nil, fmt.Errorf("payments: request %s: %w", target, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("payments: read response from %s: %w", target, err)
	}
	return body, nil
}
