package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Proof header names.
const (
	HeaderPaymentMethod      = "X-Payment-Method"
	HeaderPaymentSignature   = "X-Payment-Signature"
	HeaderPaymentFrom        = "X-Payment-From"
	HeaderPaymentTxHash      = "X-Payment-Tx-Hash"
	HeaderPaymentNonce       = "X-Payment-Nonce"
	HeaderPaymentValidAfter  = "X-Payment-Valid-After"
	HeaderPaymentValidBefore = "X-Payment-Valid-Before"
	HeaderPaymentUserOpHash  = "X-Payment-User-Op-Hash"

	// Single-header envelopes carrying base64 JSON of a PaymentProof.
	HeaderXPayment         = "X-Payment"
	HeaderPaymentEnvelope2 = "Payment-Signature"

	HeaderPaymentRequired = "X-Payment-Required"
	HeaderPaymentVerified = "X-Payment-Verified"
)

// PaymentProof is the evidence a client attaches to a retried request.
// Required fields depend on Method; formats are checked by utils.ValidateProof.
type PaymentProof struct {
	Method    MethodKind `json:"method" validate:"required"`
	Signature string     `json:"signature" validate:"required"`
	From      string     `json:"from" validate:"required"`

	TxHash string `json:"tx_hash,omitempty" validate:"required_if=Method solana-transfer"`

	Nonce       string `json:"nonce,omitempty" validate:"required_if=Method eip-3009"`
	ValidAfter  string `json:"valid_after,omitempty" validate:"required_if=Method eip-3009,omitempty,number"`
	ValidBefore string `json:"valid_before,omitempty" validate:"required_if=Method eip-3009,omitempty,number"`

	UserOpHash string `json:"user_op_hash,omitempty" validate:"required_if=Method eip-4337"`
}

var proofHeaders = []string{
	HeaderPaymentMethod,
	HeaderPaymentSignature,
	HeaderPaymentFrom,
	HeaderPaymentTxHash,
	HeaderPaymentNonce,
	HeaderPaymentValidAfter,
	HeaderPaymentValidBefore,
	HeaderPaymentUserOpHash,
}

// ProofFromHeaders extracts a proof from request headers. present is false
// when the request carries no proof at all. Individual headers take
// precedence over the X-Payment envelope field by field.
func ProofFromHeaders(h http.Header) (proof *PaymentProof, present bool, err error) {
	proof = &PaymentProof{}

	if envelope := envelopeHeader(h); envelope != "" {
		present = true
		raw, err := decodeBase64(envelope)
		if err != nil {
			return nil, true, WrapError(ErrInvalidProof, err, "payment envelope is not base64")
		}
		if err := json.Unmarshal(raw, proof); err != nil {
			return nil, true, WrapError(ErrInvalidProof, err, "payment envelope is not a proof object")
		}
		proof.Method = MethodKind(strings.ToLower(strings.TrimSpace(string(proof.Method))))
	}

	for _, name := range proofHeaders {
		v := strings.TrimSpace(h.Get(name))
		if v == "" {
			continue
		}
		present = true
		switch name {
		case HeaderPaymentMethod:
			proof.Method = MethodKind(strings.ToLower(v))
		case HeaderPaymentSignature:
			proof.Signature = v
		case HeaderPaymentFrom:
			proof.From = v
		case HeaderPaymentTxHash:
			proof.TxHash = v
		case HeaderPaymentNonce:
			proof.Nonce = v
		case HeaderPaymentValidAfter:
			proof.ValidAfter = v
		case HeaderPaymentValidBefore:
			proof.ValidBefore = v
		case HeaderPaymentUserOpHash:
			proof.UserOpHash = v
		}
	}

	if !present {
		return nil, false, nil
	}
	return proof, true, nil
}

func envelopeHeader(h http.Header) string {
	if v := strings.TrimSpace(h.Get(HeaderXPayment)); v != "" {
		return v
	}
	return strings.TrimSpace(h.Get(HeaderPaymentEnvelope2))
}

func decodeBase64(s string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.URLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// Apply writes the proof onto h as individual headers.
func (p *PaymentProof) Apply(h http.Header) {
	set := func(name, v string) {
		if v != "" {
			h.Set(name, v)
		}
	}
	set(HeaderPaymentMethod, string(p.Method))
	set(HeaderPaymentSignature, p.Signature)
	set(HeaderPaymentFrom, p.From)
	set(HeaderPaymentTxHash, p.TxHash)
	set(HeaderPaymentNonce, p.Nonce)
	set(HeaderPaymentValidAfter, p.ValidAfter)
	set(HeaderPaymentValidBefore, p.ValidBefore)
	set(HeaderPaymentUserOpHash, p.UserOpHash)
}

// Envelope encodes the proof as a single X-Payment header value.
func (p *PaymentProof) Envelope() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Window returns the parsed validity window of a time-bound proof.
func (p *PaymentProof) Window() (after, before int64, err error) {
	after, err = strconv.ParseInt(p.ValidAfter, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("valid-after %q: %w", p.ValidAfter, err)
	}
	before, err = strconv.ParseInt(p.ValidBefore, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("valid-before %q: %w", p.ValidBefore, err)
	}
	return after, before, nil
}

// ReplayKey returns the single-use key identifying the underlying payment.
func (p *PaymentProof) ReplayKey() string {
	switch p.Method {
	case MethodSolanaTransfer:
		ref := p.TxHash
		if ref == "" {
			ref = p.Signature
		}
		return fmt.Sprintf("%s:%s", p.Method, ref)
	case MethodEIP3009:
		return fmt.Sprintf("%s:%s:%s", p.Method, strings.ToLower(p.From), strings.ToLower(p.Nonce))
	case MethodEIP4337:
		return fmt.Sprintf("%s:%s", p.Method, strings.ToLower(p.UserOpHash))
	}
	return fmt.Sprintf("%s:%s", p.Method, p.Signature)
}
