package clients

// Reasons reported in VerificationResult.InvalidReason.
const (
	// -----------------------------
	// LEDGER TRANSFER
	// -----------------------------
	ReasonInvalidReference = "invalid_transaction_reference"
	ReasonTxNotFound       = "transaction_not_found"
	ReasonTxFailed         = "transaction_failed"
	ReasonTxTooOld         = "transaction_too_old"
	ReasonNoBlockTime      = "transaction_block_time_missing"
	ReasonNoMatchingCredit = "no_matching_credit"
	ReasonAmountTooLow     = "amount_insufficient"

	// -----------------------------
	// TYPED AUTHORIZATION
	// -----------------------------
	ReasonInvalidSignature  = "invalid_signature"
	ReasonSignatureMismatch = "signature_mismatch"
	ReasonInvalidNonce      = "invalid_nonce"
	ReasonInvalidWindow     = "invalid_validity_window"
	ReasonNotYetValid       = "authorization_not_yet_valid"
	ReasonExpired           = "authorization_expired"

	// -----------------------------
	// USER OPERATION
	// -----------------------------
	ReasonInvalidUserOpHash = "invalid_user_op_hash"
)
