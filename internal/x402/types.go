package x402

// Protocol is the payment protocol identifier carried in every
// 402 challenge body.
const Protocol = "x402"

// Scheme is the settlement scheme this gate implements.
const Scheme = "exact"

// Tier selects the price for an action type.
type Tier string

const (
	TierQuery  Tier = "query"
	TierVerify Tier = "verify"
)

// PaymentRequirement is the server-issued challenge. Nonce and deadline
// bind the challenge to exactly one resource for one window; it is never
// persisted beyond the used-nonce set.
type PaymentRequirement struct {
	Network           string `json:"network"`
	ChainID           int64  `json:"chainId"`
	PayTo             string `json:"payTo"`
	MaxAmountRequired string `json:"maxAmountRequired"`
	Asset             string `json:"asset"`
	Resource          string `json:"resource"`
	Nonce             string `json:"nonce"`
	Deadline          int64  `json:"deadline"`
}

// ChallengeBody is the JSON body of every 402 response.
type ChallengeBody struct {
	Protocol string               `json:"protocol"`
	Accepts  []PaymentRequirement `json:"accepts"`
}

// Authorization is the EIP-3009 TransferWithAuthorization message the
// client signs. Value is a decimal string in the token's smallest unit;
// Nonce is the server-issued 32-byte hex nonce.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// PaymentProof is the client's response to a challenge, carried
// base64-encoded in the X-Payment header.
type PaymentProof struct {
	X402Version   int           `json:"x402Version"`
	Scheme        string        `json:"scheme"`
	Network       string        `json:"network"`
	Signature     string        `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// Receipt summarizes a verified payment for the response body and the
// observability sink.
type Receipt struct {
	Signer         string `json:"signer"`
	Amount         string `json:"amount"`
	Resource       string `json:"resource"`
	SettlementHash string `json:"settlement_hash,omitempty"`
	Demo           bool   `json:"demo"`
	Timestamp      int64  `json:"timestamp"`
}

// Rejection reasons returned in the 402 body's reason field. Machine
// readable: clients branch on these to decide between requesting a fresh
// challenge and fixing a malformed proof.
const (
	ReasonMalformed    = "Malformed payment header"
	ReasonBadSignature = "Invalid signature"
	ReasonExpired      = "Payment expired"
	ReasonWrongTo      = "Wrong receiver"
	ReasonUnderpaid    = "Insufficient amount"
	ReasonNonceUsed    = "Nonce already used"
	ReasonDemoDisabled = "Demo payments disabled"
)

// RejectionError carries a machine-readable rejection reason across the
// gate boundary.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "payment rejected: " + e.Reason
}

// Reject wraps a reason as a RejectionError.
func Reject(reason string) error {
	return &RejectionError{Reason: reason}
}
