package types

// LoginRequest contains credentials for admin authentication
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ResetFeeRequest carries the new fee per claim as a decimal string.
type ResetFeeRequest struct {
	FeePerClaim string `json:"feePerClaim"`
}

// DepositRequest carries a pool deposit as a decimal string.
type DepositRequest struct {
	Amount string `json:"amount"`
}

// FeeResponse is the current price.
type FeeResponse struct {
	FeePerClaim string `json:"feePerClaim"`
	Token       string `json:"token"`
}

// CountResponse is a claim count for one validator.
type CountResponse struct {
	Validator string `json:"validator"`
	Count     uint64 `json:"count"`
}

// BalanceResponse is a token balance.
type BalanceResponse struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
