package authority

const (
	validatorIndexPath  = "/v1/validators/index"
	validatorClaimsPath = "/v1/validators/claims"
	validatorCountPath  = "/v1/validators/count"
	validatorAtPath     = "/v1/validators/at"
)
