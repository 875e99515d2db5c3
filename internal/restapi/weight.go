package restapi

import "net/http"

// Weight captures a provider's used-weight accounting headers, following
// Binance's X-MBX-USED-WEIGHT convention, so the pipeline can observe how
// close a request pushed the account to its rate budget.
type Weight struct {
	Used1m string
	Used   string
}

// ReadWeightHeaders extracts the provider's rate-budget headers, if
// present. Both fields are empty for providers that don't expose this.
func ReadWeightHeaders(h http.Header) Weight {
	return Weight{
		Used1m: h.Get("X-MBX-USED-WEIGHT-1M"),
		Used:   h.Get("X-MBX-USED-WEIGHT"),
	}
}
