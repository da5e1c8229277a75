package ledger

// PlatformFeeBps is the fixed platform cut on every transfer.
const PlatformFeeBps = 250

type Fees struct {
	NetAmount   int64 `json:"net_amount"`
	PlatformFee int64 `json:"platform_fee"`
	CityFee     int64 `json:"city_fee"`
}

// CalculateFees splits a gross amount into net plus platform and city fees.
// Pure integer math, truncating toward zero, so every process agrees on the
// split to the unit.
func CalculateFees(amount, cityFeeBps int64) Fees {
	if amount <= 0 {
		return Fees{}
	}
	platform := amount * PlatformFeeBps / 10_000
	city := amount * cityFeeBps / 10_000
	net := amount - platform - city
	if net < 0 {
		net = 0
	}
	return Fees{NetAmount: net, PlatformFee: platform, CityFee: city}
}
