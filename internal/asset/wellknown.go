package asset

// Ethereum mainnet contracts used as default anchors.
const (
	AddrUSDCEthereum = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	AddrUSDTEthereum = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	AddrDAIEthereum  = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	AddrWBTCEthereum = "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"
)

// Well-known token metadata.
var (
	USDC = MustNew(NewID(AddrUSDCEthereum), "USDC", 6).WithName("USD Coin")
	USDT = MustNew(NewID(AddrUSDTEthereum), "USDT", 6).WithName("Tether USD")
	DAI  = MustNew(NewID(AddrDAIEthereum), "DAI", 18).WithName("Dai Stablecoin")
	WBTC = MustNew(NewID(AddrWBTCEthereum), "WBTC", 8).WithName("Wrapped Bitcoin")
)

// DefaultStablecoins lists the default $1 anchors.
func DefaultStablecoins() []*Asset {
	return []*Asset{USDC, USDT, DAI}
}

// DefaultRegistry returns a registry pre-populated with well-known tokens.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range append(DefaultStablecoins(), WBTC) {
		_ = r.Register(a)
	}
	return r
}
