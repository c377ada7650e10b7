package control

// Country is a billing country with its tax details and the points of
// presence located in it.
type Country struct {
	Name      string   `json:"Name"`
	IsoCode   string   `json:"IsoCode"`
	IsEU      bool     `json:"IsEU"`
	TaxRate   float64  `json:"TaxRate"`
	TaxPrefix string   `json:"TaxPrefix"`
	FlagURL   string   `json:"FlagUrl"`
	PopList   []string `json:"PopList"`
}

// Region is a CDN pricing region.
type Region struct {
	ID                  int64   `json:"Id"`
	Name                string  `json:"Name"`
	PricePerGigabyte    float64 `json:"PricePerGigabyte"`
	RegionCode          string  `json:"RegionCode"`
	ContinentCode       string  `json:"ContinentCode"`
	CountryCode         string  `json:"CountryCode"`
	Latitude            float64 `json:"Latitude"`
	Longitude           float64 `json:"Longitude"`
	AllowLatencyRouting bool    `json:"AllowLatencyRouting"`
}

// APIKey is an account API key and the roles granted to it.
type APIKey struct {
	ID    int64    `json:"Id"`
	Key   string   `json:"Key"`
	Roles []string `json:"Roles"`
}

// PurgeRequest names a cached URL to purge. With Async set the provider
// answers before the purge has propagated.
type PurgeRequest struct {
	URL   string `json:"url" validate:"required,url"`
	Async bool   `json:"async"`
}
