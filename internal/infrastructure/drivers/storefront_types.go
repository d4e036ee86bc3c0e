package drivers

// storefrontProduct is the content payload the storefront API accepts
type storefrontProduct struct {
	ExternalID  string              `json:"external_id"`
	Name        string              `json:"name"`
	Brand       string              `json:"brand"`
	Category    string              `json:"category"`
	Description string              `json:"description,omitempty"`
	Variants    []storefrontVariant `json:"variants"`
}

type storefrontVariant struct {
	SKU            string `json:"sku"`
	Barcode        string `json:"barcode,omitempty"`
	Price          string `json:"price"`
	CompareAtPrice string `json:"compare_at_price,omitempty"`
	InStock        bool   `json:"in_stock"`
	Quantity       int    `json:"quantity"`
	OptionLabel    string `json:"option_label,omitempty"`
}

type storefrontPriceUpdate struct {
	SKU            string `json:"sku"`
	Price          string `json:"price"`
	CompareAtPrice string `json:"compare_at_price,omitempty"`
}

type storefrontStockUpdate struct {
	SKU      string `json:"sku"`
	InStock  bool   `json:"in_stock"`
	Quantity int    `json:"quantity"`
}
