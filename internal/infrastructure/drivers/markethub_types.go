package drivers

// markethubCard is one product card in the aggregator's upload batch
type markethubCard struct {
	VendorCode      string               `json:"vendor_code"`
	Title           string               `json:"title"`
	Brand           string               `json:"brand"`
	Categories      string               `json:"categories"`
	Description     string               `json:"description,omitempty"`
	Characteristics []markethubAttribute `json:"characteristics,omitempty"`
	Sizes           []markethubSize      `json:"sizes"`
}

type markethubAttribute struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type markethubSize struct {
	SKU     string `json:"sku"`
	Barcode string `json:"barcode"`
	Label   string `json:"label,omitempty"`
	Price   string `json:"price"`
}

// markethubCardUpload is the body of POST /v2/cards/upload
type markethubCardUpload struct {
	Cards []markethubCard `json:"cards"`
}

// markethubPriceItem is one entry of POST /v2/prices
type markethubPriceItem struct {
	SKU      string `json:"sku"`
	Price    string `json:"price"`
	OldPrice string `json:"old_price,omitempty"`
}

// markethubStockItem is one entry of POST /v2/stocks
type markethubStockItem struct {
	SKU    string `json:"sku"`
	Amount int    `json:"amount"`
}
